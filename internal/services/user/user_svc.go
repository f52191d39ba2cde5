package user

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type UserDTO struct {
	ID          string    `json:"userid"`
	Username    string    `json:"username"`
	CreatedAt   time.Time `json:"-"`
	LastLoginAt time.Time `json:"-"`
	LoginCount  int       `json:"-"`
}

// Credentials is the payload of both "login" and "register".
type Credentials struct {
	Username   string `json:"username" validate:"required,max=64"`
	Password   string `json:"password" validate:"required,max=72"`
	RemoteAddr string `json:"-"`
}

// MaxPasswordBytes is bcrypt's input limit. The validator's max counts
// runes, so multi-byte passwords are checked against this separately.
const MaxPasswordBytes = 72

var (
	ErrBadCredentials  = errors.New("bad credentials")
	ErrUsernameTaken   = errors.New("username taken")
	ErrPasswordTooLong = bcrypt.ErrPasswordTooLong
)

// IUserService is the user directory the session authenticates against.
type IUserService interface {
	Register(ctx context.Context, cred Credentials) (*UserDTO, error)
	Authenticate(ctx context.Context, cred Credentials) (*UserDTO, error)
}

const defaultHashCost = 10

type hasher struct{ cost int }

func (h hasher) hash(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h hasher) verify(password, hashed string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil
}

func normalizeUsername(name string) string { return strings.TrimSpace(name) }

// remoteHost strips the port so stores keep only the address.
func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
