package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type postgresStore struct {
	db     *sql.DB
	hasher hasher
}

// NewPostgresStore expects the users table from db_client.EnsureSchema.
func NewPostgresStore(db *sql.DB) IUserService {
	return &postgresStore{db: db, hasher: hasher{cost: defaultHashCost}}
}

func (s *postgresStore) Register(ctx context.Context, cred Credentials) (*UserDTO, error) {
	name := normalizeUsername(cred.Username)

	hashed, err := s.hasher.hash(cred.Password)
	if err != nil {
		return nil, err
	}

	const ins = `
	  INSERT INTO users (id, username, password_hash, register_ip)
	       VALUES ($1, $2, $3, $4)
	  ON CONFLICT (username) DO NOTHING
	  RETURNING created_at`

	dto := &UserDTO{ID: uuid.NewString(), Username: name}
	err = s.db.QueryRowContext(ctx, ins, dto.ID, name, hashed, remoteHost(cred.RemoteAddr)).Scan(&dto.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return dto, nil
}

func (s *postgresStore) Authenticate(ctx context.Context, cred Credentials) (*UserDTO, error) {
	name := normalizeUsername(cred.Username)

	const q = `SELECT id, password_hash, created_at, login_count
	             FROM users WHERE username = $1`

	var (
		dto    = &UserDTO{Username: name}
		hashed string
	)
	err := s.db.QueryRowContext(ctx, q, name).Scan(&dto.ID, &hashed, &dto.CreatedAt, &dto.LoginCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	if !s.hasher.verify(cred.Password, hashed) {
		return nil, ErrBadCredentials
	}

	const upd = `
	  UPDATE users
	     SET last_login_at = now(),
	         login_count   = login_count + 1,
	         last_login_ip = $2
	   WHERE id = $1
	  RETURNING last_login_at`

	if err := s.db.QueryRowContext(ctx, upd, dto.ID, remoteHost(cred.RemoteAddr)).Scan(&dto.LastLoginAt); err != nil {
		// login stats are best effort
		zap.L().Warn("user.login_stats", zap.String("user", dto.ID), zap.Error(err))
	} else {
		dto.LoginCount++
	}
	return dto, nil
}
