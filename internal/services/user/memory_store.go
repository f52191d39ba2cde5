package user

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryRecord struct {
	dto          UserDTO
	passwordHash string
	lastLoginIP  string
}

type memoryStore struct {
	mu     sync.Mutex
	byName map[string]*memoryRecord
	hasher hasher
}

// NewMemoryStore keeps users in process memory; nothing survives a restart.
func NewMemoryStore() IUserService {
	return newMemoryStore(defaultHashCost)
}

func newMemoryStore(cost int) *memoryStore {
	return &memoryStore{byName: make(map[string]*memoryRecord), hasher: hasher{cost: cost}}
}

func (s *memoryStore) Register(ctx context.Context, cred Credentials) (*UserDTO, error) {
	name := normalizeUsername(cred.Username)

	s.mu.Lock()
	_, exists := s.byName[name]
	s.mu.Unlock()
	if exists {
		return nil, ErrUsernameTaken
	}

	// hash outside the lock
	hashed, err := s.hasher.hash(cred.Password)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[name]; exists {
		return nil, ErrUsernameTaken
	}
	rec := &memoryRecord{
		dto: UserDTO{
			ID:        uuid.NewString(),
			Username:  name,
			CreatedAt: time.Now().UTC(),
		},
		passwordHash: hashed,
	}
	s.byName[name] = rec
	dto := rec.dto
	return &dto, nil
}

func (s *memoryStore) Authenticate(ctx context.Context, cred Credentials) (*UserDTO, error) {
	name := normalizeUsername(cred.Username)

	s.mu.Lock()
	rec, ok := s.byName[name]
	var hashed string
	if ok {
		hashed = rec.passwordHash
	}
	s.mu.Unlock()

	if !ok || !s.hasher.verify(cred.Password, hashed) {
		return nil, ErrBadCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec.dto.LastLoginAt = time.Now().UTC()
	rec.dto.LoginCount++
	rec.lastLoginIP = remoteHost(cred.RemoteAddr)
	dto := rec.dto
	return &dto, nil
}
