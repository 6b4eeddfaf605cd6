package store

import (
	"context"
	"sync"
	"time"

	appstore "storefront/internal/store"
)

// アクセストークンの短命ストア（メモリのみ）。
// プロセスが落ちれば消える。リフレッシュトークンから復帰する前提。
type AccessTokenMemoryStore struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewAccessTokenMemoryStore() *AccessTokenMemoryStore {
	return &AccessTokenMemoryStore{}
}

func (s *AccessTokenMemoryStore) Save(_ context.Context, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
	s.expiresAt = expiresAt
	return nil
}

func (s *AccessTokenMemoryStore) Load(_ context.Context) (string, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == "" {
		return "", time.Time{}, appstore.ErrNotFound
	}
	return s.token, s.expiresAt, nil
}

func (s *AccessTokenMemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	s.expiresAt = time.Time{}
	return nil
}
