package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultSessionTTL = 10 * time.Minute
	defaultMaxPending = 64
	redisKeyPrefix    = "ptguard:login:"
)

// LoginSession is the state carried between Begin and Submit.
type LoginSession struct {
	ID        string            `json:"id"`
	SiteURL   string            `json:"siteUrl"`
	Cookies   map[string]string `json:"cookies"`
	Captcha   string            `json:"captcha"`
	ImageHash string            `json:"imageHash"`
	Hidden    map[string]string `json:"hidden"`
	CreatedAt time.Time         `json:"createdAt"`
}

// SessionStore keeps pending logins. Take removes the session it returns
// and reports ErrLoginExpired when the id is unknown or too old.
type SessionStore interface {
	Put(ctx context.Context, s *LoginSession) error
	Take(ctx context.Context, id string) (*LoginSession, error)
}

// MemoryStore is a bounded in-process SessionStore.
type MemoryStore struct {
	ttl   time.Duration
	limit int
	now   func() time.Time

	mu       sync.Mutex
	sessions map[string]*LoginSession
}

func NewMemoryStore(ttl time.Duration, limit int) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if limit <= 0 {
		limit = defaultMaxPending
	}
	return &MemoryStore{ttl: ttl, limit: limit, now: time.Now, sessions: make(map[string]*LoginSession)}
}

func (m *MemoryStore) Put(_ context.Context, s *LoginSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, cur := range m.sessions {
		if now.Sub(cur.CreatedAt) > m.ttl {
			delete(m.sessions, id)
		}
	}
	for len(m.sessions) >= m.limit {
		var oldest *LoginSession
		for _, cur := range m.sessions {
			if oldest == nil || cur.CreatedAt.Before(oldest.CreatedAt) {
				oldest = cur
			}
		}
		delete(m.sessions, oldest.ID)
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) Take(_ context.Context, id string) (*LoginSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrLoginExpired
	}
	delete(m.sessions, id)
	if m.now().Sub(s.CreatedAt) > m.ttl {
		return nil, ErrLoginExpired
	}
	return s, nil
}

// Len reports how many sessions are held, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// RedisStore shares pending logins between processes. Expiry is left to
// Redis.
type RedisStore struct {
	cl  *redis.Client
	ttl time.Duration
}

func NewRedisStore(cl *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisStore{cl: cl, ttl: ttl}
}

func redisKey(id string) string { return redisKeyPrefix + id }

func (r *RedisStore) Put(ctx context.Context, s *LoginSession) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := r.cl.Set(ctx, redisKey(s.ID), b, r.ttl).Err(); err != nil {
		return fmt.Errorf("store login session: %w", err)
	}
	return nil
}

func (r *RedisStore) Take(ctx context.Context, id string) (*LoginSession, error) {
	b, err := r.cl.GetDel(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrLoginExpired
	}
	if err != nil {
		return nil, fmt.Errorf("load login session: %w", err)
	}
	var s LoginSession
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode login session: %w", err)
	}
	return &s, nil
}
