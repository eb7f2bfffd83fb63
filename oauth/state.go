package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStateTTL bounds how long a user has to finish the authorize step.
const DefaultStateTTL = 10 * time.Minute

// Maximum number of pending states kept in memory.
const maxMemoryStates = 1000

// ErrTooManyStates is returned when the memory store is full.
var ErrTooManyStates = errors.New("too many pending oauth states")

// StateStore remembers the PKCE verifier issued with each state value until
// the callback consumes it. Consume is single-use.
type StateStore interface {
	Save(ctx context.Context, state, verifier string, ttl time.Duration) error
	Consume(ctx context.Context, state string) (verifier string, ok bool, err error)
}

// NewState returns a random hex state value.
func NewState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("state gen: %w", err)
	}
	return hex.EncodeToString(b), nil
}

type memoryState struct {
	verifier string
	expires  time.Time
}

// MemoryStateStore keeps states in process memory. Suitable for a single
// instance.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]memoryState
	now    func() time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]memoryState), now: time.Now}
}

func (m *MemoryStateStore) Save(_ context.Context, state, verifier string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if len(m.states) >= maxMemoryStates {
		for k, s := range m.states {
			if now.After(s.expires) {
				delete(m.states, k)
			}
		}
		if len(m.states) >= maxMemoryStates {
			return ErrTooManyStates
		}
	}
	m.states[state] = memoryState{verifier: verifier, expires: now.Add(ttl)}
	return nil
}

func (m *MemoryStateStore) Consume(_ context.Context, state string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[state]
	if !ok {
		return "", false, nil
	}
	delete(m.states, state)
	if m.now().After(s.expires) {
		return "", false, nil
	}
	return s.verifier, true, nil
}

// RedisStateStore shares states across instances behind a load balancer.
type RedisStateStore struct {
	Client *redis.Client
	Prefix string
}

func (r *RedisStateStore) key(state string) string {
	p := r.Prefix
	if p == "" {
		p = "faceit-rehost:oauth-state:"
	}
	return p + state
}

func (r *RedisStateStore) Save(ctx context.Context, state, verifier string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return r.Client.Set(ctx, r.key(state), verifier, ttl).Err()
}

func (r *RedisStateStore) Consume(ctx context.Context, state string) (string, bool, error) {
	v, err := r.Client.GetDel(ctx, r.key(state)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
