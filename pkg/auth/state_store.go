package auth

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultStateTTL bounds how long a user has to finish the consent screen.
const DefaultStateTTL = 10 * time.Minute

// StateStore issues single-use OAuth state values for the redirect callback.
type StateStore interface {
	Generate() string
	// Validate returns true and forgets state if it was issued and has not expired.
	Validate(state string) bool
}

type stateStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	states map[string]time.Time
}

// NewStateStore creates an in-memory state store.
func NewStateStore(ttl time.Duration) StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &stateStore{
		ttl:    ttl,
		now:    time.Now,
		states: make(map[string]time.Time),
	}
}

var _ StateStore = (*stateStore)(nil)

func (s *stateStore) Generate() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("failed to generate random state: " + err.Error())
	}
	state := hex.EncodeToString(b)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, exp := range s.states {
		if !exp.After(now) {
			delete(s.states, k)
		}
	}
	s.states[state] = now.Add(s.ttl)
	return state
}

func (s *stateStore) Validate(state string) bool {
	if state == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.states[state]
	if !ok {
		return false
	}
	delete(s.states, state)
	return exp.After(s.now())
}
