package oauth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// stateTTL bounds how long an issued state is redeemable. A callback
// arriving later than this is treated as an auth failure.
const stateTTL = 10 * time.Minute

// stateStore tracks issued OAuth states. Each state redeems at most once.
type stateStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func newStateStore(ttl time.Duration) *stateStore {
	if ttl <= 0 {
		ttl = stateTTL
	}
	return &stateStore{entries: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

// Issue creates and records a fresh random state.
func (s *stateStore) Issue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	state := hex.EncodeToString(buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, issued := range s.entries {
		if now.Sub(issued) > s.ttl {
			delete(s.entries, k)
		}
	}
	s.entries[state] = now
	return state, nil
}

// Consume redeems a state, reporting whether it was issued and still fresh.
// A consumed state cannot be redeemed again.
func (s *stateStore) Consume(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	issued, ok := s.entries[state]
	if !ok {
		return false
	}
	delete(s.entries, state)
	return s.now().Sub(issued) <= s.ttl
}
