package profile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps preferences in process and serializes updates with a
// mutex.
type MemoryStore struct {
	policy Policy
	now    func() time.Time

	mu    sync.RWMutex
	prefs map[string]Preference
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(policy Policy) (*MemoryStore, error) {
	if err := policy.validate(); err != nil {
		return nil, err
	}
	return &MemoryStore{policy: policy, now: time.Now, prefs: make(map[string]Preference)}, nil
}

func (m *MemoryStore) Get(ctx context.Context, userID string) (Preference, bool, error) {
	if err := ctx.Err(); err != nil {
		return Preference{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prefs[userID]
	if !ok {
		return Preference{}, false, nil
	}
	p.Vector = append([]float32(nil), p.Vector...)
	return p, true, nil
}

func (m *MemoryStore) Update(ctx context.Context, userID string, signal []float32, strength float64) (Preference, error) {
	if strings.TrimSpace(userID) == "" {
		return Preference{}, fmt.Errorf("user id is required")
	}
	if err := m.policy.CheckSignal(signal); err != nil {
		return Preference{}, err
	}
	if err := ctx.Err(); err != nil {
		return Preference{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.prefs[userID]
	if m.policy.Alpha(strength) == 0 {
		return cur, nil
	}
	var old []float32
	if ok {
		old = cur.Vector
	}
	next := Preference{
		UserID:    userID,
		Vector:    m.policy.Next(old, signal, strength),
		UpdatedAt: m.now().UTC(),
		Version:   cur.Version + 1,
	}
	m.prefs[userID] = next
	next.Vector = append([]float32(nil), next.Vector...)
	return next, nil
}
