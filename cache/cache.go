// Package cache keeps short-lived API state outside the dispute store:
// idempotency records for retried POST requests.
package cache

import (
	"context"
	"sync"
	"time"
)

// Response is a recorded HTTP response. A reserved key holds a zero
// Response until the first request finishes and Done is set.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
	Done        bool   `json:"done"`
}

// Memory is an in-process idempotency store for single-replica deployments
// and tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	resp      Response
	expiresAt time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// Reserve claims key for ttl. It reports false when the key is already held.
func (m *Memory) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.entries[key] = memoryEntry{expiresAt: m.now().Add(ttl)}
	return true, nil
}

func (m *Memory) Load(_ context.Context, key string) (Response, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	return e.resp, ok, nil
}

// Save stores the finished response under key, replacing the reservation.
func (m *Memory) Save(_ context.Context, key string, resp Response, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp.Done = true
	m.entries[key] = memoryEntry{resp: resp, expiresAt: m.now().Add(ttl)}
	return nil
}

// Release drops key so the request can be retried.
func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// live returns the entry for key, evicting it when expired. Callers hold mu.
func (m *Memory) live(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}
