package kvstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store. Each transaction holds the store mutex from
// Begin until Commit or Rollback, so transactions never interleave.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Begin(ctx context.Context) (Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	return &memoryTxn{
		store:   m,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}, nil
}

// Len reports the number of committed keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

type memoryTxn struct {
	store   *Memory
	writes  map[string][]byte
	deletes map[string]struct{}
	done    bool
}

func (t *memoryTxn) Get(_ context.Context, key string) ([]byte, error) {
	if t.done {
		return nil, ErrTxDone
	}
	if _, ok := t.deletes[key]; ok {
		return nil, ErrNotFound
	}
	if v, ok := t.writes[key]; ok {
		return clone(v), nil
	}
	if v, ok := t.store.data[key]; ok {
		return clone(v), nil
	}
	return nil, ErrNotFound
}

func (t *memoryTxn) Set(_ context.Context, key string, value []byte) error {
	if t.done {
		return ErrTxDone
	}
	delete(t.deletes, key)
	t.writes[key] = clone(value)
	return nil
}

func (t *memoryTxn) Has(ctx context.Context, key string) (bool, error) {
	_, err := t.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (t *memoryTxn) Delete(_ context.Context, key string) error {
	if t.done {
		return ErrTxDone
	}
	delete(t.writes, key)
	t.deletes[key] = struct{}{}
	return nil
}

func (t *memoryTxn) Scan(_ context.Context, prefix string) ([]Entry, error) {
	if t.done {
		return nil, ErrTxDone
	}
	merged := make(map[string][]byte)
	for k, v := range t.store.data {
		if strings.HasPrefix(k, prefix) {
			merged[k] = v
		}
	}
	for k, v := range t.writes {
		if strings.HasPrefix(k, prefix) {
			merged[k] = v
		}
	}
	for k := range t.deletes {
		delete(merged, k)
	}

	out := make([]Entry, 0, len(merged))
	for k, v := range merged {
		out = append(out, Entry{Key: k, Value: clone(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (t *memoryTxn) Commit(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	for k := range t.deletes {
		delete(t.store.data, k)
	}
	for k, v := range t.writes {
		t.store.data[k] = v
	}
	t.finish()
	return nil
}

func (t *memoryTxn) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *memoryTxn) finish() {
	t.done = true
	t.writes = nil
	t.deletes = nil
	t.store.mu.Unlock()
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
