package database

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dialsense/dialsense/internal/call"
	"github.com/google/uuid"
)

// Memory keeps calls in process memory.
type Memory struct {
	mu    sync.RWMutex
	calls map[uuid.UUID]*call.Call
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{calls: make(map[uuid.UUID]*call.Call)}
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// CreateCall stores a new call.
func (m *Memory) CreateCall(_ context.Context, c *call.Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calls[c.ID]; ok {
		return errors.New("database: duplicate call id")
	}
	if c.ExternalID != nil && m.byExternal(*c.ExternalID) != nil {
		return errors.New("database: duplicate external id")
	}
	m.calls[c.ID] = c.Clone()
	return nil
}

// GetCall retrieves a call by ID.
func (m *Memory) GetCall(_ context.Context, id uuid.UUID) (*call.Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calls[id]
	if !ok {
		return nil, nil
	}
	return c.Clone(), nil
}

// GetCallByExternalID retrieves a call by its provider call ID.
func (m *Memory) GetCallByExternalID(_ context.Context, externalID string) (*call.Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c := m.byExternal(externalID); c != nil {
		return c.Clone(), nil
	}
	return nil, nil
}

func (m *Memory) byExternal(externalID string) *call.Call {
	for _, c := range m.calls {
		if c.ExternalID != nil && *c.ExternalID == externalID {
			return c
		}
	}
	return nil
}

// UpdateCall writes c back, provided the stored status is still from.
func (m *Memory) UpdateCall(_ context.Context, c *call.Call, from call.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.calls[c.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.Status != from {
		return ErrStaleUpdate
	}
	m.calls[c.ID] = c.Clone()
	return nil
}

func (m *Memory) sorted(match func(*call.Call) bool) []call.Call {
	var out []call.Call
	for _, c := range m.calls {
		if match(c) {
			out = append(out, *c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	return out
}

// ListCalls returns calls matching params, newest first.
func (m *Memory) ListCalls(_ context.Context, params ListCallsParams) ([]call.Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.sorted(params.Matches)
	if params.Offset >= len(all) {
		return nil, nil
	}
	end := min(params.Offset+params.limit(), len(all))
	return all[params.Offset:end], nil
}

// CountCalls returns the number of calls matching params.
func (m *Memory) CountCalls(_ context.Context, params ListCallsParams) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.calls {
		if params.Matches(c) {
			n++
		}
	}
	return n, nil
}

// ListStaleCalls returns non-terminal calls last updated before olderThan.
func (m *Memory) ListStaleCalls(_ context.Context, olderThan time.Time, limit int) ([]call.Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stale := m.sorted(func(c *call.Call) bool {
		return !c.Status.IsTerminal() && c.UpdatedAt.Before(olderThan)
	})
	sort.SliceStable(stale, func(i, j int) bool { return stale[i].UpdatedAt.Before(stale[j].UpdatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}
