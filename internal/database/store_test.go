package database

import (
	"context"
	"testing"
	"time"

	"github.com/dialsense/dialsense/internal/amd"
	"github.com/dialsense/dialsense/internal/call"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// callStore is the surface shared by every backend.
type callStore interface {
	CreateCall(ctx context.Context, c *call.Call) error
	GetCall(ctx context.Context, id uuid.UUID) (*call.Call, error)
	GetCallByExternalID(ctx context.Context, externalID string) (*call.Call, error)
	UpdateCall(ctx context.Context, c *call.Call, from call.Status) error
	ListCalls(ctx context.Context, params ListCallsParams) ([]call.Call, error)
	CountCalls(ctx context.Context, params ListCallsParams) (int, error)
	ListStaleCalls(ctx context.Context, olderThan time.Time, limit int) ([]call.Call, error)
}

var (
	_ callStore = (*DB)(nil)
	_ callStore = (*SQLite)(nil)
	_ callStore = (*Memory)(nil)
)

func ptr[T any](v T) *T { return &v }

// base is truncated to microseconds so every backend round-trips it exactly.
var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newCall(user, number string, strategy amd.StrategyID, created time.Time) *call.Call {
	return call.New(user, number, strategy, created)
}

// runStoreContract exercises a backend. user scopes rows so shared databases
// do not interfere.
func runStoreContract(t *testing.T, store callStore) {
	ctx := context.Background()
	user := "user-" + uuid.New().String()[:8]

	t.Run("create and get", func(t *testing.T) {
		c := newCall(user, "+15550000001", amd.MLModel, base)
		require.NoError(t, store.CreateCall(ctx, c))

		got, err := store.GetCall(ctx, c.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, c.ID, got.ID)
		assert.Equal(t, call.StatusInitiated, got.Status)
		assert.Equal(t, amd.MLModel, got.Strategy)
		assert.Nil(t, got.Result)
		assert.Nil(t, got.Confidence)
		assert.True(t, base.Equal(got.CreatedAt))
	})

	t.Run("missing returns nil", func(t *testing.T) {
		got, err := store.GetCall(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = store.GetCallByExternalID(ctx, "CA-missing-"+uuid.New().String())
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("update with status guard", func(t *testing.T) {
		c := newCall(user, "+15550000002", amd.ProviderNative, base.Add(time.Minute))
		require.NoError(t, store.CreateCall(ctx, c))

		ext := "CA" + uuid.New().String()[:12]
		c.ExternalID = &ext
		c.Status = call.StatusCompleted
		c.Result = ptr(amd.Human)
		c.Confidence = ptr(0.91)
		c.DurationSeconds = 45
		c.UpdatedAt = base.Add(2 * time.Minute)
		require.NoError(t, store.UpdateCall(ctx, c, call.StatusInitiated))

		got, err := store.GetCallByExternalID(ctx, ext)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, call.StatusCompleted, got.Status)
		assert.Equal(t, amd.Human, *got.Result)
		assert.InDelta(t, 0.91, *got.Confidence, 1e-9)
		assert.Equal(t, 45, got.DurationSeconds)

		late := got.Clone()
		late.Result = ptr(amd.Machine)
		err = store.UpdateCall(ctx, late, call.StatusAnalyzing)
		assert.ErrorIs(t, err, ErrStaleUpdate)

		err = store.UpdateCall(ctx, newCall(user, "+1", amd.MLModel, base), call.StatusInitiated)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list filters and order", func(t *testing.T) {
		lister := "lister-" + uuid.New().String()[:8]
		a := newCall(lister, "+18007742678", amd.ProviderNative, base.Add(1*time.Hour))
		b := newCall(lister, "+15551112222", amd.LLMBased, base.Add(2*time.Hour))
		c := newCall(lister, "+15553334444", amd.LLMBased, base.Add(3*time.Hour))
		for _, x := range []*call.Call{a, b, c} {
			require.NoError(t, store.CreateCall(ctx, x))
		}
		b.Status = call.StatusCompleted
		b.Result = ptr(amd.Machine)
		b.Confidence = ptr(0.85)
		require.NoError(t, store.UpdateCall(ctx, b, call.StatusInitiated))

		all, err := store.ListCalls(ctx, ListCallsParams{UserID: &lister})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, c.ID, all[0].ID)
		assert.Equal(t, b.ID, all[1].ID)
		assert.Equal(t, a.ID, all[2].ID)

		byStrategy, err := store.ListCalls(ctx, ListCallsParams{UserID: &lister, Strategy: ptr(amd.LLMBased)})
		require.NoError(t, err)
		assert.Len(t, byStrategy, 2)

		unknown, err := store.ListCalls(ctx, ListCallsParams{UserID: &lister, Result: ptr(ResultUnknown)})
		require.NoError(t, err)
		assert.Len(t, unknown, 2)

		machine, err := store.ListCalls(ctx, ListCallsParams{UserID: &lister, Result: ptr("machine")})
		require.NoError(t, err)
		require.Len(t, machine, 1)
		assert.Equal(t, b.ID, machine[0].ID)

		byNumber, err := store.ListCalls(ctx, ListCallsParams{UserID: &lister, Query: ptr("800774")})
		require.NoError(t, err)
		require.Len(t, byNumber, 1)
		assert.Equal(t, a.ID, byNumber[0].ID)

		window, err := store.ListCalls(ctx, ListCallsParams{
			UserID: &lister,
			From:   ptr(base.Add(90 * time.Minute)),
			To:     ptr(base.Add(3 * time.Hour)),
		})
		require.NoError(t, err)
		require.Len(t, window, 1)
		assert.Equal(t, b.ID, window[0].ID)

		page, err := store.ListCalls(ctx, ListCallsParams{UserID: &lister, Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, b.ID, page[0].ID)

		n, err := store.CountCalls(ctx, ListCallsParams{UserID: &lister, Status: ptr(call.StatusInitiated)})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("keyset cursor", func(t *testing.T) {
		pager := "pager-" + uuid.New().String()[:8]
		for i, at := range []time.Duration{time.Hour, 2 * time.Hour, 2 * time.Hour, 3 * time.Hour, 3 * time.Hour} {
			c := newCall(pager, "+1555000100"+string(rune('0'+i)), amd.MLModel, base.Add(at))
			require.NoError(t, store.CreateCall(ctx, c))
		}
		want, err := store.ListCalls(ctx, ListCallsParams{UserID: &pager})
		require.NoError(t, err)
		require.Len(t, want, 5)

		params := ListCallsParams{UserID: &pager, Limit: 2}
		var got []uuid.UUID
		for pages := 0; ; pages++ {
			require.Less(t, pages, 5)
			page, err := store.ListCalls(ctx, params)
			require.NoError(t, err)
			for _, c := range page {
				got = append(got, c.ID)
			}
			if len(page) < params.Limit {
				break
			}
			if pages == 0 {
				newer := newCall(pager, "+15550009999", amd.MLModel, base.Add(4*time.Hour))
				require.NoError(t, store.CreateCall(ctx, newer))
			}
			params.Before = CursorAt(&page[len(page)-1])
		}

		require.Len(t, got, 5)
		for i := range want {
			assert.Equal(t, want[i].ID, got[i], "position %d", i)
		}

		rest, err := store.CountCalls(ctx, ListCallsParams{UserID: &pager, Before: CursorAt(&want[1])})
		require.NoError(t, err)
		assert.Equal(t, 3, rest)
	})

	t.Run("stale calls", func(t *testing.T) {
		old := newCall(user, "+15559990000", amd.SIPEnhanced, time.Now().Add(-time.Hour).UTC().Truncate(time.Microsecond))
		require.NoError(t, store.CreateCall(ctx, old))

		stale, err := store.ListStaleCalls(ctx, time.Now().Add(-30*time.Minute), 1000)
		require.NoError(t, err)
		var found bool
		for _, s := range stale {
			assert.False(t, s.Status.IsTerminal())
			if s.ID == old.ID {
				found = true
			}
		}
		assert.True(t, found)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemory())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c := newCall("u", "+15550000000", amd.MLModel, base)
	require.NoError(t, m.CreateCall(ctx, c))

	got, err := m.GetCall(ctx, c.ID)
	require.NoError(t, err)
	got.Status = call.StatusFailed

	again, err := m.GetCall(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusInitiated, again.Status)
}

func TestListCallsParams_WhereClause(t *testing.T) {
	p := ListCallsParams{
		UserID: ptr("u1"),
		Result: ptr(ResultUnknown),
		Query:  ptr("50%"),
	}

	where, args := p.whereClause(pgPlaceholder, pgTime)

	assert.Equal(t, ` WHERE user_id = $1 AND result IS NULL AND target_number LIKE $2 ESCAPE '\'`, where)
	assert.Equal(t, []any{"u1", `%50\%%`}, args)

	where, args = ListCallsParams{}.whereClause(sqlitePlaceholder, sqliteTime)
	assert.Empty(t, where)
	assert.Empty(t, args)

	id := uuid.New()
	at := base.Add(time.Minute)
	where, args = ListCallsParams{UserID: ptr("u1"), Before: &Cursor{CreatedAt: at, ID: id}}.whereClause(pgPlaceholder, pgTime)
	assert.Equal(t, ` WHERE user_id = $1 AND (created_at < $2 OR (created_at = $3 AND id < $4))`, where)
	assert.Equal(t, []any{"u1", at, at, id}, args)
}

func TestCursor_Admits(t *testing.T) {
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("ffffffff-0000-0000-0000-000000000001")
	k := Cursor{CreatedAt: base, ID: high}

	tests := []struct {
		name string
		c    call.Call
		want bool
	}{
		{"older", call.Call{ID: high, CreatedAt: base.Add(-time.Second)}, true},
		{"newer", call.Call{ID: low, CreatedAt: base.Add(time.Second)}, false},
		{"same time lower id", call.Call{ID: low, CreatedAt: base}, true},
		{"cursor row itself", call.Call{ID: high, CreatedAt: base}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, k.admits(&tt.c))
		})
	}
}
