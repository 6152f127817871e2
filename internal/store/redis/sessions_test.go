package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardlabs/governd/internal/memory"
)

func newTestStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := New(context.Background(), Config{Addr: mr.Addr(), TTL: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestNew_RequiresAddr(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestNew_UnreachableServer(t *testing.T) {
	_, err := New(context.Background(), Config{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
	})
	assert.Error(t, err)
}

func TestSessionStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	s := memory.NewSessionContext("sess-1", "user-1", "tenant-1")
	s.Append(memory.Message{
		Role:      memory.RoleUser,
		Content:   "where does revenue_q3 come from",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	s.TrackEntity(memory.EntityReference{
		EntityType:    "report",
		ID:            "rpt-1",
		DisplayName:   "Q3 Revenue",
		LastMentioned: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	s.Summary = "earlier discussion about lineage"

	require.NoError(t, store.Set(ctx, s))
	got, err := store.Get(ctx, "sess-1")

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.SessionID, got.SessionID)
	assert.Equal(t, s.TenantID, got.TenantID)
	assert.Equal(t, s.Messages, got.Messages)
	assert.Equal(t, s.Entities, got.Entities)
	assert.Equal(t, s.Summary, got.Summary)
}

func TestSessionStore_GetUnknownReturnsNil(t *testing.T) {
	store, _ := newTestStore(t)

	got, err := store.Get(context.Background(), "never-stored")

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionStore_SetRejectsUnkeyed(t *testing.T) {
	store, _ := newTestStore(t)

	assert.Error(t, store.Set(context.Background(), nil))
	assert.Error(t, store.Set(context.Background(), &memory.SessionContext{}))
}

func TestSessionStore_Clear(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.Set(ctx, memory.NewSessionContext("sess-1", "user-1", "tenant-1")))
	require.NoError(t, store.Clear(ctx, "sess-1"))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Clear(ctx, "never-stored"))
}

func TestSessionStore_TTLExpires(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store, err := New(ctx, Config{Addr: mr.Addr(), TTL: time.Minute})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set(ctx, memory.NewSessionContext("sess-1", "user-1", "tenant-1")))
	mr.FastForward(2 * time.Minute)

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionStore_WriteResetsTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store, err := New(ctx, Config{Addr: mr.Addr(), TTL: time.Minute})
	require.NoError(t, err)
	defer store.Close()

	s := memory.NewSessionContext("sess-1", "user-1", "tenant-1")
	require.NoError(t, store.Set(ctx, s))
	mr.FastForward(45 * time.Second)
	require.NoError(t, store.Set(ctx, s))
	mr.FastForward(45 * time.Second)

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.NotNil(t, got, "rewrite should have reset the expiry")
}

func TestSessionStore_KeyPrefix(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store, err := New(ctx, Config{Addr: mr.Addr()})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set(ctx, memory.NewSessionContext("sess-1", "user-1", "tenant-1")))

	assert.True(t, mr.Exists("governd:session:sess-1"))
}

func TestSessionStore_Ping(t *testing.T) {
	store, mr := newTestStore(t)

	assert.NoError(t, store.Ping(context.Background()))

	mr.Close()
	assert.Error(t, store.Ping(context.Background()))
}
