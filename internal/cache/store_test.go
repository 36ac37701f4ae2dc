package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, nil), mr
}

func TestStoreSetGetRoundTrip(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	hr := 71.0
	snap := domain.HealthSnapshot{UserID: "u1", Current: domain.Vitals{HeartRate: &hr}}
	require.NoError(t, store.Set(ctx, UserContextKey("u1"), snap, UserContextTTL))

	var got domain.HealthSnapshot
	hit, err := store.Get(ctx, UserContextKey("u1"), &got)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, 71.0, *got.Current.HeartRate)
	assert.Equal(t, UserContextTTL, mr.TTL("user_context:u1"))
}

func TestStoreMissAndExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	var dst map[string]string
	hit, err := store.Get(ctx, "missing", &dst)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, store.Set(ctx, HealthDataKey("u1", "snapshot"), map[string]string{"a": "b"}, HealthDataTTL))
	mr.FastForward(HealthDataTTL + time.Second)
	hit, err = store.Get(ctx, HealthDataKey("u1", "snapshot"), &dst)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestStoreSetOverwritesAndRefreshesTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, UserContextKey("u1"), map[string]int{"v": 1}, time.Minute))
	require.NoError(t, store.Set(ctx, UserContextKey("u1"), map[string]int{"v": 2}, UserContextTTL))

	var got map[string]int
	hit, err := store.Get(ctx, UserContextKey("u1"), &got)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, 2, got["v"])
	assert.Equal(t, UserContextTTL, mr.TTL(UserContextKey("u1")))
}

func TestStoreRequiresTTL(t *testing.T) {
	store, _ := newTestStore(t)
	assert.Error(t, store.Set(context.Background(), "k", 1, 0))
	_, err := store.SetIfAbsent(context.Background(), "k", 1, 0)
	assert.Error(t, err)
}

func TestStoreSetIfAbsentNeverOverwrites(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	written, err := store.SetIfAbsent(ctx, UserContextKey("u1"), map[string]int{"v": 1}, UserContextTTL)
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, UserContextTTL, mr.TTL(UserContextKey("u1")))

	written, err = store.SetIfAbsent(ctx, UserContextKey("u1"), map[string]int{"v": 2}, UserContextTTL)
	require.NoError(t, err)
	assert.False(t, written)

	var got map[string]int
	hit, err := store.Get(ctx, UserContextKey("u1"), &got)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, 1, got["v"])
}

func TestStoreInvalidate(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, ChatSessionKey("s1"), map[string]string{"status": "completed"}, ChatSessionTTL))
	require.NoError(t, store.Invalidate(ctx, ChatSessionKey("s1")))
	assert.False(t, mr.Exists("chat_session:s1"))
	require.NoError(t, store.Invalidate(ctx, ChatSessionKey("s1")))
}

func TestStoreSurfacesRedisErrors(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	var dst map[string]string
	_, err := store.Get(context.Background(), "k", &dst)
	assert.Error(t, err)
}

func TestStoreDecodeError(t *testing.T) {
	store, mr := newTestStore(t)
	require.NoError(t, mr.Set("k", "not json"))

	var dst map[string]string
	hit, err := store.Get(context.Background(), "k", &dst)
	assert.Error(t, err)
	assert.False(t, hit)
}
