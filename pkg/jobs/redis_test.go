package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, time.Hour), mr
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedis(t)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	first := NewJob("first", "", nil, base)
	second := NewJob("second", "", nil, base.Add(time.Minute))
	require.NoError(t, store.Create(ctx, first))
	require.NoError(t, store.Create(ctx, second))

	assert.True(t, mr.Exists(redisKey(first.ID)))
	assert.Equal(t, time.Hour, mr.TTL(redisKey(first.ID)))

	got, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.TextPrompt)
	assert.True(t, base.Equal(got.CreatedAt))

	require.NoError(t, got.Transition(StatusProcessing, base.Add(2*time.Minute)))
	got.Step = "story_generation"
	require.NoError(t, store.Update(ctx, got))
	got, err = store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Equal(t, "story_generation", got.Step)

	list, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	list, err = store.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, second.ID, list[0].ID)
}

func TestRedisStoreMissing(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedis(t)

	_, err := store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.Update(ctx, NewJob("ghost", "", nil, time.Now()))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreListFillsLimitPastExpired(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedis(t)

	base := time.Now()
	oldest := NewJob("oldest", "", nil, base)
	middle := NewJob("middle", "", nil, base.Add(time.Second))
	newest := NewJob("newest", "", nil, base.Add(2*time.Second))
	for _, j := range []*Job{oldest, middle, newest} {
		require.NoError(t, store.Create(ctx, j))
	}
	mr.Del(redisKey(newest.ID))

	list, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, middle.ID, list[0].ID)
	assert.Equal(t, oldest.ID, list[1].ID)

	members, err := mr.ZMembers(redisIndexKey)
	require.NoError(t, err)
	assert.NotContains(t, members, newest.ID.String())
	assert.Len(t, members, 2)
}

func TestRedisStoreListPrunesExpired(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedis(t)

	kept := NewJob("kept", "", nil, time.Now())
	gone := NewJob("gone", "", nil, time.Now().Add(time.Second))
	require.NoError(t, store.Create(ctx, kept))
	require.NoError(t, store.Create(ctx, gone))
	mr.Del(redisKey(gone.ID))

	list, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, kept.ID, list[0].ID)

	members, err := mr.ZMembers(redisIndexKey)
	require.NoError(t, err)
	assert.Equal(t, []string{kept.ID.String()}, members)
}
