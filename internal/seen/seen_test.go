package seen

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SocialSync/internal/model"
)

// countingBackend 记录后端调用次数
type countingBackend struct {
	marks   map[string]time.Time
	hasHits int
	err     error
}

func newCountingBackend() *countingBackend {
	return &countingBackend{marks: map[string]time.Time{}}
}

func (b *countingBackend) HasSeen(_ context.Context, p model.PlatformType, id string) (bool, error) {
	b.hasHits++
	if b.err != nil {
		return false, b.err
	}
	_, ok := b.marks[model.RecordKey(p, id)]
	return ok, nil
}

func (b *countingBackend) MarkSeen(_ context.Context, p model.PlatformType, id string, at time.Time) error {
	if b.err != nil {
		return b.err
	}
	if _, ok := b.marks[model.RecordKey(p, id)]; !ok {
		b.marks[model.RecordKey(p, id)] = at
	}
	return nil
}

func (b *countingBackend) PruneSeenBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for k, at := range b.marks {
		if at.Before(cutoff) {
			delete(b.marks, k)
			n++
		}
	}
	return n, nil
}

func TestSetFallsThroughToBackend(t *testing.T) {
	ctx := context.Background()
	backend := newCountingBackend()
	backend.marks["xhs:old"] = time.Unix(100, 0)
	s := New(backend)

	ok, err := s.Has(ctx, model.PlatformXHS, "old")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, backend.hasHits)

	// 回填后不再访问后端
	ok, err = s.Has(ctx, model.PlatformXHS, "old")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, backend.hasHits)

	ok, err = s.Has(ctx, model.PlatformXHS, "new")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Add(ctx, model.PlatformXHS, "new", time.Unix(200, 0)))
	ok, err = s.Has(ctx, model.PlatformXHS, "new")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Unix(200, 0), backend.marks["xhs:new"])
}

func TestSetAddFailsWhenBackendFails(t *testing.T) {
	backend := newCountingBackend()
	backend.err = errors.New("down")
	s := New(backend)

	assert.Error(t, s.Add(context.Background(), model.PlatformXHS, "n1", time.Now()))
	assert.Equal(t, 0, s.Len())
}

func TestSetPrune(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	require.NoError(t, s.Add(ctx, model.PlatformXHS, "a", time.Unix(100, 0)))
	require.NoError(t, s.Add(ctx, model.PlatformXHS, "a", time.Unix(500, 0)))
	require.NoError(t, s.Add(ctx, model.PlatformXHS, "b", time.Unix(300, 0)))

	n, err := s.PruneBefore(ctx, time.Unix(200, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ok, _ := s.Has(ctx, model.PlatformXHS, "a")
	assert.False(t, ok)
	ok, _ = s.Has(ctx, model.PlatformXHS, "b")
	assert.True(t, ok)
}

func TestRedisBackend(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b := NewRedisBackend(client, "test")
	require.NoError(t, b.MarkSeen(ctx, model.PlatformXHS, "n1", time.Unix(1000, 0)))
	require.NoError(t, b.MarkSeen(ctx, model.PlatformXHS, "n1", time.Unix(5000, 0)))
	require.NoError(t, b.MarkSeen(ctx, model.PlatformDouyin, "v1", time.Unix(2000, 0)))

	score, err := client.ZScore(ctx, "test:seen:xhs", "n1").Result()
	require.NoError(t, err)
	assert.Equal(t, float64(1000), score)

	ok, err := b.HasSeen(ctx, model.PlatformXHS, "n1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = b.HasSeen(ctx, model.PlatformXHS, "v1")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := b.PruneSeenBefore(ctx, time.Unix(1500, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	ok, err = b.HasSeen(ctx, model.PlatformDouyin, "v1")
	require.NoError(t, err)
	assert.True(t, ok)

	s := New(b)
	ok, err = s.Has(ctx, model.PlatformDouyin, "v1")
	require.NoError(t, err)
	assert.True(t, ok)
}
