package journal

import (
	"context"
	"testing"
	"time"

	adaptq "github.com/UniQw/adaptq-go"
	ikeys "github.com/UniQw/adaptq-go/internal/keys"
	mrd "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newMini(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	s := mrd.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return rdb, func() { _ = rdb.Close(); s.Close() }
}

func TestRedisJournal_RecordAndList(t *testing.T) {
	rdb, done := newMini(t)
	defer done()
	j := NewRedisJournal(rdb)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, &Record{ID: "s1", Queue: "images", State: adaptq.StateSucceeded, Result: []byte(`"url"`)}))
	require.NoError(t, j.Record(ctx, &Record{ID: "f1", Queue: "images", State: adaptq.StateFailed, Kind: adaptq.KindAuthentication, Error: "bad key"}))
	require.NoError(t, j.Record(ctx, &Record{ID: "f2", Queue: "images", State: adaptq.StateFailed, Progress: 150}))
	require.NoError(t, j.Record(ctx, &Record{ID: "c1", Queue: "images", State: adaptq.StateCancelled}))

	succeeded, err := j.List(ctx, "images", adaptq.StateSucceeded, nil)
	require.NoError(t, err)
	require.Len(t, succeeded, 1)
	require.Equal(t, "s1", succeeded[0].ID)
	require.NotZero(t, succeeded[0].CompletedAt)

	failed, err := j.List(ctx, "images", adaptq.StateFailed, nil)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	require.Equal(t, "f2", failed[0].ID, "newest first")
	require.Equal(t, 100, failed[0].Progress, "progress is clamped")

	auth, err := j.List(ctx, "images", adaptq.StateFailed, func(r *Record) bool { return r.Kind == adaptq.KindAuthentication })
	require.NoError(t, err)
	require.Len(t, auth, 1)

	cancelled, err := j.List(ctx, "images", adaptq.StateCancelled, nil)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)

	empty, err := j.List(ctx, "other", adaptq.StateFailed, nil)
	require.NoError(t, err)
	require.Empty(t, empty)

	_, err = j.List(ctx, "images", adaptq.StateActive, nil)
	require.ErrorIs(t, err, adaptq.ErrUnknownState)

	queues, err := rdb.SMembers(ctx, ikeys.Queues()).Result()
	require.NoError(t, err)
	require.Equal(t, []string{"images"}, queues)
}

func TestRedisJournal_RejectsNonTerminal(t *testing.T) {
	rdb, done := newMini(t)
	defer done()
	j := NewRedisJournal(rdb)
	err := j.Record(context.Background(), &Record{ID: "x", Queue: "q", State: adaptq.StateActive})
	require.ErrorIs(t, err, ErrNotTerminal)
}

func TestRedisJournal_Retention(t *testing.T) {
	rdb, done := newMini(t)
	defer done()
	j := NewRedisJournal(rdb)
	ctx := context.Background()
	k := ikeys.For("q")

	// zero retention: succeeded not stored
	require.NoError(t, j.Record(ctx, &Record{ID: "s0", Queue: "q", State: adaptq.StateSucceeded}, Retention(0)))
	zc, _ := rdb.ZCard(ctx, k.Succeeded).Result()
	require.Zero(t, zc)

	// zero error retention: failed dropped
	require.NoError(t, j.Record(ctx, &Record{ID: "f0", Queue: "q", State: adaptq.StateFailed}, RetentionError(0)))
	lc, _ := rdb.LLen(ctx, k.Failed).Result()
	require.Zero(t, lc)

	// default error retention: kept forever, not indexed for expiry
	require.NoError(t, j.Record(ctx, &Record{ID: "f1", Queue: "q", State: adaptq.StateFailed}))
	ec, _ := rdb.ZCard(ctx, k.FailedExpiry).Result()
	require.Zero(t, ec)

	// finite error retention is indexed
	require.NoError(t, j.Record(ctx, &Record{ID: "f2", Queue: "q", State: adaptq.StateFailed}, RetentionError(time.Minute)))
	ec, _ = rdb.ZCard(ctx, k.FailedExpiry).Result()
	require.EqualValues(t, 1, ec)
}

func TestRedisJournal_Purge(t *testing.T) {
	rdb, done := newMini(t)
	defer done()
	j := NewRedisJournal(rdb)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour).UnixMilli()

	require.NoError(t, j.Record(ctx, &Record{ID: "old-s", Queue: "q", State: adaptq.StateSucceeded, CompletedAt: past}, Retention(time.Second)))
	require.NoError(t, j.Record(ctx, &Record{ID: "new-s", Queue: "q", State: adaptq.StateSucceeded}, Retention(time.Hour)))
	require.NoError(t, j.Record(ctx, &Record{ID: "old-f", Queue: "q", State: adaptq.StateFailed, CompletedAt: past}, RetentionError(time.Second)))
	require.NoError(t, j.Record(ctx, &Record{ID: "old-c", Queue: "q2", State: adaptq.StateCancelled, CompletedAt: past}, RetentionError(time.Second)))
	require.NoError(t, j.Record(ctx, &Record{ID: "keep-f", Queue: "q", State: adaptq.StateFailed, CompletedAt: past}))

	// expired succeeded records are hidden before the purge runs
	s, err := j.List(ctx, "q", adaptq.StateSucceeded, nil)
	require.NoError(t, err)
	require.Len(t, s, 1)
	require.Equal(t, "new-s", s[0].ID)

	n, err := j.Purge(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	f, err := j.List(ctx, "q", adaptq.StateFailed, nil)
	require.NoError(t, err)
	require.Len(t, f, 1)
	require.Equal(t, "keep-f", f[0].ID)

	c, err := j.List(ctx, "q2", adaptq.StateCancelled, nil)
	require.NoError(t, err)
	require.Empty(t, c)

	ec, _ := rdb.ZCard(ctx, ikeys.FailedExpiry("q")).Result()
	require.Zero(t, ec, "failed_expiry index should be cleared")
}

func TestRedisJournal_GetAndDelete(t *testing.T) {
	rdb, done := newMini(t)
	defer done()
	j := NewRedisJournal(rdb)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, &Record{ID: "s1", Queue: "q", State: adaptq.StateSucceeded}))
	require.NoError(t, j.Record(ctx, &Record{ID: "f1", Queue: "q", State: adaptq.StateFailed}, RetentionError(time.Hour)))

	rec, err := j.Get(ctx, "q", "f1")
	require.NoError(t, err)
	require.Equal(t, adaptq.StateFailed, rec.State)

	_, err = j.Get(ctx, "q", "missing")
	require.ErrorIs(t, err, ErrRecordNotFound)

	require.NoError(t, j.Delete(ctx, "q", "f1"))
	_, err = j.Get(ctx, "q", "f1")
	require.ErrorIs(t, err, ErrRecordNotFound)
	ec, _ := rdb.ZCard(ctx, ikeys.FailedExpiry("q")).Result()
	require.Zero(t, ec)

	require.NoError(t, j.Delete(ctx, "q", "s1"))
	require.ErrorIs(t, j.Delete(ctx, "q", "s1"), ErrRecordNotFound)
	require.NoError(t, j.Close())
}

func TestRedisJournal_Queues(t *testing.T) {
	rdb, done := newMini(t)
	defer done()
	j := NewRedisJournal(rdb)
	ctx := context.Background()

	queues, err := j.Queues(ctx)
	require.NoError(t, err)
	require.Empty(t, queues)

	require.NoError(t, j.Record(ctx, &Record{ID: "1", Queue: "videos", State: adaptq.StateFailed}))
	require.NoError(t, j.Record(ctx, &Record{ID: "2", Queue: "images", State: adaptq.StateSucceeded}))
	require.NoError(t, j.Record(ctx, &Record{ID: "3", Queue: "images", State: adaptq.StateCancelled}))

	queues, err = j.Queues(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"images", "videos"}, queues)
}
