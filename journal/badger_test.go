package journal

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	adaptq "github.com/UniQw/adaptq-go"
	"github.com/stretchr/testify/require"
)

func newBadger(t *testing.T) *BadgerJournal {
	t.Helper()
	j, err := NewBadgerJournal("", adaptq.NewFmtLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestBadgerJournal_RecordListGet(t *testing.T) {
	j := newBadger(t)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, &Record{ID: "a", Queue: "images", State: adaptq.StateSucceeded, Result: []byte(`"u"`)}))
	require.NoError(t, j.Record(ctx, &Record{ID: "b", Queue: "images", State: adaptq.StateFailed, Error: "boom"}))
	require.NoError(t, j.Record(ctx, &Record{ID: "c", Queue: "images", State: adaptq.StateFailed}))
	require.NoError(t, j.Record(ctx, &Record{ID: "d", Queue: "captions", State: adaptq.StateFailed}))

	failed, err := j.List(ctx, "images", adaptq.StateFailed, nil)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	require.Equal(t, "b", failed[0].ID)
	require.Equal(t, "c", failed[1].ID)

	withErr, err := j.List(ctx, "images", adaptq.StateFailed, func(r *Record) bool { return r.Error != "" })
	require.NoError(t, err)
	require.Len(t, withErr, 1)

	rec, err := j.Get(ctx, "images", "a")
	require.NoError(t, err)
	require.Equal(t, adaptq.StateSucceeded, rec.State)
	require.Equal(t, json.RawMessage(`"u"`), rec.Result)

	_, err = j.Get(ctx, "images", "d")
	require.ErrorIs(t, err, ErrRecordNotFound, "queues are isolated")

	_, err = j.List(ctx, "images", adaptq.StatePending, nil)
	require.ErrorIs(t, err, adaptq.ErrUnknownState)
	require.ErrorIs(t, j.Record(ctx, &Record{ID: "x", Queue: "images", State: adaptq.StateRetrying}), ErrNotTerminal)
}

func TestBadgerJournal_Retention(t *testing.T) {
	j := newBadger(t)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, &Record{ID: "gone", Queue: "q", State: adaptq.StateSucceeded}, Retention(0)))
	_, err := j.Get(ctx, "q", "gone")
	require.ErrorIs(t, err, ErrRecordNotFound)

	require.NoError(t, j.Record(ctx, &Record{ID: "short", Queue: "q", State: adaptq.StateFailed}, RetentionError(time.Second)))
	_, err = j.Get(ctx, "q", "short")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := j.Get(ctx, "q", "short")
		return err == ErrRecordNotFound
	}, 5*time.Second, 100*time.Millisecond, "TTL should expire the record")

	n, err := j.Purge(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestBadgerJournal_Delete(t *testing.T) {
	j := newBadger(t)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, &Record{ID: "a", Queue: "q", State: adaptq.StateCancelled}))
	require.NoError(t, j.Delete(ctx, "q", "a"))
	_, err := j.Get(ctx, "q", "a")
	require.ErrorIs(t, err, ErrRecordNotFound)
	require.ErrorIs(t, j.Delete(ctx, "q", "a"), ErrRecordNotFound)
}

func TestBadgerJournal_Queues(t *testing.T) {
	j := newBadger(t)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, &Record{ID: "1", Queue: "videos", State: adaptq.StateFailed}))
	require.NoError(t, j.Record(ctx, &Record{ID: "2", Queue: "images", State: adaptq.StateSucceeded}))
	require.NoError(t, j.Record(ctx, &Record{ID: "3", Queue: "images", State: adaptq.StateCancelled}))
	require.NoError(t, j.Record(ctx, &Record{ID: "4", Queue: "skipped", State: adaptq.StateSucceeded}, Retention(0)))

	queues, err := j.Queues(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"images", "videos"}, queues)
}
