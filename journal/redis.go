package journal

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	adaptq "github.com/UniQw/adaptq-go"
	ikeys "github.com/UniQw/adaptq-go/internal/keys"
	"github.com/redis/go-redis/v9"
)

// purgeBatch bounds how many expired list members are removed per queue and call.
const purgeBatch = 256

// RedisJournal stores records in Redis.
//
// Succeeded records live in a ZSET scored by their expiration in ms. Failed
// and cancelled records live in LISTs (newest first) with a companion ZSET
// indexing the members that expire.
type RedisJournal struct {
	rdb     redis.UniversalClient
	encoder adaptq.Encoder
}

// NewRedisJournal creates a journal on rdb. The caller owns rdb.
func NewRedisJournal(rdb redis.UniversalClient) *RedisJournal {
	return &RedisJournal{rdb: rdb, encoder: &adaptq.JSONEncoder{}}
}

// Record stores rec under its queue.
func (j *RedisJournal) Record(ctx context.Context, rec *Record, opts ...Option) error {
	if err := prepare(rec); err != nil {
		return err
	}
	o := buildOptions(opts)
	ttl := o.ttl(rec.State == adaptq.StateSucceeded)
	if ttl == 0 {
		return nil
	}

	raw, err := j.encoder.Encode(rec)
	if err != nil {
		return err
	}
	k := ikeys.For(rec.Queue)
	expireMs := rec.CompletedAt + ttl.Milliseconds()

	_, err = j.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, ikeys.Queues(), rec.Queue)
		switch rec.State {
		case adaptq.StateSucceeded:
			p.ZAdd(ctx, k.Succeeded, redis.Z{Score: float64(expireMs), Member: raw})
		default:
			list, index := listKeys(k, rec.State)
			p.LPush(ctx, list, raw)
			if ttl > 0 {
				p.ZAdd(ctx, index, redis.Z{Score: float64(expireMs), Member: raw})
			}
		}
		return nil
	})
	return err
}

func listKeys(k ikeys.Queue, state adaptq.JobState) (list, index string) {
	if state == adaptq.StateCancelled {
		return k.Cancelled, k.CancelledExpiry
	}
	return k.Failed, k.FailedExpiry
}

func stateKey(k ikeys.Queue, state adaptq.JobState) (string, error) {
	switch state {
	case adaptq.StateSucceeded:
		return k.Succeeded, nil
	case adaptq.StateFailed:
		return k.Failed, nil
	case adaptq.StateCancelled:
		return k.Cancelled, nil
	default:
		return "", adaptq.ErrUnknownState
	}
}

// List returns the records in a specific state for the given queue.
// Succeeded records are ordered by expiration, the others newest first.
func (j *RedisJournal) List(ctx context.Context, queue string, state adaptq.JobState, filter Filter) ([]*Record, error) {
	recs, _, err := j.list(ctx, queue, state, filter)
	return recs, err
}

func (j *RedisJournal) list(ctx context.Context, queue string, state adaptq.JobState, filter Filter) ([]*Record, []string, error) {
	key, err := stateKey(ikeys.For(queue), state)
	if err != nil {
		return nil, nil, err
	}

	typ, err := j.rdb.Type(ctx, key).Result()
	if err != nil {
		return nil, nil, err
	}
	var strs []string
	switch typ {
	case "none":
		return nil, nil, nil
	case "list":
		strs, err = j.rdb.LRange(ctx, key, 0, -1).Result()
	case "zset":
		// members scored at or before now are only waiting for Purge
		nowMs := strconv.FormatInt(time.Now().UnixMilli(), 10)
		strs, err = j.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "(" + nowMs, Max: "+inf"}).Result()
	default:
		return nil, nil, fmt.Errorf("unsupported redis type: %s", typ)
	}
	if err != nil {
		return nil, nil, err
	}

	out := make([]*Record, 0, len(strs))
	raws := make([]string, 0, len(strs))
	for _, s := range strs {
		var r Record
		if err := j.encoder.Decode([]byte(s), &r); err != nil {
			continue
		}
		if filter == nil || filter(&r) {
			out = append(out, &r)
			raws = append(raws, s)
		}
	}
	return out, raws, nil
}

// Get searches every terminal state for the record with the given ID.
func (j *RedisJournal) Get(ctx context.Context, queue, id string) (*Record, error) {
	rec, _, err := j.find(ctx, queue, id)
	return rec, err
}

func (j *RedisJournal) find(ctx context.Context, queue, id string) (*Record, string, error) {
	byID := func(r *Record) bool { return r.ID == id }
	for _, s := range terminalStates {
		recs, raws, err := j.list(ctx, queue, s, byID)
		if err != nil {
			return nil, "", err
		}
		if len(recs) > 0 {
			return recs[0], raws[0], nil
		}
	}
	return nil, "", ErrRecordNotFound
}

// Delete removes the first record with the given ID.
func (j *RedisJournal) Delete(ctx context.Context, queue, id string) error {
	rec, raw, err := j.find(ctx, queue, id)
	if err != nil {
		return err
	}
	k := ikeys.For(queue)
	_, err = j.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if rec.State == adaptq.StateSucceeded {
			p.ZRem(ctx, k.Succeeded, raw)
			return nil
		}
		list, index := listKeys(k, rec.State)
		p.LRem(ctx, list, 1, raw)
		p.ZRem(ctx, index, raw)
		return nil
	})
	return err
}

// Queues returns the queues this journal has recorded outcomes for.
func (j *RedisJournal) Queues(ctx context.Context) ([]string, error) {
	queues, err := j.rdb.SMembers(ctx, ikeys.Queues()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(queues)
	return queues, nil
}

// Purge removes expired records of every queue seen by this journal.
func (j *RedisJournal) Purge(ctx context.Context) (int, error) {
	queues, err := j.rdb.SMembers(ctx, ikeys.Queues()).Result()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, q := range queues {
		n, err := j.purgeQueue(ctx, q)
		total += n
		if err != nil {
			return total, fmt.Errorf("purge queue %s: %w", q, err)
		}
	}
	return total, nil
}

func (j *RedisJournal) purgeQueue(ctx context.Context, queue string) (int, error) {
	k := ikeys.For(queue)
	nowMs := strconv.FormatInt(time.Now().UnixMilli(), 10)

	n, err := j.rdb.ZRemRangeByScore(ctx, k.Succeeded, "0", nowMs).Result()
	if err != nil {
		return 0, err
	}
	total := int(n)

	for _, pair := range [][2]string{{k.Failed, k.FailedExpiry}, {k.Cancelled, k.CancelledExpiry}} {
		list, index := pair[0], pair[1]
		// fetch a small batch to avoid long blocking operations
		members, err := j.rdb.ZRangeByScore(ctx, index, &redis.ZRangeBy{Min: "0", Max: nowMs, Offset: 0, Count: purgeBatch}).Result()
		if err != nil && err != redis.Nil {
			return total, err
		}
		if len(members) == 0 {
			continue
		}
		// remove each member from list and index atomically in a pipeline
		_, err = j.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for _, m := range members {
				p.LRem(ctx, list, 1, m)
				p.ZRem(ctx, index, m)
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		total += len(members)
	}
	return total, nil
}

// Close is a no-op; the caller owns the Redis client.
func (j *RedisJournal) Close() error { return nil }
