package journal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	adaptq "github.com/UniQw/adaptq-go"
	ikeys "github.com/UniQw/adaptq-go/internal/keys"
	"github.com/dgraph-io/badger/v4"
)

// BadgerJournal stores records in an embedded BadgerDB. Retention is
// implemented with entry TTLs, so expired records disappear on their own and
// Purge only reclaims value-log space.
type BadgerJournal struct {
	db      *badger.DB
	encoder adaptq.Encoder
	log     adaptq.Logger
}

// NewBadgerJournal opens (or creates) a journal in dir. An empty dir keeps
// the journal in memory.
func NewBadgerJournal(dir string, log adaptq.Logger) (*BadgerJournal, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil // badger has its own logger interface; keep it quiet

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	if log == nil {
		log = adaptq.NewSlogLogger(nil)
	}
	return &BadgerJournal{db: db, encoder: &adaptq.JSONEncoder{}, log: log}, nil
}

// Close closes the database.
func (j *BadgerJournal) Close() error {
	return j.db.Close()
}

// recordKey returns the key for a record: rec:{queue}:<state>:<id>.
func recordKey(queue string, state adaptq.JobState, id string) []byte {
	return []byte(statePrefix(queue, state) + id)
}

const recordPrefix = "rec:"

func statePrefix(queue string, state adaptq.JobState) string {
	return recordPrefix + "{" + queue + "}:" + string(state) + ":"
}

// Record stores rec with a TTL matching the retention options.
func (j *BadgerJournal) Record(ctx context.Context, rec *Record, opts ...Option) error {
	if err := prepare(rec); err != nil {
		return err
	}
	ttl := buildOptions(opts).ttl(rec.State == adaptq.StateSucceeded)
	if ttl == 0 {
		return nil
	}
	raw, err := j.encoder.Encode(rec)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e := badger.NewEntry(recordKey(rec.Queue, rec.State, rec.ID), raw)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return j.update(ctx, func(txn *badger.Txn) error {
		return txn.SetEntry(e)
	})
}

// update retries a BadgerDB update on transaction conflicts.
func (j *BadgerJournal) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	const maxRetries = 10
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			time.Sleep(time.Millisecond)
		}
		err = j.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("transaction conflict after %d retries: %w", maxRetries, err)
}

// List returns the records in a specific state for the given queue, ordered by ID.
func (j *BadgerJournal) List(ctx context.Context, queue string, state adaptq.JobState, filter Filter) ([]*Record, error) {
	if !state.Terminal() {
		return nil, adaptq.ErrUnknownState
	}
	prefix := []byte(statePrefix(queue, state))
	var out []*Record
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var r Record
			if err := j.encoder.Decode(val, &r); err != nil {
				j.log.Warnf("journal: skipping undecodable record %s: %v", it.Item().Key(), err)
				continue
			}
			if filter == nil || filter(&r) {
				out = append(out, &r)
			}
		}
		return nil
	})
	return out, err
}

// Get searches every terminal state for the record with the given ID.
func (j *BadgerJournal) Get(ctx context.Context, queue, id string) (*Record, error) {
	var rec *Record
	err := j.db.View(func(txn *badger.Txn) error {
		for _, s := range terminalStates {
			item, err := txn.Get(recordKey(queue, s, id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var r Record
			if err := j.encoder.Decode(val, &r); err != nil {
				return err
			}
			rec = &r
			return nil
		}
		return ErrRecordNotFound
	})
	return rec, err
}

// Delete removes the record with the given ID from every state.
func (j *BadgerJournal) Delete(ctx context.Context, queue, id string) error {
	if _, err := j.Get(ctx, queue, id); err != nil {
		return err
	}
	return j.update(ctx, func(txn *badger.Txn) error {
		for _, s := range terminalStates {
			if err := txn.Delete(recordKey(queue, s, id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Queues returns the queues with at least one live record.
func (j *BadgerJournal) Queues(ctx context.Context) ([]string, error) {
	prefix := []byte(recordPrefix)
	seen := make(map[string]bool)
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if q := ikeys.QueueName(string(it.Item().Key())); q != "" {
				seen[q] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for q := range seen {
		out = append(out, q)
	}
	sort.Strings(out)
	return out, nil
}

// Purge runs value-log garbage collection until there is nothing left to
// rewrite. Expired records are already invisible, so it reports 0 removed.
func (j *BadgerJournal) Purge(ctx context.Context) (int, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		err := j.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
	}
}
