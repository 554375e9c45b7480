package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	adaptq "github.com/UniQw/adaptq-go"
	"github.com/UniQw/adaptq-go/internal/config"
	"github.com/UniQw/adaptq-go/journal"
	"github.com/redis/go-redis/v9"
)

var errNoJournal = errors.New("no journal configured (set journal.driver)")

// openJournal opens the configured journal. It returns a nil journal when
// none is configured. The returned close function releases everything.
func openJournal(cfg config.JournalConfig, log adaptq.Logger) (journal.Journal, func(), error) {
	switch cfg.Driver {
	case config.DriverRedis:
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		rdb := redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		j := journal.NewRedisJournal(rdb)
		return j, func() {
			_ = j.Close()
			_ = rdb.Close()
		}, nil

	case config.DriverBadger:
		j, err := journal.NewBadgerJournal(cfg.Badger.Dir, log)
		if err != nil {
			return nil, nil, err
		}
		return j, func() { _ = j.Close() }, nil

	default:
		return nil, func() {}, nil
	}
}

// retention converts the journal settings into record options. A zero
// error retention keeps failures forever.
func retention(cfg config.JournalConfig) []journal.Option {
	errRetention := cfg.ErrorRetention
	if errRetention == 0 {
		errRetention = -1
	}
	return []journal.Option{journal.Retention(cfg.Retention), journal.RetentionError(errRetention)}
}
