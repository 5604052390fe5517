// internal/cache/cache.go

// Package cache streams match-history lines to Redis so finished and
// in-flight games can be inspected outside the server process. Publishing
// is best-effort; a failed write never affects game progress.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Publisher appends history records to a per-game Redis stream.
type Publisher struct {
	rdb *redis.Client
	log logrus.FieldLogger
}

// New connects a publisher to the Redis instance at addr.
func New(addr string, logger logrus.FieldLogger) *Publisher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Publisher{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		log: logger,
	}
}

// Ping verifies the connection.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// PublishHistory appends one history line to the game's stream.
func (p *Publisher) PublishHistory(ctx context.Context, gid int, line string) error {
	err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: fmt.Sprintf("game:history:%d", gid),
		Values: map[string]interface{}{
			"line": line,
			"ts":   time.Now().UnixMilli(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd history for game %d: %w", gid, err)
	}
	return nil
}

// Close shuts the underlying client down.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
