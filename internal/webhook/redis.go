package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	errx "github.com/chainlens-core/server/internal/core/error"
	logx "github.com/chainlens-core/server/pkg/logger"
)

const eventsKey = "chainlens:webhook:events"

// RedisEventLog stores events oldest first in a capped Redis list.
type RedisEventLog struct {
	rdb       redis.Cmdable
	key       string
	maxEvents int
}

func NewRedisEventLog(rdb redis.Cmdable, maxEvents int) *RedisEventLog {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &RedisEventLog{rdb: rdb, key: eventsKey, maxEvents: maxEvents}
}

func (l *RedisEventLog) Append(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	pipe := l.rdb.TxPipeline()
	pipe.RPush(ctx, l.key, b)
	pipe.LTrim(ctx, l.key, int64(-l.maxEvents), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		logx.Error().Err(err).Str("key", l.key).Msg("failed to append webhook event to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (l *RedisEventLog) List(ctx context.Context, limit int) ([]Event, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	rows, err := l.rdb.LRange(ctx, l.key, start, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return []Event{}, nil
		}
		logx.Error().Err(err).Str("key", l.key).Msg("failed to load webhook events from redis")
		return nil, errx.WrapRedis(err)
	}
	out := make([]Event, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		var e Event
		if err := json.Unmarshal([]byte(rows[i]), &e); err != nil {
			logx.Error().Err(err).Int("index", i).Msg("failed to unmarshal webhook event")
			return nil, fmt.Errorf("unmarshal event at index %d: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (l *RedisEventLog) Latest(ctx context.Context) (*Event, error) {
	events, err := l.List(ctx, 1)
	if err != nil || len(events) == 0 {
		return nil, err
	}
	return &events[0], nil
}

var _ EventLog = (*RedisEventLog)(nil)
