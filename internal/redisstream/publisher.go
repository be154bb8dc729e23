// Package redisstream appends ticket lifecycle events to a Redis stream so
// dashboards on other nodes can follow the queue.
package redisstream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/psds-microservice/support-service/internal/events"
	"github.com/psds-microservice/support-service/internal/logging"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultStream = "support.tickets"
	maxStreamLen  = 10000
)

// Open разбирает redis:// или rediss:// URL и проверяет соединение.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

type Publisher struct {
	rdb    redis.Cmdable
	stream string
	log    *slog.Logger
}

func NewPublisher(rdb redis.Cmdable, stream string, log *slog.Logger) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Publisher{rdb: rdb, stream: stream, log: log}
}

// Args builds the XADD arguments for an event. Field order is fixed.
func (p *Publisher) Args(ev events.Event) *redis.XAddArgs {
	t := ev.Ticket
	var supporter int64
	if t.AssignedSupporterID != nil {
		supporter = *t.AssignedSupporterID
	}
	return &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: []interface{}{
			"event", ev.Name,
			"ticket_id", t.ID,
			"session_id", t.SessionID,
			"status", string(t.Status),
			"priority", string(t.Priority),
			"assigned_supporter_id", supporter,
			"updated_at", t.UpdatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

// Publish implements events.Publisher.
func (p *Publisher) Publish(ctx context.Context, ev events.Event) {
	if p.rdb == nil {
		return
	}
	if err := p.rdb.XAdd(ctx, p.Args(ev)).Err(); err != nil {
		p.log.Warn("redis stream append failed", slog.String("stream", p.stream), slog.String("event", ev.Name), logging.Err(err))
	}
}
