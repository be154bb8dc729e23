// Package events fans ticket lifecycle events out to the in-process
// change feed and to external sinks (Kafka, Redis stream, search index).
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/psds-microservice/support-service/internal/model"
)

const (
	TicketCreated = "ticket.created"
	TicketUpdated = "ticket.updated"
)

// Event несёт снимок тикета после изменения.
type Event struct {
	Name   string
	Ticket model.Ticket
}

// Publisher: получатель событий тикета. Реализации не должны блокировать надолго.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event)

func (f PublisherFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

// Multi publishes to every non-nil publisher in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, ev)
		}
	}
}

// Nop drops every event.
var Nop Publisher = PublisherFunc(func(context.Context, Event) {})

// AsyncPublisher отправляет события медленному publisher (Kafka, HTTP) в
// отдельных горутинах с таймаутом, не завися от отмены запроса. Drain
// дожидается доставок в полёте перед закрытием приёмника.
type AsyncPublisher struct {
	p       Publisher
	timeout time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func Async(p Publisher, timeout time.Duration, log *slog.Logger) *AsyncPublisher {
	return &AsyncPublisher{p: p, timeout: timeout, log: log}
}

func (a *AsyncPublisher) Publish(_ context.Context, ev Event) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.log.Warn("event dropped after drain", slog.String("event", ev.Name), slog.Uint64("ticket_id", ev.Ticket.ID))
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				a.log.Error("event publisher panicked", slog.String("event", ev.Name), slog.Any("panic", r))
			}
		}()
		a.p.Publish(ctx, ev)
	}()
}

// Drain stops accepting events and waits for in-flight deliveries or ctx.
func (a *AsyncPublisher) Drain(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Payload is the flat map representation shared by the Kafka and search sinks.
func Payload(t *model.Ticket) map[string]interface{} {
	if t == nil {
		return nil
	}
	out := map[string]interface{}{
		"ticket_id":  int64(t.ID),
		"session_id": t.SessionID,
		"user_name":  t.UserName,
		"user_email": t.UserEmail,
		"subject":    t.Subject,
		"priority":   string(t.Priority),
		"status":     string(t.Status),
		"updated_at": t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if t.AssignedSupporterID != nil {
		out["assigned_supporter_id"] = *t.AssignedSupporterID
	}
	if t.AssignedAt != nil {
		out["assigned_at"] = t.AssignedAt.UTC().Format(time.RFC3339Nano)
	}
	return out
}
