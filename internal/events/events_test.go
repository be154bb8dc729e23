package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/psds-microservice/support-service/internal/logging"
	"github.com/psds-microservice/support-service/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestMulti_PublishesToAll(t *testing.T) {
	var got []string
	rec := func(tag string) Publisher {
		return PublisherFunc(func(_ context.Context, ev Event) { got = append(got, tag+":"+ev.Name) })
	}
	Multi{rec("a"), nil, rec("b")}.Publish(context.Background(), Event{Name: TicketCreated})
	assert.Equal(t, []string{"a:ticket.created", "b:ticket.created"}, got)
}

func TestAsync_DoesNotBlockCaller(t *testing.T) {
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	slow := PublisherFunc(func(ctx context.Context, ev Event) {
		defer wg.Done()
		<-release
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
	})

	done := make(chan struct{})
	go func() {
		Async(slow, time.Second, logging.Discard()).Publish(context.Background(), Event{Name: TicketUpdated})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Async blocked the caller")
	}
	close(release)
	wg.Wait()
}

func TestPayload(t *testing.T) {
	sup := int64(42)
	p := Payload(&model.Ticket{ID: 7, SessionID: "s", Status: model.TicketStatusAssigned, AssignedSupporterID: &sup})
	assert.Equal(t, int64(7), p["ticket_id"])
	assert.Equal(t, "assigned", p["status"])
	assert.Equal(t, int64(42), p["assigned_supporter_id"])
	assert.Nil(t, Payload(nil))
}

func TestAsync_DrainWaitsForInFlight(t *testing.T) {
	release := make(chan struct{})
	var delivered []string
	var mu sync.Mutex
	slow := PublisherFunc(func(ctx context.Context, ev Event) {
		<-release
		mu.Lock()
		delivered = append(delivered, ev.Name)
		mu.Unlock()
	})
	a := Async(slow, time.Second, logging.Discard())
	a.Publish(context.Background(), Event{Name: TicketCreated})
	a.Publish(context.Background(), Event{Name: TicketUpdated})

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.Drain(short), context.DeadlineExceeded)

	close(release)
	assert.NoError(t, a.Drain(context.Background()))
	mu.Lock()
	assert.ElementsMatch(t, []string{TicketCreated, TicketUpdated}, delivered)
	mu.Unlock()

	// после drain новые события не уходят в закрытый приёмник
	a.Publish(context.Background(), Event{Name: TicketUpdated})
	assert.NoError(t, a.Drain(context.Background()))
	mu.Lock()
	assert.Len(t, delivered, 2)
	mu.Unlock()
}
