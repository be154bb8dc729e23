package service

import (
	"context"
	"testing"

	"github.com/psds-microservice/support-service/internal/events"
	"github.com/psds-microservice/support-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed_DeliversToAllSubscribers(t *testing.T) {
	feed := NewFeed()
	a := feed.Subscribe(4)
	b := feed.Subscribe(4)
	defer a.Close()
	defer b.Close()

	feed.Publish(context.Background(), events.Event{Name: events.TicketCreated, Ticket: model.Ticket{ID: 1}})

	for _, sub := range []*Subscription{a, b} {
		select {
		case ev := <-sub.C():
			assert.Equal(t, uint64(1), ev.Ticket.ID)
		default:
			t.Fatal("event not delivered")
		}
	}
}

func TestFeed_FullSubscriberFlaggedForResync(t *testing.T) {
	feed := NewFeed()
	sub := feed.Subscribe(1)
	defer sub.Close()

	for i := 0; i < 3; i++ {
		feed.Publish(context.Background(), events.Event{Name: events.TicketUpdated})
	}
	assert.True(t, sub.TakeResync())
	assert.False(t, sub.TakeResync())
	assert.Len(t, sub.C(), 1)
}

func TestFeed_CloseUnsubscribes(t *testing.T) {
	feed := NewFeed()
	sub := feed.Subscribe(1)
	require.Equal(t, 1, feed.Subscribers())

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, feed.Subscribers())
	_, ok := <-sub.C()
	assert.False(t, ok)

	feed.Publish(context.Background(), events.Event{Name: events.TicketUpdated})
}

func TestFeed_ReceivesServiceEvents(t *testing.T) {
	f := newFixture(t)
	feed := NewFeed()
	sub := feed.Subscribe(8)
	defer sub.Close()
	f.tickets.events = events.Multi{f.events, feed}

	tk := f.create(t, "Alice")
	ev := <-sub.C()
	assert.Equal(t, events.TicketCreated, ev.Name)
	assert.Equal(t, tk.SessionID, ev.Ticket.SessionID)
}
