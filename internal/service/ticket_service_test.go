package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/psds-microservice/support-service/internal/clock"
	"github.com/psds-microservice/support-service/internal/errs"
	"github.com/psds-microservice/support-service/internal/events"
	"github.com/psds-microservice/support-service/internal/model"
	"github.com/psds-microservice/support-service/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Name+":"+string(ev.Ticket.Status))
	}
	return out
}

type fixture struct {
	clock   *clock.Fake
	events  *recorder
	tickets *TicketService
	log     *MessageLog
	assign  *AssignmentCoordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	rec := &recorder{}
	tickets := NewTicketService(testutil.OpenDB(t), clk, rec)
	return &fixture{
		clock:   clk,
		events:  rec,
		tickets: tickets,
		log:     NewMessageLog(tickets),
		assign:  NewAssignmentCoordinator(tickets),
	}
}

func (f *fixture) create(t *testing.T, name string) *model.Ticket {
	t.Helper()
	tk, err := f.tickets.Create(context.Background(), CreateTicketInput{UserName: name, Subject: "Billing", Priority: "high"})
	require.NoError(t, err)
	return tk
}

func TestCreate_StartsOpenWithWelcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk := f.create(t, "Alice")
	assert.Equal(t, model.TicketStatusOpen, tk.Status)
	assert.Equal(t, model.PriorityHigh, tk.Priority)
	assert.Nil(t, tk.AssignedSupporterID)
	assert.Len(t, tk.SessionID, 36)

	msgs, err := f.log.List(ctx, tk.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(1), msgs[0].ID)
	assert.Equal(t, model.SenderSystem, msgs[0].SenderType)
	assert.Equal(t, "Welcome Alice! A support agent will be with you shortly.", msgs[0].Message)
	assert.Equal(t, []string{"ticket.created:open"}, f.events.names())
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]CreateTicketInput{
		"no name":      {Subject: "x"},
		"no subject":   {UserName: "a"},
		"bad email":    {UserName: "a", Subject: "x", UserEmail: "not-an-email"},
		"bad priority": {UserName: "a", Subject: "x", Priority: "critical"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.tickets.Create(ctx, in)
			assert.ErrorIs(t, err, errs.ErrValidation)
		})
	}

	tk, err := f.tickets.Create(ctx, CreateTicketInput{UserName: "a", Subject: "x"})
	require.NoError(t, err)
	assert.Equal(t, model.PriorityMedium, tk.Priority)
}

func TestSessionIDsAreUnique(t *testing.T) {
	f := newFixture(t)
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		tk := f.create(t, "u")
		assert.False(t, seen[tk.SessionID])
		seen[tk.SessionID] = true
	}
}

func TestGetBySession_Unknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.tickets.GetBySession(context.Background(), "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = f.tickets.GetByID(context.Background(), 999)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestListOpen_OldestFirstWithoutTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.create(t, "first")
	f.clock.Advance(time.Minute)
	second := f.create(t, "second")
	f.clock.Advance(time.Minute)
	third := f.create(t, "third")

	_, _, err := f.assign.Claim(ctx, third.ID, 7, "Bob")
	require.NoError(t, err)
	_, err = f.log.Append(ctx, third.SessionID, model.SenderSupporter, "Bob", "hi")
	require.NoError(t, err)
	_, _, err = f.tickets.UpdateStatus(ctx, third.ID, model.TicketStatusResolved, "Bob")
	require.NoError(t, err)

	open, err := f.tickets.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, first.ID, open[0].ID)
	assert.Equal(t, second.ID, open[1].ID)
}

func TestList_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.create(t, "a")
	f.create(t, "b")
	_, _, err := f.assign.Claim(ctx, a.ID, 3, "Carol")
	require.NoError(t, err)

	items, total, err := f.tickets.List(ctx, ListFilter{Status: model.TicketStatusOpen})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, items, 1)

	sup := int64(3)
	items, total, err = f.tickets.List(ctx, ListFilter{SupporterID: &sup})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, a.ID, items[0].ID)

	items, total, err = f.tickets.List(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, items, 1)
}

func TestUpdateStatus_Table(t *testing.T) {
	all := []model.TicketStatus{
		model.TicketStatusOpen, model.TicketStatusAssigned, model.TicketStatusInProgress,
		model.TicketStatusResolved, model.TicketStatusClosed,
	}
	// reach drives a fresh ticket into the wanted status through legal edges.
	reach := func(t *testing.T, f *fixture, want model.TicketStatus) *model.Ticket {
		ctx := context.Background()
		tk := f.create(t, "u")
		if want == model.TicketStatusOpen {
			return tk
		}
		_, _, err := f.assign.Claim(ctx, tk.ID, 1, "Sup")
		require.NoError(t, err)
		if want == model.TicketStatusAssigned {
			return tk
		}
		_, err = f.log.Append(ctx, tk.SessionID, model.SenderSupporter, "Sup", "hello")
		require.NoError(t, err)
		if want == model.TicketStatusInProgress {
			return tk
		}
		_, _, err = f.tickets.UpdateStatus(ctx, tk.ID, want, "Sup")
		require.NoError(t, err)
		return tk
	}

	for _, from := range all {
		for _, to := range all {
			from, to := from, to
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				f := newFixture(t)
				ctx := context.Background()
				tk := reach(t, f, from)
				before, err := f.tickets.GetByID(ctx, tk.ID)
				require.NoError(t, err)

				got, _, err := f.tickets.UpdateStatus(ctx, tk.ID, to, "Admin")
				legal := from.CanTransitionTo(to) && to != model.TicketStatusAssigned
				if !legal {
					assert.ErrorIs(t, err, errs.ErrInvalidTransition)
					after, err := f.tickets.GetByID(ctx, tk.ID)
					require.NoError(t, err)
					assert.Equal(t, before.Status, after.Status)
					assert.Equal(t, before.AssignedSupporterID, after.AssignedSupporterID)
					assert.Equal(t, before.LastMessageID, after.LastMessageID)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, to, got.Status)
				assert.Equal(t, to.Active(), got.AssignedSupporterID != nil)
				assert.Equal(t, to.Terminal(), got.ClosedAt != nil)
			})
		}
	}
}

func TestUpdateStatus_SystemMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.create(t, "u")

	_, _, err := f.assign.Claim(ctx, tk.ID, 4, "Dan")
	require.NoError(t, err)
	_, err = f.log.Append(ctx, tk.SessionID, model.SenderSupporter, "Dan", "on it")
	require.NoError(t, err)

	_, msg, err := f.tickets.UpdateStatus(ctx, tk.ID, model.TicketStatusInProgress, "x")
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
	assert.Nil(t, msg)

	got, msg, err := f.tickets.UpdateStatus(ctx, tk.ID, model.TicketStatusClosed, "Dan")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "This ticket has been closed by Dan.", msg.Message)
	assert.Equal(t, model.SenderSystem, msg.SenderType)
	assert.Equal(t, got.LastMessageID, msg.ID)
}

func TestIdleAssigned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	idle := f.create(t, "idle")
	busy := f.create(t, "busy")
	_, _, err := f.assign.Claim(ctx, idle.ID, 1, "A")
	require.NoError(t, err)
	_, _, err = f.assign.Claim(ctx, busy.ID, 2, "B")
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	_, err = f.log.Append(ctx, busy.SessionID, model.SenderSupporter, "B", "hi")
	require.NoError(t, err)
	f.clock.Advance(6 * time.Minute)

	items, err := f.assign.IdleAssigned(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, idle.ID, items[0].ID)
}

func TestIdleAssigned_UserMessagesDoNotResetTimer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk := f.create(t, "Alice")
	claimed, _, err := f.assign.Claim(ctx, tk.ID, 1, "Bob")
	require.NoError(t, err)
	require.NotNil(t, claimed.AssignedAt)
	assert.True(t, f.clock.Now().Equal(*claimed.AssignedAt))

	for i := 0; i < 3; i++ {
		f.clock.Advance(9 * time.Minute)
		_, err = f.log.Append(ctx, tk.SessionID, model.SenderUser, "Alice", "hello?")
		require.NoError(t, err)
	}
	f.clock.Advance(2 * time.Minute)

	items, err := f.assign.IdleAssigned(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, tk.ID, items[0].ID)

	_, err = f.log.Append(ctx, tk.SessionID, model.SenderSupporter, "Bob", "sorry, here now")
	require.NoError(t, err)
	items, err = f.assign.IdleAssigned(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, items, "answered tickets leave the sweep")
}

func TestRelease_ClearsAssignedAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tk := f.create(t, "Alice")
	_, _, err := f.assign.Claim(ctx, tk.ID, 1, "Bob")
	require.NoError(t, err)
	released, _, err := f.assign.Release(ctx, tk.ID, "Bob")
	require.NoError(t, err)
	assert.Nil(t, released.AssignedAt)

	got, err := f.tickets.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AssignedAt)
	assert.Nil(t, got.AssignedSupporterID)

	f.clock.Advance(time.Hour)
	reclaimed, _, err := f.assign.Claim(ctx, tk.ID, 2, "Eve")
	require.NoError(t, err)
	require.NotNil(t, reclaimed.AssignedAt)
	assert.True(t, f.clock.Now().Equal(*reclaimed.AssignedAt))
}
