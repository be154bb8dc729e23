package service

import (
	"context"
	"sync"
	"testing"

	"github.com/psds-microservice/support-service/internal/errs"
	"github.com/psds-microservice/support-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaim_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.create(t, "Alice")

	got, msg, err := f.assign.Claim(ctx, tk.ID, 42, "Bob")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, model.TicketStatusAssigned, got.Status)
	assert.True(t, got.AssignedTo(42))

	again, msg, err := f.assign.Claim(ctx, tk.ID, 42, "Bob")
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.Equal(t, got.LastMessageID, again.LastMessageID)
	assert.Len(t, f.events.names(), 2)
}

func TestClaim_OtherSupporterRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.create(t, "Alice")

	_, _, err := f.assign.Claim(ctx, tk.ID, 1, "Bob")
	require.NoError(t, err)
	_, _, err = f.assign.Claim(ctx, tk.ID, 2, "Eve")
	assert.ErrorIs(t, err, errs.ErrAlreadyAssigned)

	_, err = f.log.Append(ctx, tk.SessionID, model.SenderSupporter, "Bob", "hi")
	require.NoError(t, err)
	_, _, err = f.assign.Claim(ctx, tk.ID, 2, "Eve")
	assert.ErrorIs(t, err, errs.ErrAlreadyAssigned)

	got, err := f.tickets.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.True(t, got.AssignedTo(1))
}

func TestClaim_TerminalRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.create(t, "Alice")
	_, _, err := f.assign.Claim(ctx, tk.ID, 1, "Bob")
	require.NoError(t, err)
	_, err = f.log.Append(ctx, tk.SessionID, model.SenderSupporter, "Bob", "hi")
	require.NoError(t, err)
	_, _, err = f.tickets.UpdateStatus(ctx, tk.ID, model.TicketStatusClosed, "Bob")
	require.NoError(t, err)

	_, _, err = f.assign.Claim(ctx, tk.ID, 1, "Bob")
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
	_, _, err = f.assign.Claim(ctx, 12345, 1, "Bob")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, _, err = f.assign.Claim(ctx, tk.ID, 0, "Bob")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestClaim_ConcurrentExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.create(t, "Alice")

	const supporters = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []int64
		rejected int
	)
	for i := 1; i <= supporters; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _, err := f.assign.Claim(ctx, tk.ID, id, "s")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, id)
			case assert.ErrorIs(t, err, errs.ErrAlreadyAssigned):
				rejected++
			}
		}(int64(i))
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, supporters-1, rejected)
	got, err := f.tickets.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.True(t, got.AssignedTo(winners[0]))

	msgs, err := f.log.List(ctx, tk.SessionID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "welcome plus exactly one join message")
}

// Scenario: the supporter releases before answering and another one picks the ticket up.
func TestReleaseThenReclaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.create(t, "Alice")

	_, _, err := f.assign.Claim(ctx, tk.ID, 1, "Bob")
	require.NoError(t, err)
	got, msg, err := f.assign.Release(ctx, tk.ID, "Bob")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, model.TicketStatusOpen, got.Status)
	assert.Nil(t, got.AssignedSupporterID)
	assert.Contains(t, msg.Message, "Bob has left the conversation")

	got, _, err = f.assign.Claim(ctx, tk.ID, 2, "Carol")
	require.NoError(t, err)
	assert.True(t, got.AssignedTo(2))
}

func TestRelease_InProgressRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.create(t, "Alice")

	_, _, err := f.assign.Claim(ctx, tk.ID, 1, "Bob")
	require.NoError(t, err)
	_, err = f.log.Append(ctx, tk.SessionID, model.SenderSupporter, "Bob", "hi")
	require.NoError(t, err)

	_, _, err = f.assign.Release(ctx, tk.ID, "Bob")
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)

	_, _, err = f.assign.Release(ctx, f.create(t, "x").ID, "Bob")
	assert.ErrorIs(t, err, errs.ErrInvalidTransition, "open tickets have nothing to release")
}
