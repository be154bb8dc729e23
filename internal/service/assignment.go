package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/psds-microservice/support-service/internal/errs"
	"github.com/psds-microservice/support-service/internal/events"
	"github.com/psds-microservice/support-service/internal/model"
	"gorm.io/gorm"
)

// AssignmentCoordinator назначает тикеты саппортерам. Состояние живёт в
// строке тикета; решения принимаются под её блокировкой.
type AssignmentCoordinator struct {
	tickets *TicketService
}

func NewAssignmentCoordinator(tickets *TicketService) *AssignmentCoordinator {
	return &AssignmentCoordinator{tickets: tickets}
}

// Claim переводит open -> assigned. Повторный claim тем же саппортером
// успешен и возвращает nil-сообщение: объявлять о нём нечего.
func (a *AssignmentCoordinator) Claim(ctx context.Context, ticketID uint64, supporterID int64, supporterName string) (*model.Ticket, *model.Message, error) {
	if supporterID <= 0 {
		return nil, nil, errs.Validation("supporter_id must be positive")
	}
	supporterName = strings.TrimSpace(supporterName)
	if supporterName == "" {
		supporterName = fmt.Sprintf("Support agent #%d", supporterID)
	}

	var (
		t   *model.Ticket
		msg *model.Message
	)
	s := a.tickets
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if t, err = lockTicket(tx, "id = ?", ticketID); err != nil {
			return err
		}
		switch {
		case t.AssignedTo(supporterID):
			return nil
		case t.AssignedSupporterID != nil:
			return errs.ErrAlreadyAssigned
		case !t.Status.CanTransitionTo(model.TicketStatusAssigned):
			return errs.InvalidTransition(string(t.Status), string(model.TicketStatusAssigned))
		}
		now := s.now()
		setStatus(t, model.TicketStatusAssigned, now)
		id, at := supporterID, now
		t.AssignedSupporterID = &id
		t.AssignedAt = &at
		text := fmt.Sprintf("%s has joined the conversation.", supporterName)
		if msg, err = appendMessage(tx, t, model.SenderSystem, systemSenderName, text, now); err != nil {
			return err
		}
		return saveTicket(tx, t)
	})
	if err != nil {
		return nil, nil, err
	}
	if msg != nil {
		s.publish(ctx, events.TicketUpdated, t)
	}
	return t, msg, nil
}

// Release: assigned -> open, саппортер снимается.
func (a *AssignmentCoordinator) Release(ctx context.Context, ticketID uint64, actor string) (*model.Ticket, *model.Message, error) {
	return a.tickets.UpdateStatus(ctx, ticketID, model.TicketStatusOpen, actor)
}

// IdleAssigned lists tickets claimed more than idle ago and still unanswered.
// Сообщения пользователя таймер не сбрасывают.
func (a *AssignmentCoordinator) IdleAssigned(ctx context.Context, idle time.Duration) ([]model.Ticket, error) {
	return a.tickets.IdleAssigned(ctx, a.tickets.now().Add(-idle))
}
