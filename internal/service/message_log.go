package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/psds-microservice/support-service/internal/errs"
	"github.com/psds-microservice/support-service/internal/events"
	"github.com/psds-microservice/support-service/internal/model"
	"gorm.io/gorm"
)

// MaxMessageLength: максимум символов в одном сообщении чата.
const MaxMessageLength = 4000

// MessageLog: журнал сообщений тикета. Добавление идёт под блокировкой
// строки тикета, поэтому ID внутри тикета строго возрастают без пропусков.
type MessageLog struct {
	tickets *TicketService
}

func NewMessageLog(tickets *TicketService) *MessageLog {
	return &MessageLog{tickets: tickets}
}

func (l *MessageLog) Append(ctx context.Context, sessionID string, sender model.SenderType, senderName, text string) (*model.Message, error) {
	if !sender.Valid() {
		return nil, errs.Validation("unknown sender type")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errs.Validation("message is empty")
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, errs.Validation("message exceeds %d characters", MaxMessageLength)
	}
	senderName = strings.TrimSpace(senderName)
	if senderName == "" {
		return nil, errs.Validation("sender_name is required")
	}

	var (
		t       *model.Ticket
		msg     *model.Message
		started bool
	)
	s := l.tickets
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if t, err = lockTicket(tx, "session_id = ?", sessionID); err != nil {
			return err
		}
		if t.Terminal() && sender != model.SenderSystem {
			return errs.InvalidState("ticket is %s", t.Status)
		}
		now := s.now()
		if sender == model.SenderSupporter && t.Status == model.TicketStatusAssigned {
			setStatus(t, model.TicketStatusInProgress, now)
			started = true
		}
		if msg, err = appendMessage(tx, t, sender, senderName, text, now); err != nil {
			return err
		}
		return saveTicket(tx, t)
	})
	if err != nil {
		return nil, err
	}
	if started {
		s.publish(ctx, events.TicketUpdated, t)
	}
	return msg, nil
}

// List возвращает всю историю тикета в порядке ID.
func (l *MessageLog) List(ctx context.Context, sessionID string) ([]model.Message, error) {
	t, err := l.tickets.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	items := []model.Message{}
	err = l.tickets.db.WithContext(ctx).
		Where("ticket_id = ?", t.ID).
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
