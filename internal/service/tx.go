package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/psds-microservice/support-service/internal/errs"
	"github.com/psds-microservice/support-service/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const systemSenderName = "System"

// lockTicket читает тикет внутри транзакции. На postgres строка берётся
// FOR UPDATE, чтобы append и смена статуса одного тикета шли по очереди;
// sqlite работает с одним соединением и сериализует транзакции сам.
func lockTicket(tx *gorm.DB, query string, arg any) (*model.Ticket, error) {
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var t model.Ticket
	if err := q.Where(query, arg).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

// appendMessage выделяет следующий ID журнала тикета и вставляет сообщение.
// Счётчик в t меняется в памяти; сохранить его должен saveTicket в той же транзакции.
func appendMessage(tx *gorm.DB, t *model.Ticket, sender model.SenderType, name, text string, now time.Time) (*model.Message, error) {
	msg := &model.Message{
		TicketID:   t.ID,
		ID:         t.LastMessageID + 1,
		SessionID:  t.SessionID,
		SenderType: sender,
		SenderName: name,
		Message:    text,
		CreatedAt:  now,
	}
	if err := tx.Create(msg).Error; err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	t.LastMessageID = msg.ID
	t.UpdatedAt = now
	return msg, nil
}

// setStatus keeps the assignment invariant: a supporter is attached only
// while the ticket is assigned or in progress.
func setStatus(t *model.Ticket, next model.TicketStatus, now time.Time) {
	t.Status = next
	if !next.Active() {
		t.AssignedSupporterID = nil
		t.AssignedAt = nil
	}
	if next.Terminal() {
		closed := now
		t.ClosedAt = &closed
	}
	t.UpdatedAt = now
}

func saveTicket(tx *gorm.DB, t *model.Ticket) error {
	err := tx.Model(t).
		Select("status", "assigned_supporter_id", "assigned_at", "last_message_id", "updated_at", "closed_at").
		Updates(t).Error
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	return nil
}
