package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/support-service/internal/clock"
	"github.com/psds-microservice/support-service/internal/errs"
	"github.com/psds-microservice/support-service/internal/events"
	"github.com/psds-microservice/support-service/internal/model"
	"gorm.io/gorm"
)

// TicketServicer: интерфейс хранилища тикетов для gRPC и HTTP слоёв.
type TicketServicer interface {
	Create(ctx context.Context, in CreateTicketInput) (*model.Ticket, error)
	ListOpen(ctx context.Context) ([]model.Ticket, error)
	List(ctx context.Context, filter ListFilter) ([]model.Ticket, int64, error)
	GetByID(ctx context.Context, id uint64) (*model.Ticket, error)
	GetBySession(ctx context.Context, sessionID string) (*model.Ticket, error)
	UpdateStatus(ctx context.Context, id uint64, next model.TicketStatus, actor string) (*model.Ticket, *model.Message, error)
}

type CreateTicketInput struct {
	UserName  string
	UserEmail string
	Subject   string
	Priority  string
}

// ListFilter: фильтр для просмотра тикетов в дашборде (в т.ч. закрытых).
type ListFilter struct {
	Status      model.TicketStatus
	SupporterID *int64
	Limit       int
	Offset      int
}

type TicketService struct {
	db     *gorm.DB
	clock  clock.Clock
	events events.Publisher
}

func NewTicketService(db *gorm.DB, clk clock.Clock, pub events.Publisher) *TicketService {
	if clk == nil {
		clk = clock.Real()
	}
	if pub == nil {
		pub = events.Nop
	}
	return &TicketService{db: db, clock: clk, events: pub}
}

func (s *TicketService) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *TicketService) publish(ctx context.Context, name string, t *model.Ticket) {
	s.events.Publish(ctx, events.Event{Name: name, Ticket: *t})
}

func (s *TicketService) Create(ctx context.Context, in CreateTicketInput) (*model.Ticket, error) {
	name := strings.TrimSpace(in.UserName)
	subject := strings.TrimSpace(in.Subject)
	email := strings.TrimSpace(in.UserEmail)
	if name == "" {
		return nil, errs.Validation("user_name is required")
	}
	if subject == "" {
		return nil, errs.Validation("subject is required")
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, errs.Validation("user_email is not a valid address")
		}
	}
	priority, ok := model.ParsePriority(strings.TrimSpace(in.Priority))
	if !ok {
		return nil, errs.Validation("priority must be one of low, medium, high, urgent")
	}

	now := s.now()
	t := &model.Ticket{
		SessionID: uuid.NewString(),
		UserName:  name,
		UserEmail: email,
		Subject:   subject,
		Priority:  priority,
		Status:    model.TicketStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(t).Error; err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}
		welcome := fmt.Sprintf("Welcome %s! A support agent will be with you shortly.", name)
		if _, err := appendMessage(tx, t, model.SenderSystem, systemSenderName, welcome, now); err != nil {
			return err
		}
		return saveTicket(tx, t)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TicketCreated, t)
	return t, nil
}

// ListOpen возвращает тикеты не в resolved/closed, старые первыми.
func (s *TicketService) ListOpen(ctx context.Context) ([]model.Ticket, error) {
	items := []model.Ticket{}
	err := s.db.WithContext(ctx).
		Where("status IN ?", model.OpenStatuses()).
		Order("created_at ASC").Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *TicketService) List(ctx context.Context, filter ListFilter) ([]model.Ticket, int64, error) {
	items := []model.Ticket{}
	var total int64
	tx := s.db.WithContext(ctx).Model(&model.Ticket{})
	if filter.Status != "" {
		tx = tx.Where("status = ?", filter.Status)
	}
	if filter.SupporterID != nil {
		tx = tx.Where("assigned_supporter_id = ?", *filter.SupporterID)
	}
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if filter.Limit > 0 {
		tx = tx.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		tx = tx.Offset(filter.Offset)
	}
	if err := tx.Order("created_at DESC").Order("id DESC").Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *TicketService) GetByID(ctx context.Context, id uint64) (*model.Ticket, error) {
	var t model.Ticket
	if err := s.db.WithContext(ctx).First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *TicketService) GetBySession(ctx context.Context, sessionID string) (*model.Ticket, error) {
	if sessionID == "" {
		return nil, errs.ErrTicketNotFound
	}
	var t model.Ticket
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

// UpdateStatus применяет переход по таблице статусов. Недопустимый переход
// не меняет строку. Для переходов в open/resolved/closed в той же
// транзакции добавляется системное сообщение; оно возвращается для рассылки.
func (s *TicketService) UpdateStatus(ctx context.Context, id uint64, next model.TicketStatus, actor string) (*model.Ticket, *model.Message, error) {
	var (
		t   *model.Ticket
		msg *model.Message
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if t, err = lockTicket(tx, "id = ?", id); err != nil {
			return err
		}
		if !t.Status.CanTransitionTo(next) {
			return errs.InvalidTransition(string(t.Status), string(next))
		}
		if next == model.TicketStatusAssigned {
			return fmt.Errorf("%w: assignment requires a supporter, use claim", errs.ErrInvalidTransition)
		}
		now := s.now()
		text := statusMessage(next, actor)
		setStatus(t, next, now)
		if text != "" {
			if msg, err = appendMessage(tx, t, model.SenderSystem, systemSenderName, text, now); err != nil {
				return err
			}
		}
		return saveTicket(tx, t)
	})
	if err != nil {
		return nil, nil, err
	}
	s.publish(ctx, events.TicketUpdated, t)
	return t, msg, nil
}

// IdleAssigned returns tickets claimed before `before` that the supporter
// has not answered yet.
func (s *TicketService) IdleAssigned(ctx context.Context, before time.Time) ([]model.Ticket, error) {
	items := []model.Ticket{}
	err := s.db.WithContext(ctx).
		Where("status = ? AND assigned_at < ?", model.TicketStatusAssigned, before.UTC()).
		Order("assigned_at ASC").
		Find(&items).Error
	return items, err
}

func statusMessage(next model.TicketStatus, actor string) string {
	switch next {
	case model.TicketStatusOpen:
		if actor == "" {
			actor = "The support agent"
		}
		return fmt.Sprintf("%s has left the conversation. Another agent will be with you shortly.", actor)
	case model.TicketStatusResolved:
		if actor == "" {
			return "This ticket has been resolved."
		}
		return fmt.Sprintf("Chat ended by %s. This ticket has been resolved.", actor)
	case model.TicketStatusClosed:
		if actor == "" {
			return "This ticket has been closed."
		}
		return fmt.Sprintf("This ticket has been closed by %s.", actor)
	}
	return ""
}
