package model

import "time"

type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusAssigned   TicketStatus = "assigned"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority: пустая строка означает medium (так же ведёт себя виджет).
func ParsePriority(s string) (Priority, bool) {
	switch p := Priority(s); p {
	case "":
		return PriorityMedium, true
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return p, true
	}
	return "", false
}

type Ticket struct {
	ID                  uint64       `gorm:"primaryKey" json:"id"`
	SessionID           string       `gorm:"size:64;uniqueIndex;not null" json:"session_id"`
	UserName            string       `gorm:"size:255;not null" json:"user_name"`
	UserEmail           string       `gorm:"size:255;not null;default:''" json:"user_email,omitempty"`
	Subject             string       `gorm:"size:255;not null" json:"subject"`
	Priority            Priority     `gorm:"type:varchar(16);not null" json:"priority"`
	Status              TicketStatus `gorm:"type:varchar(32);index:idx_support_tickets_status_created,priority:1;index:idx_support_tickets_status_assigned,priority:1;not null" json:"status"`
	AssignedSupporterID *int64       `gorm:"index" json:"assigned_supporter_id,omitempty"`
	// AssignedAt: момент claim; по нему ищутся тикеты без ответа саппортера.
	AssignedAt          *time.Time   `gorm:"index:idx_support_tickets_status_assigned,priority:2" json:"assigned_at,omitempty"`
	LastMessageID       int64        `gorm:"not null;default:0" json:"-"`

	// Время ставит сервис из своих часов, а не gorm.
	CreatedAt time.Time  `gorm:"autoCreateTime:false;index:idx_support_tickets_status_created,priority:2" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime:false" json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

func (Ticket) TableName() string { return "support_tickets" }

// Terminal: для resolved/closed живая сессия закончена, история остаётся доступной.
func (t *Ticket) Terminal() bool {
	return t.Status.Terminal()
}

// AssignedTo reports whether supporterID currently holds the ticket.
func (t *Ticket) AssignedTo(supporterID int64) bool {
	return t.AssignedSupporterID != nil && *t.AssignedSupporterID == supporterID
}

// Message: неизменяемая запись журнала сообщений тикета. Порядок задаётся ID, а не CreatedAt.
type Message struct {
	TicketID   uint64     `gorm:"primaryKey;autoIncrement:false" json:"ticket_id"`
	ID         int64      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	SessionID  string     `gorm:"size:64;index;not null" json:"ticket_session_id"`
	SenderType SenderType `gorm:"type:varchar(16);not null" json:"sender_type"`
	SenderName string     `gorm:"size:255;not null" json:"sender_name"`
	Message    string     `gorm:"type:text;not null" json:"message"`
	CreatedAt  time.Time  `gorm:"autoCreateTime:false" json:"created_at"`
}

func (Message) TableName() string { return "support_messages" }
