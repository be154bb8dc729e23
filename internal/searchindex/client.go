package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/psds-microservice/support-service/internal/events"
	"github.com/psds-microservice/support-service/internal/logging"
	"github.com/psds-microservice/support-service/internal/model"
)

// Client отправляет тикеты в search-service для индексации (best-effort, не блокирует API).
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient возвращает клиент. Если baseURL пустой, вызовы IndexTicket: no-op.
func NewClient(baseURL string, log *slog.Logger) *Client {
	if log == nil {
		log = logging.Discard()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		log: log,
	}
}

func (c *Client) Enabled() bool { return c.baseURL != "" }

// IndexTicketPayload: тело POST /search/index/ticket.
type IndexTicketPayload struct {
	TicketID            int64  `json:"ticket_id"`
	SessionID           string `json:"session_id"`
	UserName            string `json:"user_name"`
	UserEmail           string `json:"user_email,omitempty"`
	Subject             string `json:"subject"`
	Priority            string `json:"priority"`
	Status              string `json:"status"`
	AssignedSupporterID *int64 `json:"assigned_supporter_id,omitempty"`
}

// IndexTicket отправляет тикет в search-service.
func (c *Client) IndexTicket(ctx context.Context, t *model.Ticket) error {
	if c.baseURL == "" {
		return nil
	}
	payload := IndexTicketPayload{
		TicketID:            int64(t.ID),
		SessionID:           t.SessionID,
		UserName:            t.UserName,
		UserEmail:           t.UserEmail,
		Subject:             t.Subject,
		Priority:            string(t.Priority),
		Status:              string(t.Status),
		AssignedSupporterID: t.AssignedSupporterID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("searchindex: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search/index/ticket", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("searchindex: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("searchindex: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("searchindex: status %d for ticket %d", resp.StatusCode, t.ID)
	}
	return nil
}

// Publish implements events.Publisher; failures are logged and dropped.
func (c *Client) Publish(ctx context.Context, ev events.Event) {
	if err := c.IndexTicket(ctx, &ev.Ticket); err != nil {
		c.log.Warn("search index update failed", slog.Uint64("ticket_id", ev.Ticket.ID), logging.Err(err))
	}
}
