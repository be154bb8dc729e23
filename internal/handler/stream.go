package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/support-service/internal/service"
)

const defaultHeartbeat = 15 * time.Second

// StreamHandler отдаёт ленту изменений тикетов через Server-Sent Events:
// snapshot открытых тикетов, затем ticket-события, heartbeat по таймеру.
type StreamHandler struct {
	tickets   service.TicketServicer
	feed      *service.Feed
	heartbeat time.Duration
}

func NewStreamHandler(tickets service.TicketServicer, feed *service.Feed, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &StreamHandler{tickets: tickets, feed: feed, heartbeat: heartbeat}
}

type ticketEvent struct {
	Event  string      `json:"event"`
	Ticket interface{} `json:"ticket"`
}

func (h *StreamHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	sub := h.feed.Subscribe(0)
	defer sub.Close()

	items, err := h.tickets.ListOpen(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent("snapshot", items)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub.C():
			if !ok {
				return false
			}
			// подписчик отстал: часть событий потеряна, шлём полный снимок
			if sub.TakeResync() {
				items, err := h.tickets.ListOpen(ctx)
				if err != nil {
					return false
				}
				c.SSEvent("snapshot", items)
				return true
			}
			c.SSEvent("ticket", ticketEvent{Event: ev.Name, Ticket: ev.Ticket})
			return true
		case t := <-ticker.C:
			c.SSEvent("heartbeat", gin.H{"time": t.Unix()})
			return true
		}
	})
}
