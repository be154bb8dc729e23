package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/support-service/internal/auth"
	"github.com/psds-microservice/support-service/internal/errs"
	"github.com/psds-microservice/support-service/internal/gateway"
	"github.com/psds-microservice/support-service/internal/model"
	"github.com/psds-microservice/support-service/internal/service"
)

// SessionHandler serves session lookups, history, presence and the
// realtime endpoints.
type SessionHandler struct {
	tickets  service.TicketServicer
	messages *service.MessageLog
	gw       *gateway.Gateway
}

func NewSessionHandler(tickets service.TicketServicer, messages *service.MessageLog, gw *gateway.Gateway) *SessionHandler {
	return &SessionHandler{tickets: tickets, messages: messages, gw: gw}
}

func (h *SessionHandler) Get(c *gin.Context) {
	t, err := h.tickets.GetBySession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *SessionHandler) Messages(c *gin.Context) {
	msgs, err := h.messages.List(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *SessionHandler) Presence(c *gin.Context) {
	sid := c.Param("session_id")
	if _, err := h.tickets.GetBySession(c.Request.Context(), sid); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.gw.Presence(sid))
}

// UserWS: GET /ws/support/user/:session_id?name=&email=
func (h *SessionHandler) UserWS(c *gin.Context) {
	h.serveWS(c, gateway.Identity{
		Role:  model.RoleUser,
		Name:  c.Query("name"),
		Email: c.Query("email"),
	})
}

// SupporterWS: GET /ws/support/supporter/:session_id?supporter_id=&name=&token=
// Идентичность берётся из токена, если middleware его проверил.
func (h *SessionHandler) SupporterWS(c *gin.Context) {
	id := gateway.Identity{Role: model.RoleSupporter, Name: c.Query("name")}
	if v := c.Query("supporter_id"); v != "" {
		n, ok := parseInt64(v)
		if !ok {
			badRequest(c, "invalid supporter_id")
			return
		}
		id.ActorID = n
	}
	if tokenID, tokenName, ok := auth.Supporter(c); ok {
		if id.ActorID == 0 {
			id.ActorID = tokenID
		}
		if err := auth.CheckSupporter(c, id.ActorID); err != nil {
			writeError(c, err)
			return
		}
		if id.Name == "" {
			id.Name = tokenName
		}
	}
	h.serveWS(c, id)
}

func (h *SessionHandler) serveWS(c *gin.Context, id gateway.Identity) {
	err := h.gw.ServeWS(c.Writer, c.Request, c.Param("session_id"), id)
	if err == nil {
		return
	}
	if errors.Is(err, errs.ErrAlreadyAssigned) {
		c.JSON(http.StatusConflict, gin.H{"error": "ticket is handled by another supporter", "code": errs.Code(err)})
		return
	}
	writeError(c, err)
}
