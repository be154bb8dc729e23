package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/support-service/internal/auth"
	"github.com/psds-microservice/support-service/internal/gateway"
	"github.com/psds-microservice/support-service/internal/model"
	"github.com/psds-microservice/support-service/internal/service"
)

type TicketHandler struct {
	svc service.TicketServicer
	gw  *gateway.Gateway
}

func NewTicketHandler(svc service.TicketServicer, gw *gateway.Gateway) *TicketHandler {
	return &TicketHandler{svc: svc, gw: gw}
}

type createTicketRequest struct {
	UserName  string `json:"user_name" binding:"required"`
	UserEmail string `json:"user_email"`
	Subject   string `json:"subject" binding:"required"`
	Priority  string `json:"priority"`
}

func (h *TicketHandler) Create(c *gin.Context) {
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	t, err := h.svc.Create(c.Request.Context(), service.CreateTicketInput{
		UserName:  req.UserName,
		UserEmail: req.UserEmail,
		Subject:   req.Subject,
		Priority:  req.Priority,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// List без параметров отдаёт очередь (открытые тикеты, старые первыми).
// С фильтрами status/supporter_id/limit/offset возвращает {tickets,total}.
func (h *TicketHandler) List(c *gin.Context) {
	if c.Query("status") == "" && c.Query("supporter_id") == "" && c.Query("limit") == "" && c.Query("offset") == "" {
		items, err := h.svc.ListOpen(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, items)
		return
	}

	var filter service.ListFilter
	if v := c.Query("status"); v != "" {
		st, ok := model.ParseTicketStatus(v)
		if !ok {
			badRequest(c, "invalid status")
			return
		}
		filter.Status = st
	}
	if v := c.Query("supporter_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			badRequest(c, "invalid supporter_id")
			return
		}
		filter.SupporterID = &id
	}
	// Parse limit and offset
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			filter.Offset = parsed
		}
	}

	items, total, err := h.svc.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tickets": items,
		"total":   total,
	})
}

func (h *TicketHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	t, err := h.svc.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type assignRequest struct {
	SupporterID   int64  `json:"supporter_id" binding:"required"`
	SupporterName string `json:"supporter_name"`
}

func (h *TicketHandler) Assign(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SupporterID <= 0 {
		badRequest(c, "supporter_id is required")
		return
	}
	if err := auth.CheckSupporter(c, req.SupporterID); err != nil {
		writeError(c, err)
		return
	}
	if req.SupporterName == "" {
		_, req.SupporterName, _ = auth.Supporter(c)
	}
	t, err := h.gw.Claim(c.Request.Context(), id, req.SupporterID, req.SupporterName)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type actorRequest struct {
	Actor string `json:"actor"`
}

func (h *TicketHandler) Release(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req actorRequest
	// тело необязательно
	_ = c.ShouldBindJSON(&req)
	t, err := h.gw.Release(c.Request.Context(), id, req.Actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Actor  string `json:"actor"`
}

func (h *TicketHandler) UpdateStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	next, ok := model.ParseTicketStatus(req.Status)
	if !ok {
		badRequest(c, "invalid status")
		return
	}
	t, err := h.gw.ChangeStatus(c.Request.Context(), id, next, req.Actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}
