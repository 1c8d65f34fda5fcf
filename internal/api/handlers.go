package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gotrs-io/gotrs-chat/internal/middleware"
	"github.com/gotrs-io/gotrs-chat/internal/models"
	"github.com/gotrs-io/gotrs-chat/internal/services/support"
)

// TicketTokenHeader carries the customer's ticket token.
const TicketTokenHeader = "X-Ticket-Token"

// respondError maps service errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrManuallyAssigned),
		errors.Is(err, models.ErrNotQueued):
		status = http.StatusConflict
	case errors.Is(err, models.ErrNoCapacity),
		errors.Is(err, models.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

func (r *Router) createTicket(c *gin.Context) {
	var in support.CreateTicketInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
		return
	}
	view, err := r.support.CreateTicket(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (r *Router) currentTicket(c *gin.Context) {
	view, err := r.support.ResumeByToken(c.Request.Context(), c.GetHeader(TicketTokenHeader))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type openSessionRequest struct {
	TicketID string `json:"ticketId" binding:"required"`
}

func (r *Router) openSession(c *gin.Context) {
	var req openSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "ticketId is required"})
		return
	}
	view, err := r.support.ResumeByToken(c.Request.Context(), c.GetHeader(TicketTokenHeader))
	if err != nil || view.Ticket.ID != req.TicketID {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid ticket token"})
		return
	}
	sess, err := r.support.OpenSession(c.Request.Context(), req.TicketID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (r *Router) getSession(c *gin.Context) {
	sess, err := r.support.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (r *Router) joinSession(c *gin.Context) {
	staffID, _ := middleware.StaffID(c)
	sess, err := r.support.JoinSession(c.Request.Context(), c.Param("id"), staffID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type closeSessionRequest struct {
	ResolveTicket bool   `json:"resolveTicket"`
	Reason        string `json:"reason"`
}

func (r *Router) closeSession(c *gin.Context) {
	var req closeSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
			return
		}
	}
	staffID, _ := middleware.StaffID(c)
	sess, err := r.support.CloseSession(c.Request.Context(), support.CloseSessionInput{
		SessionID:     c.Param("id"),
		ClosedBy:      staffID,
		ResolveTicket: req.ResolveTicket,
		Reason:        req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (r *Router) transferSession(c *gin.Context) {
	res, err := r.support.TransferToAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId":         res.SessionID,
		"queued":            res.Queued,
		"position":          res.Position,
		"estimatedWaitTime": res.EstimatedWaitSeconds(),
		"agentId":           res.AgentID,
		"convertedToTicket": res.ConvertedToTicket,
		"ticketNo":          res.TicketNo,
	})
}

type assignRequest struct {
	AgentID string `json:"agentId" binding:"required"`
}

func (r *Router) assignSession(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "agentId is required"})
		return
	}
	sess, err := r.support.AssignManual(c.Request.Context(), c.Param("id"), req.AgentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (r *Router) queueStatus(c *gin.Context) {
	info, err := r.support.QueueStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId":         info.SessionID,
		"pool":              info.Pool,
		"position":          info.Position,
		"estimatedWaitTime": info.EstimatedWaitSeconds(),
	})
}

func (r *Router) listMessages(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid limit"})
			return
		}
		limit = n
	}
	msgs, err := r.support.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type sendMessageRequest struct {
	Content  string `json:"content" binding:"required"`
	Language string `json:"language"`
}

func (r *Router) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "content is required"})
		return
	}
	staffID, _ := middleware.StaffID(c)
	msg, err := r.support.SendMessage(c.Request.Context(), support.SendMessageInput{
		SessionID:  c.Param("id"),
		SenderType: models.SenderAgent,
		SenderID:   &staffID,
		Content:    req.Content,
		Language:   req.Language,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}
