package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gotrs-io/gotrs-chat/internal/models"
	"github.com/gotrs-io/gotrs-chat/internal/repository"
)

var (
	ticketStatuses = map[models.TicketStatus]bool{
		models.TicketStatusWaiting:    true,
		models.TicketStatusInProgress: true,
		models.TicketStatusResolved:   true,
	}
	ticketPriorities = map[models.TicketPriority]bool{
		models.PriorityLow:    true,
		models.PriorityNormal: true,
		models.PriorityHigh:   true,
		models.PriorityUrgent: true,
	}
	sessionStatuses = map[models.SessionStatus]bool{
		models.SessionStatusPending:    true,
		models.SessionStatusQueued:     true,
		models.SessionStatusInProgress: true,
		models.SessionStatusClosed:     true,
	}
)

// parseListQuery reads the shared from/to/limit parameters.
func parseListQuery(c *gin.Context) (repository.TimeRange, int, error) {
	var tr repository.TimeRange
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &tr.From}, {"to", &tr.To}} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return tr, 0, fmt.Errorf("invalid %s: expected RFC3339", p.name)
		}
		*p.dst = t
	}
	if !tr.From.IsZero() && !tr.To.IsZero() && !tr.From.Before(tr.To) {
		return tr, 0, fmt.Errorf("from must be before to")
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return tr, 0, fmt.Errorf("invalid limit")
		}
		limit = n
	}
	return tr, limit, nil
}

func (r *Router) listTickets(c *gin.Context) {
	created, limit, err := parseListQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	f := repository.TicketFilter{Created: created, Limit: limit}
	if raw := c.Query("status"); raw != "" {
		f.Status = models.TicketStatus(strings.ToUpper(raw))
		if !ticketStatuses[f.Status] {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid status"})
			return
		}
	}
	if raw := c.Query("priority"); raw != "" {
		f.Priority = models.TicketPriority(strings.ToUpper(raw))
		if !ticketPriorities[f.Priority] {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid priority"})
			return
		}
	}

	tickets, err := r.support.ListTickets(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets, "count": len(tickets)})
}

func (r *Router) getTicket(c *gin.Context) {
	t, err := r.support.GetTicket(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (r *Router) listSessions(c *gin.Context) {
	created, limit, err := parseListQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	f := repository.SessionFilter{Created: created, Limit: limit, AgentID: c.Query("agentId")}
	if raw := c.Query("status"); raw != "" {
		f.Status = models.SessionStatus(strings.ToUpper(raw))
		if !sessionStatuses[f.Status] {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid status"})
			return
		}
	}

	sessions, err := r.support.ListSessions(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

func (r *Router) autoAssignSession(c *gin.Context) {
	sess, err := r.support.AutoAssign(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}
