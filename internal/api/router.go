// Package api exposes the HTTP surface: the socket endpoint, health and
// metrics, and a thin REST layer over the support service.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gotrs-io/gotrs-chat/internal/auth"
	"github.com/gotrs-io/gotrs-chat/internal/middleware"
	"github.com/gotrs-io/gotrs-chat/internal/models"
	"github.com/gotrs-io/gotrs-chat/internal/repository"
	"github.com/gotrs-io/gotrs-chat/internal/services/support"
	"github.com/gotrs-io/gotrs-chat/internal/services/transfer"
	"github.com/gotrs-io/gotrs-chat/internal/version"
)

// Support is the slice of the support service the REST layer calls.
type Support interface {
	CreateTicket(ctx context.Context, in support.CreateTicketInput) (*support.TicketView, error)
	ResumeByToken(ctx context.Context, token string) (*support.TicketView, error)
	OpenSession(ctx context.Context, ticketID string) (*models.Session, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	History(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
	SendMessage(ctx context.Context, in support.SendMessageInput) (*models.Message, error)
	JoinSession(ctx context.Context, sessionID, staffID string) (*models.Session, error)
	CloseSession(ctx context.Context, in support.CloseSessionInput) (*models.Session, error)
	TransferToAgent(ctx context.Context, sessionID string) (*transfer.Result, error)
	AssignManual(ctx context.Context, sessionID, agentID string) (*models.Session, error)
	AutoAssign(ctx context.Context, sessionID string) (*models.Session, error)
	QueueStatus(ctx context.Context, sessionID string) (*models.QueueInfo, error)
	GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error)
	ListTickets(ctx context.Context, f repository.TicketFilter) ([]*models.Ticket, error)
	ListSessions(ctx context.Context, f repository.SessionFilter) ([]*models.Session, error)
}

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Router struct {
	engine         *gin.Engine
	support        Support
	authMiddleware *middleware.AuthMiddleware
	socket         http.Handler
	checks         []HealthCheck
}

func NewRouter(svc Support, jwtManager *auth.JWTManager, socket http.Handler, checks ...HealthCheck) *Router {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), middleware.RequestID())
	return &Router{
		engine:         engine,
		support:        svc,
		authMiddleware: middleware.NewAuthMiddleware(jwtManager),
		socket:         socket,
		checks:         checks,
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/healthz", r.healthCheck)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if r.socket != nil {
		r.engine.GET("/ws", gin.WrapH(r.socket))
	}

	v1 := r.engine.Group("/api/v1")
	{
		// Customer routes, authorized by the ticket token where needed
		v1.POST("/tickets", r.createTicket)
		v1.GET("/tickets/current", r.currentTicket)
		v1.POST("/sessions", r.openSession)

		tickets := v1.Group("/tickets")
		tickets.Use(r.authMiddleware.RequireAuth())
		{
			tickets.GET("", r.listTickets)
			tickets.GET("/:id", r.getTicket)
		}

		sessions := v1.Group("/sessions")
		sessions.Use(r.authMiddleware.RequireAuth())
		{
			sessions.GET("", r.listSessions)
			sessions.GET("/:id", r.getSession)
			sessions.POST("/:id/join", r.joinSession)
			sessions.PATCH("/:id/close", r.closeSession)
			sessions.POST("/:id/transfer", r.transferSession)
			sessions.POST("/:id/assign", r.authMiddleware.RequireRole(models.RoleAdmin), r.assignSession)
			sessions.POST("/:id/auto-assign", r.autoAssignSession)
			sessions.GET("/:id/queue", r.queueStatus)
			sessions.GET("/:id/messages", r.listMessages)
			sessions.POST("/:id/messages", r.sendMessage)
		}
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

func (r *Router) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for _, hc := range r.checks {
		if err := hc.Check(ctx); err != nil {
			failed[hc.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"errors": failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "gotrs-chat",
		"version": version.GetInfo(),
	})
}
