package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/gotrs-chat/internal/auth"
	"github.com/gotrs-io/gotrs-chat/internal/models"
	"github.com/gotrs-io/gotrs-chat/internal/repository"
	"github.com/gotrs-io/gotrs-chat/internal/services/support"
	"github.com/gotrs-io/gotrs-chat/internal/services/transfer"
)

type stubSupport struct {
	err      error
	joinedBy string
	closed   support.CloseSessionInput
	assigned string
	sent     support.SendMessageInput
	created  support.CreateTicketInput
	limit    int
	auto     string
	tickets  repository.TicketFilter
	sessions repository.SessionFilter
}

func (s *stubSupport) CreateTicket(_ context.Context, in support.CreateTicketInput) (*support.TicketView, error) {
	s.created = in
	if s.err != nil {
		return nil, s.err
	}
	return &support.TicketView{Ticket: &models.Ticket{ID: "t1", TicketNo: "2025060110001"}, Token: "tok"}, nil
}

func (s *stubSupport) ResumeByToken(_ context.Context, token string) (*support.TicketView, error) {
	if token != "tok" {
		return nil, fmt.Errorf("token: %w", models.ErrNotFound)
	}
	return &support.TicketView{Ticket: &models.Ticket{ID: "t1"}}, nil
}

func (s *stubSupport) OpenSession(_ context.Context, ticketID string) (*models.Session, error) {
	return &models.Session{ID: "s1", TicketID: ticketID, Status: models.SessionStatusPending}, s.err
}

func (s *stubSupport) GetSession(_ context.Context, id string) (*models.Session, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Session{ID: id}, nil
}

func (s *stubSupport) History(_ context.Context, _ string, limit int) ([]*models.Message, error) {
	s.limit = limit
	return []*models.Message{{ID: "m1", Content: "hi"}}, s.err
}

func (s *stubSupport) SendMessage(_ context.Context, in support.SendMessageInput) (*models.Message, error) {
	s.sent = in
	return &models.Message{ID: "m2", Content: in.Content, SenderType: in.SenderType}, s.err
}

func (s *stubSupport) JoinSession(_ context.Context, id, staffID string) (*models.Session, error) {
	s.joinedBy = staffID
	if s.err != nil {
		return nil, s.err
	}
	return &models.Session{ID: id, AgentID: &staffID, Status: models.SessionStatusInProgress}, nil
}

func (s *stubSupport) CloseSession(_ context.Context, in support.CloseSessionInput) (*models.Session, error) {
	s.closed = in
	return &models.Session{ID: in.SessionID, Status: models.SessionStatusClosed}, s.err
}

func (s *stubSupport) TransferToAgent(_ context.Context, id string) (*transfer.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &transfer.Result{SessionID: id, Queued: true, Position: 2, EstimatedWait: 10 * time.Minute}, nil
}

func (s *stubSupport) AssignManual(_ context.Context, id, agentID string) (*models.Session, error) {
	s.assigned = agentID
	return &models.Session{ID: id, AgentID: &agentID}, s.err
}

func (s *stubSupport) QueueStatus(_ context.Context, id string) (*models.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.QueueInfo{SessionID: id, Pool: "unassigned", Position: 1, EstimatedWait: 5 * time.Minute}, nil
}

func (s *stubSupport) AutoAssign(_ context.Context, id string) (*models.Session, error) {
	s.auto = id
	if s.err != nil {
		return nil, s.err
	}
	agent := "agent-2"
	return &models.Session{ID: id, AgentID: &agent, Status: models.SessionStatusInProgress}, nil
}

func (s *stubSupport) GetTicket(_ context.Context, id string) (*models.Ticket, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Ticket{ID: id, TicketNo: "2025060110001", Status: models.TicketStatusWaiting}, nil
}

func (s *stubSupport) ListTickets(_ context.Context, f repository.TicketFilter) ([]*models.Ticket, error) {
	s.tickets = f
	return []*models.Ticket{{ID: "t1", Status: models.TicketStatusWaiting}}, s.err
}

func (s *stubSupport) ListSessions(_ context.Context, f repository.SessionFilter) ([]*models.Session, error) {
	s.sessions = f
	return []*models.Session{{ID: "s1", Status: models.SessionStatusQueued}, {ID: "s2", Status: models.SessionStatusQueued}}, s.err
}

type routerFixture struct {
	svc    *stubSupport
	router *Router
	jwt    *auth.JWTManager
}

func newRouterFixture(checks ...HealthCheck) *routerFixture {
	gin.SetMode(gin.TestMode)
	f := &routerFixture{svc: &stubSupport{}, jwt: auth.NewJWTManager("secret", time.Hour)}
	f.router = NewRouter(f.svc, f.jwt, nil, checks...)
	f.router.SetupRoutes()
	return f
}

func (f *routerFixture) do(t *testing.T, method, path, body string, role models.StaffRole) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if role != "" {
		token, err := f.jwt.GenerateToken(&models.Staff{ID: "agent-1", Username: "agent", Role: role})
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.GetEngine().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	f := newRouterFixture(HealthCheck{Name: "store", Check: func(context.Context) error { return nil }})
	w := f.do(t, "GET", "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	f = newRouterFixture(HealthCheck{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }})
	w = f.do(t, "GET", "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newRouterFixture()
	w := f.do(t, "GET", "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestCreateTicket(t *testing.T) {
	f := newRouterFixture()
	w := f.do(t, "POST", "/api/v1/tickets", `{"gameId":"g1","playerIdOrName":"p1","description":"stuck"}`, "")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "g1", f.svc.created.GameID)
	assert.Contains(t, w.Body.String(), `"token":"tok"`)

	f.svc.err = fmt.Errorf("description is required: %w", models.ErrInvalidInput)
	w = f.do(t, "POST", "/api/v1/tickets", `{"gameId":"g1"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOpenSessionRequiresMatchingToken(t *testing.T) {
	f := newRouterFixture()
	req := httptest.NewRequest("POST", "/api/v1/sessions", strings.NewReader(`{"ticketId":"t1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TicketTokenHeader, "tok")
	w := httptest.NewRecorder()
	f.router.GetEngine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("POST", "/api/v1/sessions", strings.NewReader(`{"ticketId":"t2"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TicketTokenHeader, "tok")
	w = httptest.NewRecorder()
	f.router.GetEngine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionRoutesRequireStaff(t *testing.T) {
	f := newRouterFixture()
	w := f.do(t, "POST", "/api/v1/sessions/s1/join", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJoinSession(t *testing.T) {
	f := newRouterFixture()
	w := f.do(t, "POST", "/api/v1/sessions/s1/join", "", models.RoleAgent)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "agent-1", f.svc.joinedBy)
}

func TestCloseSession(t *testing.T) {
	f := newRouterFixture()
	w := f.do(t, "PATCH", "/api/v1/sessions/s1/close", `{"resolveTicket":true,"reason":"fixed"}`, models.RoleAgent)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, support.CloseSessionInput{SessionID: "s1", ClosedBy: "agent-1", ResolveTicket: true, Reason: "fixed"}, f.svc.closed)

	w = f.do(t, "PATCH", "/api/v1/sessions/s2/close", "", models.RoleAgent)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.svc.closed.ResolveTicket)
}

func TestTransferSession(t *testing.T) {
	f := newRouterFixture()
	w := f.do(t, "POST", "/api/v1/sessions/s1/transfer", "", models.RoleAgent)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["queued"])
	assert.Equal(t, float64(600), body["estimatedWaitTime"])
}

func TestAssignSessionIsAdminOnly(t *testing.T) {
	f := newRouterFixture()
	w := f.do(t, "POST", "/api/v1/sessions/s1/assign", `{"agentId":"agent-9"}`, models.RoleAgent)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, "POST", "/api/v1/sessions/s1/assign", `{"agentId":"agent-9"}`, models.RoleAdmin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "agent-9", f.svc.assigned)

	w = f.do(t, "POST", "/api/v1/sessions/s1/assign", `{}`, models.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueueStatus(t *testing.T) {
	f := newRouterFixture()
	w := f.do(t, "GET", "/api/v1/sessions/s1/queue", "", models.RoleAgent)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"sessionId":"s1","pool":"unassigned","position":1,"estimatedWaitTime":300}`, w.Body.String())
}

func TestMessages(t *testing.T) {
	f := newRouterFixture()
	w := f.do(t, "GET", "/api/v1/sessions/s1/messages?limit=20", "", models.RoleAgent)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, f.svc.limit)

	w = f.do(t, "GET", "/api/v1/sessions/s1/messages?limit=abc", "", models.RoleAgent)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "POST", "/api/v1/sessions/s1/messages", `{"content":"on it"}`, models.RoleAgent)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.SenderAgent, f.svc.sent.SenderType)
	require.NotNil(t, f.svc.sent.SenderID)
	assert.Equal(t, "agent-1", *f.svc.sent.SenderID)
}

func TestListTickets(t *testing.T) {
	f := newRouterFixture()
	w := f.do(t, "GET", "/api/v1/tickets", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, "GET", "/api/v1/tickets?status=waiting&priority=URGENT&from=2025-06-01T00:00:00Z&limit=10", "", models.RoleAgent)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.TicketStatusWaiting, f.svc.tickets.Status)
	assert.Equal(t, models.PriorityUrgent, f.svc.tickets.Priority)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), f.svc.tickets.Created.From)
	assert.True(t, f.svc.tickets.Created.To.IsZero())
	assert.Equal(t, 10, f.svc.tickets.Limit)
	var body struct {
		Tickets []models.Ticket `json:"tickets"`
		Count   int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "t1", body.Tickets[0].ID)

	for _, q := range []string{"status=OPEN", "priority=critical", "from=yesterday", "limit=0",
		"from=2025-06-02T00:00:00Z&to=2025-06-01T00:00:00Z"} {
		w = f.do(t, "GET", "/api/v1/tickets?"+q, "", models.RoleAgent)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestGetTicketAndCurrentTicketCoexist(t *testing.T) {
	f := newRouterFixture()
	w := f.do(t, "GET", "/api/v1/tickets/t9", "", models.RoleAgent)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"t9"`)

	req := httptest.NewRequest("GET", "/api/v1/tickets/current", nil)
	req.Header.Set(TicketTokenHeader, "tok")
	rec := httptest.NewRecorder()
	f.router.GetEngine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListSessions(t *testing.T) {
	f := newRouterFixture()
	w := f.do(t, "GET", "/api/v1/sessions?status=queued&agentId=agent-7", "", models.RoleAgent)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.SessionStatusQueued, f.svc.sessions.Status)
	assert.Equal(t, "agent-7", f.svc.sessions.AgentID)
	assert.Zero(t, f.svc.sessions.Limit)
	assert.Contains(t, w.Body.String(), `"count":2`)

	w = f.do(t, "GET", "/api/v1/sessions?status=DONE", "", models.RoleAgent)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAutoAssignSession(t *testing.T) {
	f := newRouterFixture()
	w := f.do(t, "POST", "/api/v1/sessions/s1/auto-assign", "", models.RoleAgent)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s1", f.svc.auto)
	assert.Contains(t, w.Body.String(), `"status":"IN_PROGRESS"`)

	f.svc.err = fmt.Errorf("no online staff: %w", models.ErrNoCapacity)
	w = f.do(t, "POST", "/api/v1/sessions/s1/auto-assign", "", models.RoleAgent)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	f.svc.err = models.ErrManuallyAssigned
	w = f.do(t, "POST", "/api/v1/sessions/s1/auto-assign", "", models.RoleAgent)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("session s1: %w", models.ErrNotFound), http.StatusNotFound},
		{models.ErrInvalidState, http.StatusConflict},
		{models.ErrManuallyAssigned, http.StatusConflict},
		{models.ErrNotQueued, http.StatusConflict},
		{models.ErrInvalidInput, http.StatusBadRequest},
		{models.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			f := newRouterFixture()
			f.svc.err = tt.err
			w := f.do(t, "GET", "/api/v1/sessions/s1/queue", "", models.RoleAgent)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
