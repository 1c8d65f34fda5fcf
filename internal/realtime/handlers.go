package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gotrs-io/gotrs-chat/internal/auth"
	"github.com/gotrs-io/gotrs-chat/internal/events"
	"github.com/gotrs-io/gotrs-chat/internal/models"
	"github.com/gotrs-io/gotrs-chat/internal/services/support"
)

var (
	// ErrForbidden is acked when a connection acts outside its identity.
	ErrForbidden = errors.New("forbidden")
	errMalformed = errors.New("malformed message")
	errNotBound  = fmt.Errorf("connection has no session: %w", models.ErrInvalidState)
)

type handlerFunc func(ctx context.Context, c *Conn, data json.RawMessage) (any, error)

func (g *Gateway) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		events.Ping:            g.handlePing,
		events.SendMessage:     g.handleSendMessage,
		events.JoinRoom:        g.handleJoinRoom,
		events.LeaveRoom:       g.handleLeaveRoom,
		events.CreateTicket:    g.handleCreateTicket,
		events.ResumeTicket:    g.handleResumeTicket,
		events.RequestTransfer: g.handleRequestTransfer,
	}
}

// dispatch runs one client event and acks it when the client asked for an
// ack or the event failed.
func (g *Gateway) dispatch(ctx context.Context, c *Conn, env Envelope) {
	h, ok := g.handlers[env.Event]
	if !ok {
		clientEvents.WithLabelValues("unknown", "error").Inc()
		g.ack(c, env.ID, nil, fmt.Errorf("unknown event %q", env.Event))
		return
	}
	result, err := h(ctx, c, env.Data)
	if err != nil {
		clientEvents.WithLabelValues(env.Event, "error").Inc()
		g.logger.Printf("realtime: %s on %s failed: %v", env.Event, c.id, err)
		g.ack(c, env.ID, nil, err)
		return
	}
	clientEvents.WithLabelValues(env.Event, "ok").Inc()
	if env.ID != "" {
		g.ack(c, env.ID, result, nil)
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	return nil
}

type pongPayload struct {
	Time time.Time `json:"time"`
}

func (g *Gateway) handlePing(ctx context.Context, c *Conn, _ json.RawMessage) (any, error) {
	now := g.now()
	c.heartbeat.Ping(now)
	if id := c.Identity(); id.IsStaff() {
		g.support.RefreshPresence(ctx, id.StaffID)
	}
	g.saveMirror(ctx, c)
	g.push(c, events.Pong, pongPayload{Time: now.UTC()})
	return nil, nil
}

type sendMessageRequest struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
	Language  string `json:"language"`
}

func (g *Gateway) handleSendMessage(ctx context.Context, c *Conn, data json.RawMessage) (any, error) {
	var req sendMessageRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	sessionID, err := g.sessionFor(c, req.SessionID)
	if err != nil {
		return nil, err
	}
	in := support.SendMessageInput{SessionID: sessionID, Content: req.Content, Language: req.Language, SenderType: models.SenderPlayer}
	if id := c.Identity(); id.IsStaff() {
		staffID := id.StaffID
		in.SenderType = models.SenderAgent
		in.SenderID = &staffID
	}
	return g.support.SendMessage(ctx, in)
}

type roomRequest struct {
	Room string `json:"room"`
}

func (g *Gateway) handleJoinRoom(_ context.Context, c *Conn, data json.RawMessage) (any, error) {
	var req roomRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if !g.mayJoin(c, req.Room) {
		return nil, fmt.Errorf("room %q: %w", req.Room, ErrForbidden)
	}
	g.hub.Join(c, req.Room)
	return req, nil
}

func (g *Gateway) handleLeaveRoom(_ context.Context, c *Conn, data json.RawMessage) (any, error) {
	var req roomRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	g.hub.Leave(c, req.Room)
	return req, nil
}

// mayJoin lets staff into any ticket or session room and customers only
// into the rooms of their own ticket and session.
func (g *Gateway) mayJoin(c *Conn, room string) bool {
	id := c.Identity()
	if id.IsStaff() {
		return strings.HasPrefix(room, "ticket:") || strings.HasPrefix(room, "session:")
	}
	ticketID, sessionID := c.Binding()
	switch {
	case ticketID != "" && room == events.TicketRoom(ticketID):
		return true
	case sessionID != "" && room == events.SessionRoom(sessionID):
		return true
	}
	return false
}

func (g *Gateway) handleCreateTicket(ctx context.Context, c *Conn, data json.RawMessage) (any, error) {
	id := c.Identity()
	if id.IsStaff() {
		return nil, fmt.Errorf("staff cannot open tickets: %w", ErrForbidden)
	}
	var in support.CreateTicketInput
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	fillFromIdentity(&in, id)
	view, err := g.support.CreateTicket(ctx, in)
	if err != nil {
		return nil, err
	}
	g.bind(ctx, c, view.Ticket.ID, view.Session)
	return view, nil
}

func fillFromIdentity(in *support.CreateTicketInput, id *auth.Identity) {
	if in.GameID == "" {
		in.GameID = id.GameID
	}
	if in.AreaID == "" {
		in.AreaID = id.AreaID
	}
	if in.PlayerIDOrName == "" {
		in.PlayerIDOrName = id.UID
	}
}

type resumeRequest struct {
	Token string `json:"token"`
}

func (g *Gateway) handleResumeTicket(ctx context.Context, c *Conn, data json.RawMessage) (any, error) {
	if c.Identity().IsStaff() {
		return nil, fmt.Errorf("staff cannot resume tickets: %w", ErrForbidden)
	}
	var req resumeRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	view, err := g.support.ResumeByToken(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	if view.Session == nil && !view.Ticket.IsResolved() {
		sess, err := g.support.OpenSession(ctx, view.Ticket.ID)
		if err != nil {
			return nil, err
		}
		view.Session = sess
	}
	g.bind(ctx, c, view.Ticket.ID, view.Session)
	return view, nil
}

type transferRequest struct {
	SessionID string `json:"sessionId"`
}

type transferResponse struct {
	SessionID         string `json:"sessionId"`
	Queued            bool   `json:"queued"`
	Position          int    `json:"position,omitempty"`
	EstimatedWaitTime int    `json:"estimatedWaitTime,omitempty"`
	AgentID           string `json:"agentId,omitempty"`
	ConvertedToTicket bool   `json:"convertedToTicket"`
	TicketNo          string `json:"ticketNo,omitempty"`
}

func (g *Gateway) handleRequestTransfer(ctx context.Context, c *Conn, data json.RawMessage) (any, error) {
	var req transferRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	sessionID, err := g.sessionFor(c, req.SessionID)
	if err != nil {
		return nil, err
	}
	res, err := g.support.TransferToAgent(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return transferResponse{
		SessionID:         res.SessionID,
		Queued:            res.Queued,
		Position:          res.Position,
		EstimatedWaitTime: res.EstimatedWaitSeconds(),
		AgentID:           res.AgentID,
		ConvertedToTicket: res.ConvertedToTicket,
		TicketNo:          res.TicketNo,
	}, nil
}

// sessionFor resolves the session a request targets. Customers may only
// act on the session they are bound to; staff must name one.
func (g *Gateway) sessionFor(c *Conn, requested string) (string, error) {
	if c.Identity().IsStaff() {
		if requested == "" {
			return "", fmt.Errorf("sessionId is required: %w", models.ErrInvalidInput)
		}
		return requested, nil
	}
	_, bound := c.Binding()
	if bound == "" {
		return "", errNotBound
	}
	if requested != "" && requested != bound {
		return "", fmt.Errorf("session %s: %w", requested, ErrForbidden)
	}
	return bound, nil
}
