package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gotrs-io/gotrs-chat/internal/auth"
	"github.com/gotrs-io/gotrs-chat/internal/cache"
	"github.com/gotrs-io/gotrs-chat/internal/config"
	"github.com/gotrs-io/gotrs-chat/internal/events"
	"github.com/gotrs-io/gotrs-chat/internal/models"
	"github.com/gotrs-io/gotrs-chat/internal/services/support"
	"github.com/gotrs-io/gotrs-chat/internal/services/transfer"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Authenticator resolves connection credentials to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, creds auth.Credentials) (*auth.Identity, error)
}

// Support is the slice of the support service the gateway drives.
type Support interface {
	CreateTicket(ctx context.Context, in support.CreateTicketInput) (*support.TicketView, error)
	ResumeByToken(ctx context.Context, token string) (*support.TicketView, error)
	OpenSession(ctx context.Context, ticketID string) (*models.Session, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	SendMessage(ctx context.Context, in support.SendMessageInput) (*models.Message, error)
	TransferToAgent(ctx context.Context, sessionID string) (*transfer.Result, error)
	StaffOnline(ctx context.Context, staffID string) error
	StaffOffline(ctx context.Context, staffID string) error
	RefreshPresence(ctx context.Context, staffID string)
}

// Options tune the gateway.
type Options struct {
	CheckInterval  time.Duration
	PingTimeout    time.Duration
	MaxMissed      int
	ConnectionTTL  time.Duration
	AllowedOrigins []string
	SendBuffer     int
}

// OptionsFromConfig maps configuration onto gateway options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		CheckInterval:  cfg.Heartbeat.CheckInterval,
		PingTimeout:    cfg.Heartbeat.PingTimeout,
		MaxMissed:      cfg.Heartbeat.MaxMissed,
		ConnectionTTL:  cfg.Presence.ConnectionTTL,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
}

func (o *Options) setDefaults() {
	if o.CheckInterval <= 0 {
		o.CheckInterval = 30 * time.Second
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 60 * time.Second
	}
	if o.MaxMissed <= 0 {
		o.MaxMissed = 3
	}
	if o.ConnectionTTL <= 0 {
		o.ConnectionTTL = 2 * time.Minute
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
}

// Option configures a Gateway.
type Option func(*Gateway)

func WithLogger(l *log.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// WithMirror keeps a TTL copy of every connection in store.
func WithMirror(store cache.OrderingStore) Option {
	return func(g *Gateway) { g.mirror = store }
}

// Gateway accepts socket connections and routes their events.
type Gateway struct {
	hub      *Hub
	authn    Authenticator
	support  Support
	opts     Options
	upgrader websocket.Upgrader
	mirror   cache.OrderingStore
	logger   *log.Logger
	now      func() time.Time
	handlers map[string]handlerFunc

	// lost holds sessions whose customer connection timed out.
	lost sync.Map
}

func NewGateway(hub *Hub, authn Authenticator, svc Support, opts Options, options ...Option) *Gateway {
	opts.setDefaults()
	g := &Gateway{
		hub:     hub,
		authn:   authn,
		support: svc,
		opts:    opts,
		logger:  log.Default(),
		now:     time.Now,
	}
	for _, opt := range options {
		opt(g)
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	g.handlers = g.routes()
	return g
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// Hub returns the gateway's room hub.
func (g *Gateway) Hub() *Hub { return g.hub }

// CredentialsFromRequest reads the authentication query parameters.
func CredentialsFromRequest(r *http.Request) auth.Credentials {
	q := r.URL.Query()
	creds := auth.Credentials{
		StaffToken:  q.Get("token"),
		TicketToken: q.Get("ticketToken"),
		GameID:      q.Get("gameid"),
		AreaID:      q.Get("areaid"),
		UID:         q.Get("uid"),
		Timestamp:   q.Get("ts"),
		Sign:        q.Get("sign"),
	}
	if creds.StaffToken == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			creds.StaffToken = strings.TrimPrefix(h, "Bearer ")
		}
	}
	return creds
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Printf("realtime: upgrade failed: %v", err)
		return
	}
	now := g.now()
	c := newConn(uuid.NewString(), ws, g.opts.SendBuffer, NewHeartbeat(g.opts.PingTimeout, g.opts.MaxMissed, now), now)

	creds := CredentialsFromRequest(r)
	ctx := context.WithoutCancel(r.Context())
	identity, err := g.authn.Authenticate(ctx, creds)
	if err != nil {
		g.logger.Printf("realtime: authentication failed for %s: %v", r.RemoteAddr, err)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}

	c.authenticated(identity)
	g.hub.register(c)
	liveConnections.WithLabelValues(string(identity.Kind)).Inc()
	g.attach(ctx, c, identity, creds)
	go g.writePump(c)
	go g.readPump(ctx, c)
}

// attach runs the post-authentication steps for each identity kind.
func (g *Gateway) attach(ctx context.Context, c *Conn, id *auth.Identity, creds auth.Credentials) {
	switch id.Kind {
	case auth.KindStaff:
		g.hub.Join(c, events.StaffRoom)
		g.hub.Join(c, events.UserRoom(id.StaffID))
		if err := g.support.StaffOnline(ctx, id.StaffID); err != nil {
			g.logger.Printf("realtime: failed to mark %s online: %v", id.StaffID, err)
		}
	case auth.KindCustomer:
		g.hub.Join(c, events.TicketRoom(id.TicketID))
		view, err := g.support.ResumeByToken(ctx, creds.TicketToken)
		if err != nil {
			g.logger.Printf("realtime: failed to load ticket %s: %v", id.TicketID, err)
			break
		}
		g.bind(ctx, c, view.Ticket.ID, view.Session)
	}
	g.saveMirror(ctx, c)
	g.logger.Printf("realtime: %s connected as %s via %s", c.id, id.Kind, id.Provider)
}

// bind attaches c to a ticket and, when present, its session. Binding to a
// session whose previous connection timed out announces the reconnect.
func (g *Gateway) bind(ctx context.Context, c *Conn, ticketID string, sess *models.Session) {
	g.hub.Join(c, events.TicketRoom(ticketID))
	sessionID := ""
	if sess != nil && !sess.IsClosed() {
		sessionID = sess.ID
	}
	prev := c.bind(ticketID, sessionID)
	if prev != "" && prev != sessionID {
		g.hub.Leave(c, events.SessionRoom(prev))
	}
	if sessionID == "" {
		g.saveMirror(ctx, c)
		return
	}
	g.hub.Join(c, events.SessionRoom(sessionID))
	if _, wasLost := g.lost.LoadAndDelete(sessionID); wasLost {
		g.announcePresence(ctx, events.PlayerReconnected, ticketID, sessionID)
	}
	g.saveMirror(ctx, c)
}

func (g *Gateway) readPump(ctx context.Context, c *Conn) {
	defer g.disconnect(ctx, c, false)

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				g.logger.Printf("realtime: read error on %s: %v", c.id, err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			g.ack(c, "", nil, errMalformed)
			continue
		}
		go g.dispatch(ctx, c, env)
	}
}

func (g *Gateway) writePump(c *Conn) {
	ping := time.NewTicker(pingPeriod)
	check := time.NewTicker(g.opts.CheckInterval)
	defer func() {
		ping.Stop()
		check.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-check.C:
			g.checkHeartbeat(context.Background(), c)
		}
	}
}

// checkHeartbeat warns a quiet connection and drops it once it has missed
// too many checks. The session stays open so a reconnect resumes it.
func (g *Gateway) checkHeartbeat(ctx context.Context, c *Conn) {
	res := c.heartbeat.Check(g.now())
	switch res.Status {
	case HeartbeatWarning:
		g.push(c, events.HeartbeatWarning, events.HeartbeatWarningPayload{Missed: res.Missed, Remaining: res.Remaining})
	case HeartbeatLost:
		g.logger.Printf("realtime: heartbeat lost on %s after %d missed checks", c.id, res.Missed)
		g.push(c, events.ConnectionLost, events.ConnectionLostPayload{CanReconnect: true, Reason: "heartbeat timeout"})
		g.disconnect(ctx, c, true)
	}
}

// disconnect unregisters c. Staff go offline once their last connection
// closes; a lost customer connection is announced to its session room.
func (g *Gateway) disconnect(ctx context.Context, c *Conn, lost bool) {
	if !g.hub.unregister(c) {
		return
	}
	c.markClosed()
	id := c.Identity()
	if id != nil {
		liveConnections.WithLabelValues(string(id.Kind)).Dec()
	}
	g.deleteMirror(ctx, c)

	if id.IsStaff() && g.hub.Members(events.UserRoom(id.StaffID)) == 0 {
		if err := g.support.StaffOffline(ctx, id.StaffID); err != nil {
			g.logger.Printf("realtime: failed to mark %s offline: %v", id.StaffID, err)
		}
	}
	ticketID, sessionID := c.Binding()
	if lost && sessionID != "" && !id.IsStaff() {
		g.lost.Store(sessionID, struct{}{})
		g.announcePresence(ctx, events.PlayerDisconnected, ticketID, sessionID)
	}
	g.logger.Printf("realtime: %s disconnected", c.id)
}

// Close drops every live connection.
func (g *Gateway) Close(ctx context.Context) {
	for _, c := range g.hub.Connections() {
		g.disconnect(ctx, c, false)
	}
}

func (g *Gateway) push(c *Conn, event string, payload any) {
	if err := g.hub.Send(c, event, payload); err != nil {
		g.logger.Printf("realtime: failed to push %s to %s: %v", event, c.id, err)
	}
}

func (g *Gateway) ack(c *Conn, id string, payload any, err error) {
	msg, encErr := encodeAck(id, payload, err)
	if encErr != nil {
		g.logger.Printf("realtime: failed to ack %s on %s: %v", id, c.id, encErr)
		return
	}
	g.hub.sendRaw(c, msg)
}

// announcePresence tells the session room and the session's bound agent
// that the customer dropped or came back. The agent may never have joined
// the session room.
func (g *Gateway) announcePresence(ctx context.Context, event, ticketID, sessionID string) {
	rooms := []string{events.SessionRoom(sessionID)}
	sess, err := g.support.GetSession(ctx, sessionID)
	if err != nil {
		g.logger.Printf("realtime: failed to load session %s: %v", sessionID, err)
	} else if agent := sess.Agent(); agent != "" {
		rooms = append(rooms, events.UserRoom(agent))
	}
	payload := events.PlayerPresencePayload{SessionID: sessionID, TicketID: ticketID}
	if err := g.hub.EmitRooms(ctx, rooms, event, payload); err != nil {
		g.logger.Printf("realtime: failed to emit %s for %s: %v", event, sessionID, err)
	}
}

func (g *Gateway) saveMirror(ctx context.Context, c *Conn) {
	if g.mirror == nil {
		return
	}
	rec := cache.ConnectionRecord{ID: c.id, ConnectedAt: c.connectedAt.UTC()}
	if id := c.Identity(); id != nil {
		rec.Kind = string(id.Kind)
		rec.StaffID = id.StaffID
	}
	rec.TicketID, rec.SessionID = c.Binding()
	raw, err := rec.Encode()
	if err != nil {
		g.logger.Printf("realtime: %v", err)
		return
	}
	if err := g.mirror.Set(ctx, cache.ConnectionKey(c.id), raw, g.opts.ConnectionTTL); err != nil {
		g.logger.Printf("realtime: failed to mirror %s: %v", c.id, err)
	}
}

func (g *Gateway) deleteMirror(ctx context.Context, c *Conn) {
	if g.mirror == nil {
		return
	}
	if err := g.mirror.Del(ctx, cache.ConnectionKey(c.id)); err != nil && !errors.Is(err, cache.ErrKeyNotFound) {
		g.logger.Printf("realtime: failed to drop mirror of %s: %v", c.id, err)
	}
}
