// Package gateway terminates realtime support connections: it binds them
// in the session registry, replays history, relays messages between the
// two sides and turns client intents into ticket operations.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/psds-microservice/support-service/internal/errs"
	"github.com/psds-microservice/support-service/internal/keymutex"
	"github.com/psds-microservice/support-service/internal/logging"
	"github.com/psds-microservice/support-service/internal/model"
	"github.com/psds-microservice/support-service/internal/presence"
	"github.com/psds-microservice/support-service/internal/service"
	"github.com/psds-microservice/support-service/internal/session"
)

type Config struct {
	RelayTimeout      time.Duration
	SendQueueSize     int
	MaxProtocolErrors int
	// AllowedOrigins: пусто или "*" разрешает любой Origin.
	AllowedOrigins []string
}

func (c *Config) setDefaults() {
	if c.RelayTimeout <= 0 {
		c.RelayTimeout = 2 * time.Second
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
	if c.MaxProtocolErrors <= 0 {
		c.MaxProtocolErrors = 5
	}
}

// Identity describes who is connecting. ActorID is the supporter id and is
// zero for users.
type Identity struct {
	Role    model.Role
	ActorID int64
	Name    string
	Email   string
}

type Deps struct {
	Tickets  *service.TicketService
	Messages *service.MessageLog
	Assign   *service.AssignmentCoordinator
	Registry *session.Registry
	Presence *presence.Coordinator
}

type Gateway struct {
	tickets  *service.TicketService
	messages *service.MessageLog
	assign   *service.AssignmentCoordinator
	registry *session.Registry
	presence *presence.Coordinator

	// Append и постановка в очереди делаются под блокировкой сессии,
	// поэтому каждый получатель видит сообщения в порядке журнала.
	locks *keymutex.KeyMutex

	cfg      Config
	upgrader websocket.Upgrader
	log      *slog.Logger
	wg       sync.WaitGroup
}

func New(d Deps, cfg Config, log *slog.Logger) *Gateway {
	cfg.setDefaults()
	if log == nil {
		log = logging.Discard()
	}
	g := &Gateway{
		tickets:  d.Tickets,
		messages: d.Messages,
		assign:   d.Assign,
		registry: d.Registry,
		presence: d.Presence,
		locks:    keymutex.New(),
		cfg:      cfg,
		log:      log.With(slog.String("component", "gateway")),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range g.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Prepare проверяет сессию до апгрейда HTTP-соединения. Для саппортера
// выполняется идемпотентный claim (кроме закрытых тикетов: их можно только
// просматривать). Возвращает тикет и identity с заполненным именем.
func (g *Gateway) Prepare(ctx context.Context, sessionID string, id Identity) (*model.Ticket, Identity, error) {
	if !id.Role.Valid() {
		return nil, id, errs.Validation("unknown role %q", id.Role)
	}
	t, err := g.tickets.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, id, err
	}
	id.Name = strings.TrimSpace(id.Name)
	switch id.Role {
	case model.RoleUser:
		id.ActorID = 0
		if id.Name == "" {
			id.Name = t.UserName
		}
	case model.RoleSupporter:
		if id.ActorID <= 0 {
			return nil, id, errs.Validation("supporter_id is required")
		}
		if id.Name == "" {
			id.Name = fmt.Sprintf("Support agent #%d", id.ActorID)
		}
		if !t.Terminal() {
			if t, err = g.Claim(ctx, t.ID, id.ActorID, id.Name); err != nil {
				return nil, id, err
			}
		}
	}
	return t, id, nil
}

// ServeWS runs Prepare, upgrades the request and serves the connection
// until it closes. A non-nil error means nothing was written to w.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string, id Identity) error {
	t, id, err := g.Prepare(r.Context(), sessionID, id)
	if err != nil {
		return err
	}
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrader уже ответил клиенту.
		g.log.Warn("websocket upgrade failed", slog.String("session_id", sessionID), logging.Err(err))
		return nil
	}
	g.Serve(context.WithoutCancel(r.Context()), ws, t, id)
	return nil
}

// Serve owns ws until the connection is closed.
func (g *Gateway) Serve(ctx context.Context, ws *websocket.Conn, t *model.Ticket, id Identity) {
	g.wg.Add(1)
	defer g.wg.Done()

	log := g.log.With(slog.String("session_id", t.SessionID), slog.String("role", string(id.Role)))
	c := newWSConn(ws, g.cfg.SendQueueSize, log)
	go c.writeLoop()

	conn, cur, err := g.open(ctx, t.SessionID, id, c)
	defer func() {
		g.detach(conn)
		c.Close(session.ReasonTransport)
		<-c.done
		log.Info("connection closed", slog.String("reason", string(c.closeReason())))
	}()
	if err != nil {
		log.Error("hydrate failed", logging.Err(err))
		c.Close(session.ReasonTransport)
		return
	}
	log.Info("connection open", slog.String("connection_id", conn.ID))

	switch {
	case cur.Terminal():
		c.Close(session.ReasonEnded)
		return
	case id.Role == model.RoleSupporter && !cur.AssignedTo(id.ActorID):
		// Тикет успели отпустить или отдать другому между Prepare и Serve.
		c.Close(session.ReasonReleased)
		return
	}
	g.readLoop(ctx, conn, c, id, log)
}

// detach снимает соединение с сессии. Индикатор набора вытесненного
// соединения уже принадлежит преемнику, его не трогаем.
func (g *Gateway) detach(conn *session.Connection) {
	if g.registry.Release(conn) {
		g.presence.Clear(conn.SessionID, conn.Role)
	}
}

// open binds the connection and replays the log under the session lock.
func (g *Gateway) open(ctx context.Context, sessionID string, id Identity, c *wsConn) (*session.Connection, *model.Ticket, error) {
	unlock := g.locks.Lock(sessionID)
	defer unlock()

	conn := g.registry.Bind(sessionID, id.Role, id.ActorID, c)
	cur, err := g.tickets.GetBySession(ctx, sessionID)
	if err != nil {
		return conn, nil, err
	}
	history, err := g.messages.List(ctx, sessionID)
	if err != nil {
		return conn, nil, err
	}
	for i := range history {
		frame, err := encode(messageFrame(&history[i]))
		if err != nil {
			return conn, nil, err
		}
		if err := g.sendBounded(ctx, c, frame); err != nil {
			return conn, nil, err
		}
	}
	return conn, cur, nil
}

func (g *Gateway) sendBounded(ctx context.Context, h session.Handle, frame []byte) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.RelayTimeout)
	defer cancel()
	return h.Send(ctx, frame)
}

func (g *Gateway) readLoop(ctx context.Context, conn *session.Connection, c *wsConn, id Identity, log *slog.Logger) {
	ws := c.ws
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	protocolErrors := 0
	violation := func(text string) bool {
		protocolErrors++
		g.reply(c, errorFrame("protocol_error", text))
		if protocolErrors > g.cfg.MaxProtocolErrors {
			log.Warn("closing connection after repeated protocol errors", slog.Int("errors", protocolErrors))
			c.Close(session.ReasonProtocolViolation)
			return true
		}
		return false
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug("websocket read failed", logging.Err(err))
			}
			return
		}
		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			if violation("malformed frame") {
				return
			}
			continue
		}
		switch in.Type {
		case FrameMessage:
			g.handleMessage(ctx, conn, c, id, in.Message)
		case FrameTyping:
			g.handleTyping(conn)
		case FrameEndSession:
			if g.handleEnd(ctx, conn, c, id, in.Status) {
				return
			}
		default:
			if violation(fmt.Sprintf("unknown frame type %q", in.Type)) {
				return
			}
		}
	}
}

func (g *Gateway) reply(c *wsConn, f Outbound) {
	frame, err := encode(f)
	if err != nil {
		return
	}
	c.TrySend(frame)
}

func (g *Gateway) handleMessage(ctx context.Context, conn *session.Connection, c *wsConn, id Identity, text string) {
	unlock := g.locks.Lock(conn.SessionID)
	defer unlock()

	msg, err := g.messages.Append(ctx, conn.SessionID, id.Role.SenderType(), id.Name, text)
	if err != nil {
		g.reply(c, errorFrame(errs.Code(err), err.Error()))
		return
	}
	g.presence.Clear(conn.SessionID, id.Role)
	g.broadcastLocked(ctx, conn.SessionID, messageFrame(msg))
}

// handleTyping relays a debounced indicator to the peer. Typing frames are
// droppable and never wait for queue space.
func (g *Gateway) handleTyping(conn *session.Connection) {
	if !g.presence.SignalTyping(conn.SessionID, conn.Role) {
		return
	}
	peer := g.registry.Peer(conn.SessionID, conn.Role)
	if peer == nil {
		return
	}
	frame, err := encode(Outbound{Type: FrameTyping, Role: conn.Role})
	if err != nil {
		return
	}
	if ts, ok := peer.Handle.(interface{ TrySend([]byte) bool }); ok {
		ts.TrySend(frame)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_ = peer.Handle.Send(ctx, frame)
}

// handleEnd: явное завершение чата. Пользователь всегда резолвит тикет,
// саппортер может выбрать resolved или closed. Возвращает true, если
// соединение надо закрыть.
func (g *Gateway) handleEnd(ctx context.Context, conn *session.Connection, c *wsConn, id Identity, status string) bool {
	next := model.TicketStatusResolved
	if id.Role == model.RoleSupporter {
		next = model.TicketStatusClosed
		if status != "" {
			parsed, ok := model.ParseTicketStatus(status)
			if !ok || !parsed.Terminal() {
				g.reply(c, errorFrame(errs.Code(errs.ErrValidation), "status must be resolved or closed"))
				return false
			}
			next = parsed
		}
	}
	t, err := g.tickets.GetBySession(ctx, conn.SessionID)
	if err == nil {
		_, err = g.ChangeStatus(ctx, t.ID, next, id.Name)
	}
	if err != nil {
		g.reply(c, errorFrame(errs.Code(err), err.Error()))
		if id.Role == model.RoleUser {
			c.Close(session.ReasonEnded)
			return true
		}
		return false
	}
	return true
}

// broadcastLocked enqueues f to every live connection of the session. The
// caller holds the session lock. A peer that cannot accept the frame within
// RelayTimeout is closed so its next connection re-hydrates from the log.
func (g *Gateway) broadcastLocked(ctx context.Context, sessionID string, f Outbound) {
	frame, err := encode(f)
	if err != nil {
		g.log.Error("encode frame", logging.Err(err))
		return
	}
	for _, conn := range g.registry.Connections(sessionID) {
		err := g.sendBounded(ctx, conn.Handle, frame)
		switch {
		case err == nil:
		case errors.Is(err, errs.ErrRelayTimeout):
			g.log.Warn("relay timed out, dropping slow connection",
				slog.String("session_id", sessionID), slog.String("role", string(conn.Role)))
			conn.Handle.Close(session.ReasonSlowConsumer)
			g.registry.Release(conn)
		default:
			g.registry.Release(conn)
		}
	}
}

// Claim assigns the ticket and announces a fresh assignment to the session.
func (g *Gateway) Claim(ctx context.Context, ticketID uint64, supporterID int64, name string) (*model.Ticket, error) {
	t, err := g.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	unlock := g.locks.Lock(t.SessionID)
	defer unlock()

	t, msg, err := g.assign.Claim(ctx, ticketID, supporterID, name)
	if err != nil {
		return nil, err
	}
	if msg != nil {
		g.broadcastLocked(ctx, t.SessionID, Outbound{Type: FrameSupporterJoined, Message: msg})
	}
	return t, nil
}

// Release returns the ticket to the queue and disconnects the supporter.
func (g *Gateway) Release(ctx context.Context, ticketID uint64, actor string) (*model.Ticket, error) {
	return g.ChangeStatus(ctx, ticketID, model.TicketStatusOpen, actor)
}

// ChangeStatus применяет переход статуса и рассылает системное сообщение.
// Завершённая сессия закрывает оба соединения, возврат в очередь
// закрывает соединение саппортера.
func (g *Gateway) ChangeStatus(ctx context.Context, ticketID uint64, next model.TicketStatus, actor string) (*model.Ticket, error) {
	t, err := g.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	unlock := g.locks.Lock(t.SessionID)
	defer unlock()

	t, msg, err := g.tickets.UpdateStatus(ctx, ticketID, next, actor)
	if err != nil {
		return nil, err
	}
	if msg != nil {
		g.broadcastLocked(ctx, t.SessionID, messageFrame(msg))
	}
	switch {
	case next.Terminal():
		for _, conn := range g.registry.Connections(t.SessionID) {
			conn.Handle.Close(session.ReasonEnded)
		}
	case next == model.TicketStatusOpen:
		if conn := g.registry.Get(t.SessionID, model.RoleSupporter); conn != nil {
			conn.Handle.Close(session.ReasonReleased)
		}
	}
	return t, nil
}

// PresenceInfo is the online/typing snapshot of one session.
type PresenceInfo struct {
	SessionID       string `json:"session_id"`
	UserOnline      bool   `json:"user_online"`
	SupporterOnline bool   `json:"supporter_online"`
	UserTyping      bool   `json:"user_typing"`
	SupporterTyping bool   `json:"supporter_typing"`
}

func (g *Gateway) Presence(sessionID string) PresenceInfo {
	user, sup := g.registry.Online(sessionID)
	return PresenceInfo{
		SessionID:       sessionID,
		UserOnline:      user,
		SupporterOnline: sup,
		UserTyping:      user && g.presence.IsTyping(sessionID, model.RoleUser),
		SupporterTyping: sup && g.presence.IsTyping(sessionID, model.RoleSupporter),
	}
}

// ActiveSessions returns the number of sessions with a live connection.
func (g *Gateway) ActiveSessions() int {
	return g.registry.SessionCount()
}

// Shutdown closes every live connection and waits for them to finish.
func (g *Gateway) Shutdown(ctx context.Context) error {
	n := g.registry.CloseAll(session.ReasonShutdown)
	g.log.Info("closing live connections", slog.Int("count", n))
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
