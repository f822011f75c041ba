// Package ws is the real-time adapter: socket events in, session channel events out.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/auth"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/coordinator"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/hub"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/metrics"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/session"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/types"
)

const (
	writeTimeout   = 5 * time.Second
	cleanupTimeout = 5 * time.Second
)

type Handler struct {
	coord   *coordinator.Coordinator
	hub     *hub.Hub
	auth    auth.Authenticator
	log     *zap.Logger
	metrics *metrics.Metrics

	pingInterval   time.Duration
	pongTimeout    time.Duration
	outboxSize     int
	originPatterns []string
}

type Option func(*Handler)

func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(h *Handler) { h.pingInterval, h.pongTimeout = interval, timeout }
}

func WithOutboxSize(n int) Option { return func(h *Handler) { h.outboxSize = n } }

func WithMetrics(m *metrics.Metrics) Option { return func(h *Handler) { h.metrics = m } }

// WithOriginPatterns allows cross-origin browser clients, e.g. "localhost:*".
func WithOriginPatterns(p ...string) Option { return func(h *Handler) { h.originPatterns = p } }

func NewHandler(coord *coordinator.Coordinator, hb *hub.Hub, authn auth.Authenticator, log *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		coord:        coord,
		hub:          hb,
		auth:         authn,
		log:          log,
		metrics:      metrics.Nop(),
		pingInterval: 25 * time.Second,
		pongTimeout:  60 * time.Second,
		outboxSize:   32,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := h.auth.Authenticate(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.log.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer wsConn.Close(websocket.StatusNormalClosure, "bye")

	h.metrics.Connections.Inc()
	defer h.metrics.Connections.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{
		h:      h,
		ws:     wsConn,
		id:     uuid.NewString(),
		user:   *id,
		subs:   make(map[string]chan []byte),
		ctx:    ctx,
		cancel: cancel,
	}
	c.log = h.log.With(zap.String("socket_id", c.id), zap.String("user_id", id.ID))
	c.log.Debug("socket connected")

	go c.heartbeat()
	c.readLoop()
	c.cleanup()
}

type conn struct {
	h      *Handler
	ws     *websocket.Conn
	id     string
	user   session.Identity
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[string]chan []byte // session id -> outbox
}

func (c *conn) readLoop() {
	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if c.ctx.Err() == nil {
					c.log.Debug("socket read ended", zap.Error(err))
				}
			}
			return
		}

		var msg types.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("malformed message")
			continue
		}
		c.dispatch(msg)
	}
}

func (c *conn) dispatch(msg types.ClientMessage) {
	switch msg.Type {
	case types.JoinSession:
		c.join(msg)
	case types.LeaveSession:
		c.leave(msg)
	case types.SubmitAnswers:
		c.submit(msg)
	default:
		c.sendError("unknown event type")
	}
}

// checkUser rejects payloads that claim to act for someone else.
func (c *conn) checkUser(claimed string) bool {
	if claimed != "" && claimed != c.user.ID {
		c.sendError("user does not match the authenticated identity")
		return false
	}
	return true
}

func (c *conn) join(msg types.ClientMessage) {
	if msg.SessionID == "" {
		c.sendError("session_id is required")
		return
	}
	profile := session.Profile{
		UserID:    c.user.ID,
		Name:      c.user.Name,
		AvatarURL: c.user.AvatarURL,
		SocketID:  c.id,
	}
	if u := msg.User; u != nil {
		if !c.checkUser(u.ID) {
			return
		}
		if profile.Name == "" {
			profile.Name = u.Name
		}
		if profile.AvatarURL == "" {
			profile.AvatarURL = u.AvatarURL
		}
	}
	if profile.Name == "" {
		profile.Name = c.user.DisplayName()
	}

	// subscribe first so this socket sees the lobby_update its own join produces
	newSub, err := c.subscribe(msg.SessionID)
	if err != nil {
		c.log.Warn("subscribe failed", zap.String("session_id", msg.SessionID), zap.Error(err))
		c.sendError("could not join session")
		return
	}
	if _, err := c.h.coord.JoinSessionByID(c.ctx, msg.SessionID, profile); err != nil {
		if newSub {
			c.unsubscribe(msg.SessionID)
		}
		c.sendErr(err)
	}
}

func (c *conn) leave(msg types.ClientMessage) {
	if msg.SessionID == "" {
		c.sendError("session_id is required")
		return
	}
	if !c.checkUser(msg.UserID) {
		return
	}
	c.unsubscribe(msg.SessionID)
	if _, err := c.h.coord.LeaveSession(c.ctx, msg.SessionID, c.user.ID); err != nil {
		c.sendErr(err)
	}
}

func (c *conn) submit(msg types.ClientMessage) {
	if msg.SessionID == "" {
		c.sendError("session_id is required")
		return
	}
	if !c.checkUser(msg.UserID) {
		return
	}
	if _, err := c.h.coord.SubmitAnswers(c.ctx, msg.SessionID, c.user.ID, msg.Answers, msg.Score); err != nil {
		c.sendErr(err)
	}
}

// subscribe reports whether a new subscription was made.
func (c *conn) subscribe(sessionID string) (bool, error) {
	c.mu.Lock()
	if _, ok := c.subs[sessionID]; ok {
		c.mu.Unlock()
		return false, nil
	}
	outbox := make(chan []byte, c.h.outboxSize)
	c.subs[sessionID] = outbox
	c.mu.Unlock()

	if err := c.h.hub.Subscribe(c.ctx, sessionID, c.id, outbox); err != nil {
		c.mu.Lock()
		delete(c.subs, sessionID)
		c.mu.Unlock()
		return false, err
	}
	go c.pump(sessionID, outbox)
	return true, nil
}

func (c *conn) unsubscribe(sessionID string) {
	c.mu.Lock()
	_, ok := c.subs[sessionID]
	delete(c.subs, sessionID)
	c.mu.Unlock()
	if ok {
		c.h.hub.Unsubscribe(context.WithoutCancel(c.ctx), sessionID, c.id)
	}
}

// pump writes one session's events in order until its outbox is closed.
func (c *conn) pump(sessionID string, outbox chan []byte) {
	for payload := range outbox {
		wctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
		err := c.ws.Write(wctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			c.cancel()
			return
		}
	}

	c.mu.Lock()
	dropped := c.subs[sessionID] == outbox
	if dropped {
		delete(c.subs, sessionID)
	}
	c.mu.Unlock()
	if dropped && c.ctx.Err() == nil {
		// the lobby gave up on us: the client has missed events and must reload
		c.log.Warn("socket dropped by session fan-out", zap.String("session_id", sessionID))
		_ = c.ws.Close(websocket.StatusPolicyViolation, "too slow")
		c.cancel()
	}
}

func (c *conn) heartbeat() {
	tick := time.NewTicker(c.h.pingInterval)
	defer tick.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-tick.C:
			pctx, cancel := context.WithTimeout(c.ctx, c.h.pongTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				c.log.Debug("heartbeat failed", zap.Error(err))
				c.cancel()
				return
			}
		}
	}
}

// cleanup runs once the socket is gone: every session it joined drops it from the
// channel and from the roster, unless the player already came back on another socket.
func (c *conn) cleanup() {
	c.mu.Lock()
	joined := make([]string, 0, len(c.subs))
	for sid := range c.subs {
		joined = append(joined, sid)
	}
	clear(c.subs)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	for _, sid := range joined {
		c.h.hub.Unsubscribe(ctx, sid, c.id)
		if _, err := c.h.coord.DisconnectPlayer(ctx, sid, c.user.ID, c.id); err != nil && !errors.Is(err, session.ErrNotFound) {
			c.log.Warn("disconnect cleanup failed", zap.String("session_id", sid), zap.Error(err))
		}
	}
	c.log.Debug("socket disconnected", zap.Int("sessions", len(joined)))
}

func (c *conn) sendErr(err error) {
	if errors.Is(err, session.ErrTransient) || !session.Known(err) {
		c.log.Error("socket event failed", zap.Error(err))
		c.sendError("service temporarily unavailable")
		return
	}
	c.sendError(err.Error())
}

func (c *conn) sendError(msg string) {
	wctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	_ = wsjson.Write(wctx, c.ws, types.NewError(msg))
}
