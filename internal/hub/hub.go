// Package hub keeps one lobby actor per session id and routes published events to it.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/lobby"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/metrics"
	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/types"
)

var ErrClosed = errors.New("hub closed")

type HubMsg interface{ isHubMsg() }

type GetLobby struct {
	SessionID string
	Reply     chan *lobby.Lobby
}

type EnsureLobby struct {
	SessionID string
	Reply     chan *lobby.Lobby
}

type RemoveLobby struct {
	SessionID string
}

type ShutdownHub struct{}

type sweep struct{ now time.Time }

func (GetLobby) isHubMsg()    {}
func (EnsureLobby) isHubMsg() {}
func (RemoveLobby) isHubMsg() {}
func (ShutdownHub) isHubMsg() {}
func (sweep) isHubMsg()       {}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	idleTTL time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics
	ctx     context.Context
	cancel  context.CancelFunc
}

type Option func(*Hub)

// WithIdleTTL sets how long a lobby with no subscribers survives. Zero disables the janitor.
func WithIdleTTL(ttl time.Duration) Option { return func(h *Hub) { h.idleTTL = ttl } }

func WithMetrics(m *metrics.Metrics) Option { return func(h *Hub) { h.metrics = m } }

func NewHub(parent context.Context, log *zap.Logger, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		idleTTL: 5 * time.Minute,
		log:     log,
		metrics: metrics.Nop(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.loop()
	if h.idleTTL > 0 {
		go h.janitor()
	}
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetLobby:
				msg.Reply <- h.lobbies[msg.SessionID] // May be nil

			case EnsureLobby:
				if lb := h.lobbies[msg.SessionID]; lb != nil && !stopped(lb) {
					msg.Reply <- lb
					break
				}
				lb := lobby.NewLobby(h.ctx, msg.SessionID, h.log, h.metrics)
				h.lobbies[msg.SessionID] = lb
				msg.Reply <- lb

			case RemoveLobby:
				if lb := h.lobbies[msg.SessionID]; lb != nil {
					stop(lb)
					delete(h.lobbies, msg.SessionID)
				}

			case sweep:
				for id, lb := range h.lobbies {
					if stopped(lb) || lb.Idle(msg.now, h.idleTTL) {
						stop(lb)
						delete(h.lobbies, id)
						h.log.Debug("removed idle lobby", zap.String("session_id", id))
					}
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
			h.metrics.Lobbies.Set(float64(len(h.lobbies)))
		}
	}
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		select {
		case lb.Inbox() <- lobby.Shutdown{}:
		default:
			// inbox full; the lobby also stops when our context is cancelled
		}
	}
	clear(h.lobbies)
	h.metrics.Lobbies.Set(0)
	h.cancel()
}

func (h *Hub) janitor() {
	tick := time.NewTicker(h.idleTTL / 2)
	defer tick.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case now := <-tick.C:
			select {
			case h.inbox <- sweep{now: now}:
			case <-h.ctx.Done():
				return
			}
		}
	}
}

func stop(lb *lobby.Lobby) {
	select {
	case lb.Inbox() <- lobby.Shutdown{}:
	case <-lb.Done():
	}
}

func stopped(lb *lobby.Lobby) bool {
	select {
	case <-lb.Done():
		return true
	default:
		return false
	}
}

func (h *Hub) ask(ctx context.Context, msg HubMsg, reply chan *lobby.Lobby) (*lobby.Lobby, error) {
	select {
	case h.inbox <- msg:
	case <-h.ctx.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case lb := <-reply:
		return lb, nil
	case <-h.ctx.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ensure returns the lobby for sessionID, starting one if needed.
func (h *Hub) Ensure(ctx context.Context, sessionID string) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	return h.ask(ctx, EnsureLobby{SessionID: sessionID, Reply: reply}, reply)
}

// Lookup returns nil when no lobby is running for sessionID.
func (h *Hub) Lookup(ctx context.Context, sessionID string) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	return h.ask(ctx, GetLobby{SessionID: sessionID, Reply: reply}, reply)
}

// Subscribe registers outbox on the session channel.
func (h *Hub) Subscribe(ctx context.Context, sessionID, connID string, outbox chan []byte) error {
	// the janitor may reap an idle lobby between Ensure and Send, so try twice
	for attempt := 0; attempt < 2; attempt++ {
		lb, err := h.Ensure(ctx, sessionID)
		if err != nil {
			return err
		}
		if lb.Send(ctx, lobby.Subscribe{ConnID: connID, Outbox: outbox}) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("subscribe %s: %w", sessionID, ErrClosed)
}

func (h *Hub) Unsubscribe(ctx context.Context, sessionID, connID string) {
	lb, err := h.Lookup(ctx, sessionID)
	if err != nil || lb == nil {
		return
	}
	lb.Send(ctx, lobby.Unsubscribe{ConnID: connID})
}

// Publish encodes msg once and hands it to this process's subscribers of sessionID.
func (h *Hub) Publish(ctx context.Context, sessionID string, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return h.Deliver(ctx, sessionID, payload)
}

// Deliver broadcasts an already encoded event. Sessions nobody watches are skipped.
func (h *Hub) Deliver(ctx context.Context, sessionID string, payload []byte) error {
	lb, err := h.Lookup(ctx, sessionID)
	if err != nil {
		return err
	}
	if lb == nil {
		return nil
	}
	if !lb.Send(ctx, lobby.Broadcast{Payload: payload}) {
		h.log.Warn("event not delivered, lobby stopped",
			zap.String("session_id", sessionID), zap.Int("bytes", len(payload)))
	}
	return nil
}

func (h *Hub) Close() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.ctx.Done():
	}
}
