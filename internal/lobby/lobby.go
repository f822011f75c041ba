// Package lobby is the per-session fan-out actor. It owns the set of sockets
// subscribed to one session channel and delivers encoded events to them in order.
package lobby

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/metrics"
)

type Msg interface{ isLobbyMsg() }

type Subscribe struct {
	ConnID string
	Outbox chan []byte // closed by the lobby on unsubscribe, drop or shutdown
}

func (Subscribe) isLobbyMsg() {}

type Unsubscribe struct{ ConnID string }

func (Unsubscribe) isLobbyMsg() {}

type Broadcast struct {
	Payload []byte
}

func (Broadcast) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type View struct {
	SessionID  string
	NumClients int
	Delivered  int
}

type Lobby struct {
	id        string
	inbox     chan Msg
	clients   map[string]chan []byte
	delivered int

	// read by the hub janitor without going through the inbox
	subscribers atomic.Int32
	lastActive  atomic.Int64

	metrics *metrics.Metrics
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewLobby(parent context.Context, sessionID string, log *zap.Logger, m *metrics.Metrics) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	if m == nil {
		m = metrics.Nop()
	}

	l := &Lobby{
		id:      sessionID,
		inbox:   make(chan Msg, 64),
		clients: make(map[string]chan []byte),
		metrics: m,
		log:     log.With(zap.String("session_id", sessionID)),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	l.touch()

	go l.loop()
	return l
}

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			l.touch()
			switch msg := m.(type) {
			case Subscribe:
				if old, ok := l.clients[msg.ConnID]; ok && old != msg.Outbox {
					close(old)
				}
				l.clients[msg.ConnID] = msg.Outbox

			case Unsubscribe:
				if ch, ok := l.clients[msg.ConnID]; ok {
					close(ch)
					delete(l.clients, msg.ConnID)
				}

			case Broadcast:
				l.broadcast(msg.Payload)

			case GetState:
				msg.Reply <- View{
					SessionID:  l.id,
					NumClients: len(l.clients),
					Delivered:  l.delivered,
				}

			case Shutdown:
				l.shutdown()
				return
			}
			l.subscribers.Store(int32(len(l.clients)))
		}
	}
}

func (l *Lobby) shutdown() {
	closed := make(map[chan []byte]struct{}, len(l.clients))
	for id, ch := range l.clients {
		close(ch)
		closed[ch] = struct{}{}
		delete(l.clients, id)
	}
	l.subscribers.Store(0)
	l.cancel()

	// a Subscribe that raced the stop still owns an outbox nobody will close otherwise
	for {
		select {
		case m := <-l.inbox:
			sub, ok := m.(Subscribe)
			if !ok {
				continue
			}
			if _, done := closed[sub.Outbox]; !done {
				close(sub.Outbox)
				closed[sub.Outbox] = struct{}{}
			}
		default:
			return
		}
	}
}

func (l *Lobby) broadcast(payload []byte) {
	for id, ch := range l.clients {
		select {
		case ch <- payload:
			l.delivered++
		default:
			// outbox full: drop the subscriber rather than stall the session
			close(ch)
			delete(l.clients, id)
			l.metrics.SlowClients.Inc()
			l.log.Warn("dropped slow subscriber", zap.String("conn_id", id))
		}
	}
}

func (l *Lobby) touch() { l.lastActive.Store(time.Now().UnixNano()) }

// Send queues msg unless the lobby has stopped. It blocks while the inbox is full.
func (l *Lobby) Send(ctx context.Context, msg Msg) bool {
	// a stopped lobby can still have inbox room; check first so select can't pick the send
	select {
	case <-l.ctx.Done():
		return false
	case <-l.done:
		return false
	default:
	}
	select {
	case l.inbox <- msg:
		return true
	case <-l.ctx.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

// Idle reports whether nobody is subscribed and nothing happened for ttl.
func (l *Lobby) Idle(now time.Time, ttl time.Duration) bool {
	if l.subscribers.Load() > 0 {
		return false
	}
	return now.Sub(time.Unix(0, l.lastActive.Load())) >= ttl
}

func (l *Lobby) SessionID() string { return l.id }

// Done is closed once the loop has exited.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Inbox is the raw mailbox. The hub and tests write to it directly.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }
