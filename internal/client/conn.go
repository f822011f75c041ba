package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/DoyleJ11/quiz-multiplayer-backend/internal/types"
)

const writeTimeout = 5 * time.Second

// Conn is a player's websocket connection, bound to one session view.
type Conn struct {
	ws       *websocket.Conn
	view     *View
	user     types.ClientUser
	onChange func(State)
}

type DialOption func(*Conn)

// OnChange is called after every event that changed the view.
func OnChange(fn func(State)) DialOption { return func(c *Conn) { c.onChange = fn } }

// Dial connects to wsURL (ws:// or wss://) with a bearer token.
func Dial(ctx context.Context, wsURL, token string, user types.ClientUser, view *View, opts ...DialOption) (*Conn, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket url: %w", err)
	}
	hdr := http.Header{}
	if token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}
	ws, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}
	c := &Conn{ws: ws, view: view, user: user}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Conn) View() *View { return c.view }

func (c *Conn) send(ctx context.Context, msg types.ClientMessage) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, c.ws, msg)
}

// Join asks to join the view's session. The roster changes when the lobby_update arrives.
func (c *Conn) Join(ctx context.Context) error {
	user := c.user
	return c.send(ctx, types.ClientMessage{Type: types.JoinSession, SessionID: c.view.Snapshot().SessionID, User: &user})
}

func (c *Conn) Leave(ctx context.Context) error {
	return c.send(ctx, types.ClientMessage{Type: types.LeaveSession, SessionID: c.view.Snapshot().SessionID, UserID: c.user.ID})
}

func (c *Conn) Submit(ctx context.Context, answers map[string]any, score *int) error {
	return c.send(ctx, types.ClientMessage{
		Type:      types.SubmitAnswers,
		SessionID: c.view.Snapshot().SessionID,
		UserID:    c.user.ID,
		Answers:   answers,
		Score:     score,
	})
}

// Run reads events into the view until ctx ends or the server closes the socket.
func (c *Conn) Run(ctx context.Context) error {
	for {
		var msg types.ServerMessage
		if err := wsjson.Read(ctx, c.ws, &msg); err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		if c.view.Apply(msg) && c.onChange != nil {
			c.onChange(c.view.Snapshot())
		}
	}
}

func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "bye")
}
