// Package wsclient is the client side of the connection manager: a
// reconnecting websocket with exponential backoff and an explicit degraded
// state once the attempt budget is spent. Real-time is an enhancement;
// when this client reports Degraded, callers switch to the REST fallback.
package wsclient

import (
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eventpulse/chat-service/pkg/logging"
	"github.com/eventpulse/chat-service/pkg/model"
)

type State string

const (
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	// StateDegraded means reconnection gave up; the UI shows the limited
	// mode banner and the caller uses the REST fallback.
	StateDegraded State = "degraded"
	StateClosed   State = "closed"
)

var ErrNotConnected = errors.New("wsclient: not connected")

// A connection must survive this long before the attempt budget resets.
// Without it, a server that accepts the handshake and drops the connection
// immediately would dodge the backoff entirely.
const stableAfter = 30 * time.Second

type Client struct {
	wsURL       string
	backoff     Backoff
	stableAfter time.Duration
	sleep       func(time.Duration)

	events chan []byte
	states chan State

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	log zerolog.Logger
}

// New builds a client for ws://host/ws carrying the token as the
// handshake query parameter.
func New(serverAddr, token string, backoff Backoff) *Client {
	u := url.URL{Scheme: "ws", Host: serverAddr, Path: "/ws"}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	return &Client{
		wsURL:       u.String(),
		backoff:     backoff,
		stableAfter: stableAfter,
		sleep:       time.Sleep,
		events:      make(chan []byte, 64),
		states:      make(chan State, 8),
		log:         logging.With("wsclient"),
	}
}

// Events yields raw server frames; closed when the client stops for good.
func (c *Client) Events() <-chan []byte { return c.events }

// States yields connection state transitions for the UI.
func (c *Client) States() <-chan State { return c.states }

// Run drives the connect/read/reconnect loop until Close is called or the
// backoff budget is exhausted. Blocks; run it in its own goroutine.
//
// The attempt budget covers every unexpected disconnect, not just failed
// dials; it resets only after a connection has stayed up for stableAfter.
func (c *Client) Run() {
	defer close(c.events)

	attempt := 0
	for {
		if c.isClosed() {
			c.setState(StateClosed)
			return
		}
		c.setState(StateConnecting)

		conn, _, err := websocket.DefaultDialer.Dial(c.wsURL, nil)
		if err != nil {
			c.log.Debug().Err(err).Msg("dial failed")
			if !c.delayRetry(&attempt) {
				return
			}
			continue
		}

		c.setConn(conn)
		c.setState(StateConnected)

		connectedAt := time.Now()
		c.readLoop(conn)
		c.setConn(nil)

		if c.isClosed() {
			// User-initiated close: no reconnection.
			c.setState(StateClosed)
			return
		}
		if time.Since(connectedAt) >= c.stableAfter {
			attempt = 0
		}
		if !c.delayRetry(&attempt) {
			return
		}
	}
}

// delayRetry charges one reconnect attempt and sleeps the backoff delay.
// False means the budget is spent and the client is now degraded.
func (c *Client) delayRetry(attempt *int) bool {
	if c.backoff.Exhausted(*attempt) {
		c.log.Warn().Int("attempts", *attempt).Msg("reconnect budget spent, entering degraded mode")
		c.setState(StateDegraded)
		return false
	}
	delay := c.backoff.Delay(*attempt)
	*attempt++
	c.log.Debug().Dur("retry_in", delay).Msg("reconnecting")
	c.sleep(delay)
	return true
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return
		}
		select {
		case c.events <- frame:
		default:
			c.log.Warn().Msg("event buffer full, dropping frame")
		}
	}
}

// Send writes a protocol event to the live connection.
func (c *Client) Send(ev model.ClientEvent) error {
	frame, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) JoinConversation(conversationID string) error {
	return c.Send(model.ClientEvent{Type: model.EventJoinConversation, ConversationID: conversationID})
}

func (c *Client) LeaveConversation(conversationID string) error {
	return c.Send(model.ClientEvent{Type: model.EventLeaveConversation, ConversationID: conversationID})
}

func (c *Client) SendMessage(conversationID, content string) error {
	return c.Send(model.ClientEvent{Type: model.EventSendMessage, ConversationID: conversationID, Content: content})
}

func (c *Client) Typing(conversationID string, typing bool) error {
	t := model.EventTypingStop
	if typing {
		t = model.EventTypingStart
	}
	return c.Send(model.ClientEvent{Type: t, ConversationID: conversationID})
}

func (c *Client) MarkRead(conversationID string) error {
	return c.Send(model.ClientEvent{Type: model.EventMarkRead, ConversationID: conversationID})
}

// Close shuts the client down cleanly. A clean close never triggers
// reconnection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_ = c.conn.Close()
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func (c *Client) setState(s State) {
	select {
	case c.states <- s:
	default:
	}
}
