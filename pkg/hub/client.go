package hub

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eventpulse/chat-service/pkg/auth"
	"github.com/eventpulse/chat-service/pkg/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
)

// EventHandler is the protocol side of a connection: the router implements
// it. The hub only moves frames; it never interprets them.
type EventHandler interface {
	Connected(s *Session)
	HandleEvent(s *Session, raw []byte)
	Disconnected(s *Session)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checks belong to the fronting proxy in this deployment.
		return true
	},
}

// WSServer accepts websocket connections, authenticates the handshake and
// runs the per-connection pumps. Session lifecycle (registry membership,
// presence) is the handler's business via Connected/Disconnected.
type WSServer struct {
	auth    *auth.Authenticator
	gate    *auth.Gate
	handler EventHandler
	log     zerolog.Logger
}

func NewWSServer(authn *auth.Authenticator, gate *auth.Gate, handler EventHandler) *WSServer {
	return &WSServer{
		auth:    authn,
		gate:    gate,
		handler: handler,
		log:     logging.With("ws"),
	}
}

// ServeHTTP is the /ws endpoint. The credential travels in the `token`
// query parameter — the one credential channel a browser WebSocket can
// use. Rejections happen before the upgrade with an explicit status and
// reason, never as a silent drop.
func (srv *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := srv.auth.ValidateToken(r.URL.Query().Get("token"))
	if err != nil {
		srv.log.Warn().Err(err).Msg("handshake rejected: bad credential")
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}
	user, err := srv.gate.Authenticate(r.Context(), claims)
	if err != nil {
		srv.log.Warn().Err(err).Str("user_id", claims.UserID).Msg("handshake rejected: unknown user")
		http.Error(w, "unknown user", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.log.Error().Err(err).Msg("upgrade failed")
		return
	}

	session := NewSession(user.ID)
	srv.handler.Connected(session)

	go srv.writePump(session, conn)
	go srv.readPump(session, conn)
}

// readPump feeds inbound frames to the handler sequentially, preserving
// per-connection ordering. It owns connection teardown.
func (srv *WSServer) readPump(s *Session, conn *websocket.Conn) {
	defer func() {
		srv.handler.Disconnected(s)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				srv.log.Debug().Err(err).Uint64("session_id", s.ID()).Msg("read error")
			}
			return
		}
		srv.handler.HandleEvent(s, raw)
	}
}

func (srv *WSServer) writePump(s *Session, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
