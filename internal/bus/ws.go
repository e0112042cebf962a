package bus

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ashita-ai/warren/internal/model"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second

	headerAgentID     = "X-Agent-ID"
	headerAgentSecret = "X-Agent-Secret"
)

// Authenticator verifies an agent's connection credentials before the
// upgrade. Returning an error rejects the connection with 401.
type Authenticator func(r *http.Request, kind model.AgentKind, agentID, secret string) error

// wsConn adapts a websocket connection to the Conn interface. The bus's
// per-agent writer goroutine is the only data writer; ping control frames
// go through WriteControl, which gorilla permits concurrently.
type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) WriteMessage(msg Message) error {
	_ = w.c.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.c.WriteJSON(msg)
}

func (w *wsConn) Close() error {
	return w.c.Close()
}

// WSHandler returns an HTTP handler that upgrades agent connections of one
// kind, attaches them to the bus, and pumps inbound frames into Dispatch
// until the connection dies.
func (b *Bus) WSHandler(kind model.AgentKind, authenticate Authenticator, logger *slog.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		agentID := r.Header.Get(headerAgentID)
		secret := r.Header.Get(headerAgentSecret)
		if agentID == "" {
			http.Error(w, "missing agent id", http.StatusUnauthorized)
			return
		}
		if err := authenticate(r, kind, agentID, secret); err != nil {
			logger.Warn("ws: agent rejected", "kind", kind, "agent_id", agentID, "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			logger.Warn("ws: upgrade failed", "kind", kind, "agent_id", agentID, "error", err)
			return
		}

		detach := b.Attach(r.Context(), kind, agentID, &wsConn{c: conn})
		defer detach()

		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})

		stopPing := make(chan struct{})
		defer close(stopPing)
		go func() {
			ticker := time.NewTicker(pingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-stopPing:
					return
				case <-ticker.C:
					deadline := time.Now().Add(writeTimeout)
					if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
						return
					}
				}
			}
		}()

		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug("ws: read loop ended", "kind", kind, "agent_id", agentID, "error", err)
				}
				return
			}
			b.Dispatch(r.Context(), kind, agentID, frame)
		}
	}
}
