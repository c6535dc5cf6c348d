package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v5"

	"github.com/memorialsite/agentgw/internal/bus"
)

const (
	wsWriteWait  = 10 * time.Second
	wsQueueDepth = 32
)

// WebSocket frame types sent by the server.
const (
	FrameConnected = "connected"
	FrameThinking  = "thinking"
	FrameResponse  = "response"
	FrameError     = "error"
)

type wsFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Code      string `json:"code,omitempty"`
}

type wsRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	err       error
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return set["*"] || set[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}

func (s *Server) handleWebSocket(c *echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already replied.
		slog.Warn("WebSocket upgrade failed", "error", err)
		return nil
	}
	ws := &wsConn{conn: conn, svc: s.svc}
	ws.serve(c.Request().Context(), s.maxMsg)
	return nil
}

// wsConn processes one client's messages in arrival order, one at a time.
type wsConn struct {
	conn *websocket.Conn
	svc  *Service

	writeMu sync.Mutex
	// sessionID sticks to the last session used so clients may omit it.
	sessionID string
}

func (w *wsConn) serve(parent context.Context, maxMsg int) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer w.conn.Close()

	// Room for the JSON envelope around a maximal message.
	w.conn.SetReadLimit(int64(maxMsg)*2 + 1024)

	if err := w.send(wsFrame{Type: FrameConnected}); err != nil {
		return
	}

	queue := make(chan wsRequest, wsQueueDepth)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for req := range queue {
			w.process(ctx, req)
		}
	}()

	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("WebSocket read ended", "error", err)
			}
			break
		}
		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			req = wsRequest{err: errors.New("message must be a JSON object")}
		}
		select {
		case queue <- req:
		default:
			_ = w.send(wsFrame{Type: FrameError, Message: "too many pending messages"})
		}
	}

	// Abort the in-flight turn; queued ones fail fast on the canceled context.
	cancel()
	close(queue)
	<-done
}

func (w *wsConn) process(ctx context.Context, req wsRequest) {
	if req.err != nil {
		_ = w.send(wsFrame{Type: FrameError, Message: req.err.Error(), Code: CodeInvalidRequest})
		return
	}
	if ctx.Err() != nil {
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = w.sessionID
	}
	if err := w.send(wsFrame{Type: FrameThinking}); err != nil {
		return
	}
	reply, err := w.svc.Chat(ctx, bus.TransportWebSocket, sessionID, req.Message)
	if reply.SessionID != "" && !errors.Is(err, ErrInvalidRequest) {
		// A failed turn leaves its user turn behind; retries continue there.
		w.sessionID = reply.SessionID
	}
	if err != nil {
		_, code, msg := chatFailure(err)
		_ = w.send(wsFrame{Type: FrameError, Message: msg, Code: code, SessionID: reply.SessionID})
		return
	}
	_ = w.send(wsFrame{Type: FrameResponse, Message: reply.Message, SessionID: reply.SessionID})
}

func (w *wsConn) send(f wsFrame) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteJSON(f)
}
