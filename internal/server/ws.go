package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ehrlich-b/perch/internal/auth"
	"github.com/ehrlich-b/perch/internal/logger"
	"github.com/ehrlich-b/perch/internal/session"
	"github.com/ehrlich-b/perch/internal/ws"
)

const (
	pingInterval = 25 * time.Second
	writeTimeout = 10 * time.Second
)

// wsSubscriber adapts one connection to the session manager. Writes are
// serialized behind a mutex so broadcasts and direct sends never interleave
// on the wire.
type wsSubscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsSubscriber) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

func (c *wsSubscriber) sendJSON(ctx context.Context, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.Send(ctx, data); err != nil {
		logger.Debug("ws send failed", "error", err)
	}
}

// handleWS authenticates and upgrades a WebSocket request. The token comes
// from the session cookie or from ?token= (a signed cookie value or a WS
// ticket — some browser contexts do not send cookies on upgrade).
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Upgrade") == "" {
		// A browser navigated here by mistake (e.g. login return_to):
		// give it a meaningful status instead of a 404.
		w.WriteHeader(http.StatusUpgradeRequired)
		return
	}

	if !s.wsAuthorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Warn("websocket accept", "error", err)
		return
	}
	conn.SetReadLimit(512 * 1024)
	defer conn.CloseNow()

	s.serveConn(r.Context(), conn)
}

func (s *Server) wsAuthorized(r *http.Request) bool {
	token := r.URL.Query().Get("token")
	if token == "" {
		if c, err := r.Cookie(sessionCookieName); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		return false
	}
	if auth.VerifySession(s.Config.AppSecret, token) != "" {
		return true
	}
	return auth.ValidateTicket(s.Config.AppSecret, token, time.Now())
}

// serveConn runs one subscriber: register, keepalive, read loop, deregister.
func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn) {
	sub := &wsSubscriber{conn: conn}
	s.Manager.AddSubscriber(ctx, sub)
	defer s.Manager.RemoveSubscriber(sub)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Keepalive: protocol ping every 25s while open. A dead transport
	// surfaces as a read error.
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, pingCancel := context.WithTimeout(ctx, writeTimeout)
				err := conn.Ping(pingCtx)
				pingCancel()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		s.routeClientMessage(ctx, sub, data)
	}
}

func (s *Server) routeClientMessage(ctx context.Context, sub *wsSubscriber, data []byte) {
	var env ws.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Debug("bad client message", "error", err)
		return
	}

	switch env.Type {
	case ws.TypeMessage:
		var msg ws.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		s.handleChatMessage(ctx, sub, msg.Content)

	case ws.TypePermissionResponse:
		var resp ws.PermissionResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return
		}
		s.Manager.HandlePermissionResponse(resp.ID, resp.Allow)

	case ws.TypeInterrupt:
		s.Manager.Interrupt()

	default:
		logger.Debug("unknown client message type", "type", env.Type)
	}
}

// handleChatMessage lazily starts the session on the first message. Startup
// errors go only to the originating connection.
func (s *Server) handleChatMessage(ctx context.Context, sub *wsSubscriber, content string) {
	switch s.Manager.State() {
	case session.StateRunning, session.StateWaitingPermission:
		if err := s.Manager.SendMessage(content); err != nil {
			sub.sendJSON(ctx, ws.ErrorMsg{Type: ws.TypeError, Message: err.Error()})
		}
	default:
		if err := s.startSessionAndSend(ctx, content); err != nil {
			logger.Error("session start failed", "error", err)
			s.Ring.Push("session", "start failed: "+err.Error(), nil)
			sub.sendJSON(ctx, ws.ErrorMsg{Type: ws.TypeError, Message: err.Error()})
		}
	}
}

// startSessionAndSend is the lazy-start routine: load tokens, refresh if
// stale, ensure the sandbox is up, start the session, deliver the first
// message.
func (s *Server) startSessionAndSend(ctx context.Context, content string) error {
	tokens, err := s.Tokens.Load()
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}
	if tokens == nil {
		return errors.New("no claude credentials — complete setup first")
	}

	tokens = s.refreshIfStale(ctx, tokens)

	if err := s.Sandbox.EnsureRunning(ctx); err != nil {
		return fmt.Errorf("sandbox: %w", err)
	}

	if _, err := s.Manager.StartSession(tokens.AccessToken, s.Config.WrapperPath); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return s.Manager.SendMessage(content)
}
