package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ehrlich-b/perch/internal/auth"
	"github.com/ehrlich-b/perch/internal/claude"
	"github.com/ehrlich-b/perch/internal/monitor"
	"github.com/ehrlich-b/perch/internal/sandbox"
	"github.com/ehrlich-b/perch/internal/store"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

type healthResponse struct {
	Status               string  `json:"status"`
	UptimeSeconds        int64   `json:"uptime_seconds"`
	SetupComplete        bool    `json:"setup_complete"`
	ContainerStatus      string  `json:"container_status"`
	ClaudeTokenValid     bool    `json:"claude_token_valid"`
	ClaudeTokenExpiresIn int64   `json:"claude_token_expires_in_seconds"`
	VaultLastPush        *string `json:"vault_last_push,omitempty"`
	Version              string  `json:"version"`
}

func (s *Server) healthSnapshot(r *http.Request) healthResponse {
	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.StartedAt).Seconds()),
		SetupComplete: s.setupComplete(),
		Version:       s.Version,
	}

	state, err := s.Sandbox.State(r.Context())
	if err != nil {
		state = sandbox.StateMissing
	}
	resp.ContainerStatus = state

	if tokens, err := s.Tokens.Load(); err == nil && tokens != nil {
		remaining := time.Until(tokens.ExpiresAt)
		if remaining > 0 {
			resp.ClaudeTokenValid = true
			resp.ClaudeTokenExpiresIn = int64(remaining.Seconds())
		}
	}

	if v, err := s.Store.GetConfig(store.KeyVaultLastPush); err == nil && v != "" {
		resp.VaultLastPush = &v
	}

	if !resp.SetupComplete || resp.ContainerStatus != sandbox.StateRunning || !resp.ClaudeTokenValid {
		resp.Status = "degraded"
	}
	return resp
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.healthSnapshot(r)
	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	health := s.healthSnapshot(r)
	snap := monitor.Read(r.Context(), s.Config.DBPath)

	var containerUptime int64
	if up, err := s.Sandbox.Uptime(r.Context()); err == nil {
		containerUptime = int64(up.Seconds())
	}

	usage, err := s.Store.UsageTotals()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"health":                   health,
		"system":                   snap,
		"container_uptime_seconds": containerUptime,
		"usage":                    usage,
		"subscribers":              s.Manager.SubscriberCount(),
		"session_state":            s.Manager.State(),
		"session_cost_usd":         s.Manager.TotalCost(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"state": s.Manager.State()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	s.Manager.Interrupt()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.Store.ListSessions(50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type sessionResp struct {
		ID        string  `json:"id"`
		StartedAt string  `json:"started_at"`
		EndedAt   *string `json:"ended_at,omitempty"`
		Status    string  `json:"status"`
		TurnCount int     `json:"turn_count"`
		CostUSD   float64 `json:"cost_usd"`
	}
	out := make([]sessionResp, 0, len(sessions))
	for _, sess := range sessions {
		sr := sessionResp{
			ID:        sess.ID,
			StartedAt: sess.StartedAt.UTC().Format(time.RFC3339),
			Status:    sess.Status,
			TurnCount: sess.TurnCount,
			CostUSD:   sess.CostUSD,
		}
		if sess.EndedAt != nil {
			t := sess.EndedAt.UTC().Format(time.RFC3339)
			sr.EndedAt = &t
		}
		out = append(out, sr)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "slow down")
		return
	}
	ticket, err := auth.IssueTicket(s.Config.AppSecret, time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ticket": ticket})
}

func (s *Server) handleGetDebug(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Ring.Get(0))
}

func (s *Server) handleClearDebug(w http.ResponseWriter, r *http.Request) {
	s.Ring.Clear()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// refreshIfStale refreshes the upstream token when it is within the
// staleness threshold and a refresh token exists. A failed refresh is
// logged, not fatal: the still-extant token is passed through and the agent
// surfaces any ultimate auth failure.
func (s *Server) refreshIfStale(ctx context.Context, tokens *claude.Tokens) *claude.Tokens {
	if !claude.NeedsRefresh(tokens.ExpiresAt, claude.RefreshThreshold, time.Now()) || tokens.RefreshToken == "" {
		return tokens
	}
	fresh, err := s.OAuth.RefreshAccessToken(ctx, tokens.RefreshToken)
	if err != nil {
		s.Ring.Push("oauth", "token refresh failed: "+err.Error(), nil)
		return tokens
	}
	if err := s.Tokens.Save(fresh); err != nil {
		s.Ring.Push("oauth", "persist refreshed tokens failed: "+err.Error(), nil)
	}
	return fresh
}
