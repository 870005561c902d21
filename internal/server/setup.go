package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ehrlich-b/perch/internal/claude"
	"github.com/ehrlich-b/perch/internal/store"
)

// handleSetupToken accepts a pasted long-lived token (sk-ant-...) as an
// alternative to the OAuth flow. Expiry is unknown for these, so a
// conservative 7 days is recorded.
func (s *Server) handleSetupToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if !strings.HasPrefix(req.Token, "sk-ant-") {
		writeError(w, http.StatusBadRequest, "token must start with sk-ant-")
		return
	}

	now := time.Now()
	tokens := &claude.Tokens{
		AccessToken: req.Token,
		ExpiresAt:   now.Add(7 * 24 * time.Hour),
		RefreshedAt: now,
	}
	if err := s.Tokens.Save(tokens); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.Store.SetConfig(store.KeySetupComplete, "true"); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.setSessionCookie(w); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleSetupStart begins the PKCE flow: mints verifier + state, persists
// them for the exchange step, and returns the authorization URL to open.
func (s *Server) handleSetupStart(w http.ResponseWriter, r *http.Request) {
	verifier, err := claude.GenerateCodeVerifier()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	state, err := claude.GenerateCodeVerifier()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	authURL, err := claude.BuildAuthorizationURL(claude.AuthorizationParams{
		CodeChallenge: claude.GenerateCodeChallenge(verifier),
		State:         state,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.Store.SetConfig(store.KeyPendingState, state); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.Store.SetConfig(store.KeyPendingVerifier, verifier); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": authURL})
}

// handleSetupExchange trades the pasted authorization artifact for tokens.
// The artifact may arrive as "<code>#<state>".
func (s *Server) handleSetupExchange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	verifier, err := s.Store.GetConfig(store.KeyPendingVerifier)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if verifier == "" {
		writeError(w, http.StatusBadRequest, "no pending authorization — start the flow first")
		return
	}

	code, state := claude.SplitPastedCode(req.Code)
	tokens, err := s.OAuth.ExchangeCode(r.Context(), code, verifier, state)
	if err != nil {
		s.Ring.Push("oauth", "code exchange failed: "+err.Error(), nil)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if err := s.Tokens.Save(tokens); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.Store.SetConfig(store.KeySetupComplete, "true"); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.Store.DeleteConfig(store.KeyPendingState)
	s.Store.DeleteConfig(store.KeyPendingVerifier)

	s.Ring.Push("oauth", "claude tokens stored, expires "+strconv.FormatInt(tokens.ExpiresAt.Unix(), 10), nil)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
