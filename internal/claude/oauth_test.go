package claude

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestGenerateCodeVerifier(t *testing.T) {
	v1, err := GenerateCodeVerifier()
	if err != nil {
		t.Fatal(err)
	}
	if len(v1) != 43 {
		t.Errorf("verifier length = %d, want 43", len(v1))
	}
	v2, _ := GenerateCodeVerifier()
	if v1 == v2 {
		t.Error("two verifiers are identical")
	}
}

func TestGenerateCodeChallenge(t *testing.T) {
	// RFC 7636 appendix B vector.
	got := GenerateCodeChallenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk")
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	if got != want {
		t.Errorf("challenge = %q, want %q", got, want)
	}
}

func TestBuildAuthorizationURL(t *testing.T) {
	u, err := BuildAuthorizationURL(AuthorizationParams{
		CodeChallenge: "chal",
		State:         "st",
	})
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := url.Parse(u)
	if err != nil {
		t.Fatal(err)
	}
	q := parsed.Query()
	checks := map[string]string{
		"response_type":         "code",
		"code_challenge":        "chal",
		"code_challenge_method": "S256",
		"state":                 "st",
		"client_id":             DefaultClientID,
		"redirect_uri":          DefaultRedirectURI,
		"scope":                 DefaultScope,
	}
	for k, want := range checks {
		if got := q.Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
}

func TestBuildAuthorizationURLRequiresChallengeAndState(t *testing.T) {
	if _, err := BuildAuthorizationURL(AuthorizationParams{State: "s"}); err == nil {
		t.Error("missing challenge accepted")
	}
	if _, err := BuildAuthorizationURL(AuthorizationParams{CodeChallenge: "c"}); err == nil {
		t.Error("missing state accepted")
	}
}

func TestSplitPastedCode(t *testing.T) {
	cases := []struct {
		in, code, state string
	}{
		{"abc#xyz", "abc", "xyz"},
		{"abc", "abc", ""},
		{"  abc#xy  ", "abc", "xy"},
		{"a#b#c", "a", "b#c"},
		{"", "", ""},
	}
	for _, c := range cases {
		code, state := SplitPastedCode(c.in)
		if code != c.code || state != c.state {
			t.Errorf("SplitPastedCode(%q) = (%q, %q), want (%q, %q)", c.in, code, state, c.code, c.state)
		}
	}
}

func TestNeedsRefresh(t *testing.T) {
	now := time.Now()
	if !NeedsRefresh(time.Time{}, RefreshThreshold, now) {
		t.Error("zero expiry should need refresh")
	}
	if !NeedsRefresh(now.Add(10*time.Minute), RefreshThreshold, now) {
		t.Error("10min-out expiry should need refresh at 30min threshold")
	}
	if NeedsRefresh(now.Add(2*time.Hour), RefreshThreshold, now) {
		t.Error("2h-out expiry should not need refresh")
	}
	if !NeedsRefresh(now.Add(-time.Minute), RefreshThreshold, now) {
		t.Error("already-expired token should need refresh")
	}
}

func tokenServer(t *testing.T, handler func(body map[string]string) (int, any)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		code, resp := handler(body)
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return &Client{TokenURL: srv.URL}
}

func TestExchangeCode(t *testing.T) {
	c := tokenServer(t, func(body map[string]string) (int, any) {
		if body["grant_type"] != "authorization_code" {
			t.Errorf("grant_type = %q", body["grant_type"])
		}
		if body["code"] != "codeX" || body["code_verifier"] != "verifierV" || body["state"] != "stateY" {
			t.Errorf("unexpected body: %v", body)
		}
		return 200, map[string]any{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"expires_in":    3600,
		}
	})

	tokens, err := c.ExchangeCode(context.Background(), "codeX", "verifierV", "stateY")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if tokens.AccessToken != "at-1" || tokens.RefreshToken != "rt-1" {
		t.Errorf("tokens = %+v", tokens)
	}
	until := time.Until(tokens.ExpiresAt)
	if until < 59*time.Minute || until > 61*time.Minute {
		t.Errorf("expires in %v, want ~1h", until)
	}
}

func TestExchangeCodeUpstreamError(t *testing.T) {
	c := tokenServer(t, func(body map[string]string) (int, any) {
		return 400, map[string]string{"error": "invalid_grant"}
	})
	_, err := c.ExchangeCode(context.Background(), "c", "v", "")
	if !errors.Is(err, ErrTokenExchangeFailed) {
		t.Errorf("err = %v, want ErrTokenExchangeFailed", err)
	}
}

func TestRefreshPreservesOldRefreshToken(t *testing.T) {
	c := tokenServer(t, func(body map[string]string) (int, any) {
		if body["grant_type"] != "refresh_token" || body["refresh_token"] != "rt-old" {
			t.Errorf("unexpected body: %v", body)
		}
		// No rotated refresh token, no expires_in.
		return 200, map[string]any{"access_token": "at-2"}
	})

	tokens, err := c.RefreshAccessToken(context.Background(), "rt-old")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if tokens.RefreshToken != "rt-old" {
		t.Errorf("refresh token = %q, want carried-over rt-old", tokens.RefreshToken)
	}
	until := time.Until(tokens.ExpiresAt)
	if until < 7*time.Hour+59*time.Minute || until > 8*time.Hour+time.Minute {
		t.Errorf("expires in %v, want ~8h default", until)
	}
}

func TestRefreshUpstreamError(t *testing.T) {
	c := tokenServer(t, func(body map[string]string) (int, any) {
		return 500, map[string]string{"error": "boom"}
	})
	_, err := c.RefreshAccessToken(context.Background(), "rt")
	if !errors.Is(err, ErrTokenRefreshFailed) {
		t.Errorf("err = %v, want ErrTokenRefreshFailed", err)
	}
}
