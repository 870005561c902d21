// Package claude manages credentials for the upstream assistant service:
// the OAuth PKCE flow, token refresh, and encrypted persistence.
package claude

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	AuthorizeURL = "https://claude.ai/oauth/authorize"
	TokenURL     = "https://console.anthropic.com/v1/oauth/token"

	DefaultClientID    = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	DefaultRedirectURI = "https://console.anthropic.com/oauth/code/callback"
	DefaultScope       = "org:create_api_key user:profile user:inference"

	// When the token endpoint omits expires_in.
	defaultExpiry = 8 * time.Hour

	// RefreshThreshold is how close to expiry a token counts as stale.
	RefreshThreshold = 30 * time.Minute

	maxTokenResponseBytes = 1 << 20
)

var (
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	ErrTokenRefreshFailed  = errors.New("token refresh failed")
)

// Tokens is the logical credential record assembled from config entries.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	RefreshedAt  time.Time
}

// GenerateCodeVerifier returns 43 URL-safe characters from 32 random bytes.
func GenerateCodeVerifier() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// GenerateCodeChallenge derives the S256 challenge for a verifier.
func GenerateCodeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// AuthorizationParams customize BuildAuthorizationURL. Zero values take the
// well-known defaults for the assistant service.
type AuthorizationParams struct {
	CodeChallenge string
	State         string
	ClientID      string
	RedirectURI   string
	Scope         string
}

// BuildAuthorizationURL constructs the PKCE authorization URL.
func BuildAuthorizationURL(p AuthorizationParams) (string, error) {
	if p.CodeChallenge == "" {
		return "", errors.New("code challenge is required")
	}
	if p.State == "" {
		return "", errors.New("state is required")
	}
	if p.ClientID == "" {
		p.ClientID = DefaultClientID
	}
	if p.RedirectURI == "" {
		p.RedirectURI = DefaultRedirectURI
	}
	if p.Scope == "" {
		p.Scope = DefaultScope
	}

	parsed, err := url.Parse(AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("parse authorize url: %w", err)
	}
	q := parsed.Query()
	q.Set("code", "true")
	q.Set("response_type", "code")
	q.Set("client_id", p.ClientID)
	q.Set("redirect_uri", p.RedirectURI)
	q.Set("scope", p.Scope)
	q.Set("state", p.State)
	q.Set("code_challenge", p.CodeChallenge)
	q.Set("code_challenge_method", "S256")
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

// SplitPastedCode parses the authorization artifact the user pastes from the
// callback page. It may arrive as "<code>#<state>"; with no "#" the whole
// value is the code.
func SplitPastedCode(pasted string) (code, state string) {
	pasted = strings.TrimSpace(pasted)
	code, state, found := strings.Cut(pasted, "#")
	if !found {
		return pasted, ""
	}
	return code, state
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Client talks to the upstream OAuth endpoints. The zero value uses
// http.DefaultClient and the package-level URLs; tests override TokenURL.
type Client struct {
	HTTPClient *http.Client
	TokenURL   string
	ClientID   string
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) tokenURL() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	return TokenURL
}

func (c *Client) clientID() string {
	if c.ClientID != "" {
		return c.ClientID
	}
	return DefaultClientID
}

// ExchangeCode trades an authorization code + verifier for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier, state string) (*Tokens, error) {
	body := map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"code_verifier": verifier,
		"client_id":     c.clientID(),
		"redirect_uri":  DefaultRedirectURI,
	}
	if state != "" {
		body["state"] = state
	}
	resp, err := c.postJSON(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}
	return c.tokensFrom(resp, "")
}

// RefreshAccessToken trades a refresh token for a fresh access token. When
// the upstream does not rotate the refresh token, the old one is carried into
// the new record.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*Tokens, error) {
	body := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     c.clientID(),
	}
	resp, err := c.postJSON(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenRefreshFailed, err)
	}
	return c.tokensFrom(resp, refreshToken)
}

func (c *Client) postJSON(ctx context.Context, body map[string]string) (*tokenResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL(), strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, errors.New("no access_token in response")
	}
	return &tr, nil
}

func (c *Client) tokensFrom(tr *tokenResponse, oldRefresh string) (*Tokens, error) {
	now := time.Now()
	expiry := defaultExpiry
	if tr.ExpiresIn > 0 {
		expiry = time.Duration(tr.ExpiresIn) * time.Second
	}
	refresh := tr.RefreshToken
	if refresh == "" {
		refresh = oldRefresh
	}
	return &Tokens{
		AccessToken:  tr.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    now.Add(expiry),
		RefreshedAt:  now,
	}, nil
}

// NeedsRefresh reports whether a token expiring at expiresAt should be
// refreshed: absent or within RefreshThreshold of now.
func NeedsRefresh(expiresAt time.Time, threshold time.Duration, now time.Time) bool {
	if expiresAt.IsZero() {
		return true
	}
	if threshold <= 0 {
		threshold = RefreshThreshold
	}
	return expiresAt.Sub(now) < threshold
}
