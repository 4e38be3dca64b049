// Package session owns the authenticated transport to the bot service.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"
)

const (
	// TokenHeader carries the auth token on the login response and every call after it.
	TokenHeader = "X-MSTR-AuthToken"

	loginPath = "/api/auth/login"

	DefaultMaxAge = 15 * time.Minute
)

// Credentials are supplied once per run and used to mint tokens.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthError reports a rejected login or a login response without a token.
type AuthError struct {
	StatusCode int
	Msg        string
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("auth failed (status %d): %s", e.StatusCode, e.Msg)
	}
	return "auth failed: " + e.Msg
}

// Target identifies the bot a session talks to.
type Target struct {
	BaseURL   string
	BotID     string
	ProjectID string
}

// Manager holds the token for one session. It is safe for concurrent use,
// but the bounded-concurrency runner gives each worker its own Manager.
type Manager struct {
	target Target
	creds  Credentials
	client *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	token        string
	issuedAt     time.Time
	lastActivity time.Time
	logins       int
}

// NewManager creates an unauthenticated session manager.
func NewManager(target Target, creds Credentials, logger *slog.Logger) *Manager {
	jar, _ := cookiejar.New(nil)
	return &Manager{
		target: Target{
			BaseURL:   strings.TrimRight(target.BaseURL, "/"),
			BotID:     target.BotID,
			ProjectID: target.ProjectID,
		},
		creds:  creds,
		client: &http.Client{Timeout: 60 * time.Second, Jar: jar},
		logger: logger,
		now:    time.Now,
	}
}

// Target returns the bot coordinates this session is bound to.
func (m *Manager) Target() Target {
	return m.target
}

// Token returns the current token, empty before the first successful login.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// IssuedAt returns when the current token was minted.
func (m *Manager) IssuedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issuedAt
}

// Logins returns how many successful logins this session has performed.
func (m *Manager) Logins() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logins
}

// Authenticate posts the credentials to the login endpoint and stores the
// returned token. Any non-2xx status or a missing token header is an *AuthError.
func (m *Manager) Authenticate(ctx context.Context) error {
	body, err := json.Marshal(m.creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.target.BaseURL+loginPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return &AuthError{Msg: err.Error()}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &AuthError{StatusCode: resp.StatusCode, Msg: strings.TrimSpace(string(respBody))}
	}
	token := resp.Header.Get(TokenHeader)
	if token == "" {
		return &AuthError{StatusCode: resp.StatusCode, Msg: "no " + TokenHeader + " header in login response"}
	}

	now := m.now()
	m.mu.Lock()
	m.token = token
	m.issuedAt = now
	m.lastActivity = now
	m.logins++
	m.mu.Unlock()

	m.logger.Info("login successful", "base_url", m.target.BaseURL)
	return nil
}

// EnsureFresh re-authenticates when the last successful call is older than
// maxAge. A failed re-login is only logged: the next call will hit the 401
// path and relogin there.
func (m *Manager) EnsureFresh(ctx context.Context, maxAge time.Duration) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	m.mu.Lock()
	idle := m.now().Sub(m.lastActivity)
	hasToken := m.token != ""
	m.mu.Unlock()

	if hasToken && idle <= maxAge {
		return
	}
	m.logger.Info("refreshing session", "idle", idle.Round(time.Second).String())
	if err := m.Authenticate(ctx); err != nil {
		m.logger.Warn("session refresh failed", "error", err)
	}
}

// Do sends the request built by newReq with the current token attached. A
// 401 response triggers exactly one re-authentication and one rebuilt
// request; whatever that second attempt returns is handed to the caller.
func (m *Manager) Do(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	resp, err := m.send(ctx, newReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	m.logger.Info("token rejected, logging in again", "url", resp.Request.URL.Path)
	if err := m.Authenticate(ctx); err != nil {
		return nil, err
	}
	return m.send(ctx, newReq)
}

func (m *Manager) send(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	req, err := newReq(ctx)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := m.Token(); token != "" {
		req.Header.Set(TokenHeader, token)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		m.mu.Lock()
		m.lastActivity = m.now()
		m.mu.Unlock()
	}
	return resp, nil
}
