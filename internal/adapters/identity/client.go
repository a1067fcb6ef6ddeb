package identity

// Package identity wraps the hosted password-grant identity provider.
// It owns the provider token bundle: callers receive copies, and the
// background refresh loop keeps the bundle fresh, publishing session
// changes on the Events channel.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "github.com/attuned-ai/attuned/internal/errors"

	domainsession "github.com/attuned-ai/attuned/internal/domain/session"
	"github.com/attuned-ai/attuned/internal/ports"
)

// Config holds configuration for the identity provider client.
type Config struct {
	// BaseURL is the provider's auth endpoint root, e.g.
	// https://auth.example.com/auth/v1.
	BaseURL string
	// APIKey is the public API key sent with every request.
	APIKey string
	// RefreshLeeway is how long before token expiry the refresh loop
	// fires. Defaults to 30s.
	RefreshLeeway time.Duration
	// DisableAutoRefresh turns off the background refresh loop. Intended
	// for tests that drive events manually.
	DisableAutoRefresh bool
	// HTTPClient is optional; defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client implements ports.IdentityProvider against the provider's REST
// surface (/signup, /token, /logout, /user, /resend, /recover).
type Client struct {
	baseURL    string
	apiKey     string
	leeway     time.Duration
	httpClient *http.Client
	logger     *slog.Logger

	mu      sync.Mutex
	current *domainsession.ProviderSession

	events    chan ports.AuthEvent
	rearm     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ ports.IdentityProvider = (*Client)(nil)

// NewClient creates an identity provider client and starts the token
// refresh loop unless disabled.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("identity base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("identity API key is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	leeway := cfg.RefreshLeeway
	if leeway <= 0 {
		leeway = 30 * time.Second
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		leeway:     leeway,
		httpClient: httpClient,
		logger:     logger,
		events:     make(chan ports.AuthEvent, 8),
		rearm:      make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	if !cfg.DisableAutoRefresh {
		c.wg.Add(1)
		go c.refreshLoop()
	}

	return c, nil
}

// tokenResponse is the provider's token-bundle payload, returned by
// /signup (when auto-confirm is on) and /token.
type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int64       `json:"expires_in"`
	User         userPayload `json:"user"`
}

type userPayload struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	ConfirmedAt string `json:"confirmed_at"`
}

func (t tokenResponse) bundle() domainsession.ProviderSession {
	b := domainsession.ProviderSession{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
	}
	if t.ExpiresIn > 0 {
		b.ExpiresAt = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return b
}

func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (ports.Identity, error) {
	if email == "" || password == "" {
		return ports.Identity{}, apperrors.Validation("email and password are required")
	}

	body := map[string]any{"email": email, "password": password}
	if len(metadata) > 0 {
		body["data"] = metadata
	}

	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/signup", body, &resp); err != nil {
		return ports.Identity{}, err
	}

	id := ports.Identity{
		UserID:         resp.User.ID,
		Email:          resp.User.Email,
		EmailConfirmed: resp.User.ConfirmedAt != "",
	}
	if resp.AccessToken != "" {
		id.Provider = resp.bundle()
		c.setSession(&id.Provider)
	}
	return id, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (ports.Identity, error) {
	if email == "" || password == "" {
		return ports.Identity{}, apperrors.Validation("email and password are required")
	}

	body := map[string]any{"email": email, "password": password}
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=password", body, &resp); err != nil {
		return ports.Identity{}, err
	}
	if resp.AccessToken == "" {
		return ports.Identity{}, apperrors.Internal("provider returned no access token")
	}

	id := ports.Identity{
		UserID:         resp.User.ID,
		Email:          resp.User.Email,
		EmailConfirmed: resp.User.ConfirmedAt != "",
		Provider:       resp.bundle(),
	}
	c.setSession(&id.Provider)
	return id, nil
}

// Logout revokes the provider session. The local bundle is cleared before
// the remote call so a network failure still signs the device out.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	cur := c.current
	c.current = nil
	c.mu.Unlock()
	c.rearmLoop()

	if cur == nil || cur.AccessToken == "" {
		return nil
	}
	if err := c.doAuthed(ctx, http.MethodPost, "/logout", nil, nil, cur.AccessToken); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "provider sign-out")
	}
	return nil
}

func (c *Client) CurrentSession(_ context.Context) (*domainsession.ProviderSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, nil
	}
	cp := *c.current
	return &cp, nil
}

func (c *Client) CurrentUser(ctx context.Context) (*ports.Identity, error) {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil {
		return nil, nil
	}

	var user userPayload
	if err := c.doAuthed(ctx, http.MethodGet, "/user", nil, &user, cur.AccessToken); err != nil {
		return nil, err
	}
	return &ports.Identity{
		UserID:         user.ID,
		Email:          user.Email,
		EmailConfirmed: user.ConfirmedAt != "",
		Provider:       *cur,
	}, nil
}

func (c *Client) ResendConfirmation(ctx context.Context, email string) error {
	if email == "" {
		return apperrors.Validation("email is required")
	}
	return c.do(ctx, http.MethodPost, "/resend", map[string]any{"type": "signup", "email": email}, nil)
}

func (c *Client) ResetPassword(ctx context.Context, email string) error {
	if email == "" {
		return apperrors.Validation("email is required")
	}
	return c.do(ctx, http.MethodPost, "/recover", map[string]any{"email": email}, nil)
}

// Events returns the session-change notification channel. Closed by Close.
func (c *Client) Events() <-chan ports.AuthEvent { return c.events }

// Close stops the refresh loop and closes the events channel.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		close(c.events)
	})
	return nil
}

// setSession installs a new token bundle and re-arms the refresh loop.
func (c *Client) setSession(s *domainsession.ProviderSession) {
	c.mu.Lock()
	if s == nil {
		c.current = nil
	} else {
		cp := *s
		c.current = &cp
	}
	c.mu.Unlock()
	c.rearmLoop()
}

func (c *Client) rearmLoop() {
	select {
	case c.rearm <- struct{}{}:
	default:
	}
}

// refreshLoop refreshes the access token shortly before expiry and
// publishes the outcome. A failed refresh is treated as external session
// loss.
func (c *Client) refreshLoop() {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		cur := c.current
		c.mu.Unlock()

		var timer *time.Timer
		var timerC <-chan time.Time
		if cur != nil && cur.RefreshToken != "" && !cur.ExpiresAt.IsZero() {
			d := time.Until(cur.ExpiresAt.Add(-c.leeway))
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-c.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-c.rearm:
			if timer != nil {
				timer.Stop()
			}
			continue
		case <-timerC:
			c.refresh(cur.RefreshToken)
		}
	}
}

func (c *Client) refresh(refreshToken string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token",
		map[string]any{"refresh_token": refreshToken}, &resp)
	if err != nil || resp.AccessToken == "" {
		c.logger.Warn("token refresh failed, treating session as lost", "error", err)
		c.setSession(nil)
		c.publish(ports.AuthEvent{Kind: ports.EventSignedOut})
		return
	}

	bundle := resp.bundle()
	c.setSession(&bundle)
	c.publish(ports.AuthEvent{Kind: ports.EventTokenRefreshed, Session: &bundle})
}

func (c *Client) publish(ev ports.AuthEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// apiError is the provider's error payload. ErrorCode is the structured
// code preferred for classification; older deployments only populate the
// human-readable fields.
type apiError struct {
	ErrorCode   string `json:"error_code"`
	ErrorName   string `json:"error"`
	Description string `json:"error_description"`
	Msg         string `json:"msg"`
}

func (e apiError) message() string {
	for _, m := range []string{e.Description, e.Msg, e.ErrorName} {
		if m != "" {
			return m
		}
	}
	return "authentication failed"
}

// classify maps a provider error response onto the application taxonomy.
// The structured error_code wins; matching on the human-readable message
// is a deliberately isolated fallback heuristic for providers that never
// send codes, and is known to be locale-dependent.
func classify(status int, e apiError) error {
	msg := e.message()
	if e.ErrorCode == "email_not_confirmed" {
		return apperrors.EmailNotConfirmed(msg)
	}
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnprocessableEntity, http.StatusForbidden:
		if strings.Contains(strings.ToLower(msg), "not confirmed") {
			return apperrors.EmailNotConfirmed(msg)
		}
		return apperrors.InvalidCredentials(msg)
	default:
		return apperrors.Internalf("identity provider error (status %d): %s", status, msg)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.doAuthed(ctx, method, path, body, out, "")
}

func (c *Client) doAuthed(ctx context.Context, method, path string, body, out any, accessToken string) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "build request")
	}
	req.Header.Set("apikey", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeInternal, "identity request %s %s", method, path)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "read response")
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		_ = json.Unmarshal(data, &apiErr)
		return classify(resp.StatusCode, apiErr)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return apperrors.Wrapf(err, apperrors.ErrCodeInternal, "decode response from %s", path)
		}
	}
	return nil
}
