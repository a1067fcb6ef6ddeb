package backendapi

// Package backendapi wraps the application backend's user endpoints.
// The backend owns the canonical profile and onboarding flag; this client
// is a thin HTTP layer that maps transport failures onto the application
// error taxonomy.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	domainsession "github.com/attuned-ai/attuned/internal/domain/session"
	apperrors "github.com/attuned-ai/attuned/internal/errors"
	"github.com/attuned-ai/attuned/internal/ports"
)

// TokenFunc supplies the bearer token for authenticated requests.
// The session controller wires this to the live provider session.
type TokenFunc func() string

// Config holds configuration for the backend profile client.
type Config struct {
	// BaseURL is the backend API root, e.g. https://api.attuned.app.
	BaseURL string
	// Token supplies the bearer token per request. Optional; requests go
	// out unauthenticated when nil or when it returns "".
	Token TokenFunc
	// HTTPClient is optional; defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client implements ports.ProfileBackend.
type Client struct {
	baseURL    string
	token      TokenFunc
	httpClient *http.Client
	logger     *slog.Logger
}

var _ ports.ProfileBackend = (*Client)(nil)

// NewClient creates a backend profile client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// userResponse is the backend's user payload.
type userResponse struct {
	ID                 string                `json:"id"`
	Email              string                `json:"email"`
	Profile            domainsession.Profile `json:"profile"`
	OnboardingComplete bool                  `json:"onboarding_complete"`
	DerivedDataID      string                `json:"derived_data_id"`
}

func (c *Client) GetUser(ctx context.Context, userID string) (ports.BackendUser, error) {
	if userID == "" {
		return ports.BackendUser{}, apperrors.Validation("user ID is required")
	}

	var resp userResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/users/"+userID, nil, &resp); err != nil {
		return ports.BackendUser{}, err
	}
	return ports.BackendUser{
		UserID:             resp.ID,
		Email:              resp.Email,
		Profile:            resp.Profile,
		OnboardingComplete: resp.OnboardingComplete,
		DerivedDataID:      resp.DerivedDataID,
	}, nil
}

func (c *Client) UpdateProfile(ctx context.Context, userID string, partial domainsession.Profile) (domainsession.Profile, error) {
	if userID == "" {
		return nil, apperrors.Validation("user ID is required")
	}

	var resp struct {
		Profile domainsession.Profile `json:"profile"`
	}
	body := map[string]any{"profile": partial}
	if err := c.doJSON(ctx, http.MethodPatch, "/v1/users/"+userID+"/profile", body, &resp); err != nil {
		return nil, err
	}
	return resp.Profile, nil
}

func (c *Client) CompleteOnboarding(ctx context.Context, userID string) error {
	if userID == "" {
		return apperrors.Validation("user ID is required")
	}
	return c.doJSON(ctx, http.MethodPost, "/v1/users/"+userID+"/onboarding/complete", nil, nil)
}

// UploadDerivedData streams a chat-log artifact to the backend as
// multipart form data and returns the stored derived-data reference.
func (c *Client) UploadDerivedData(ctx context.Context, userID, filename string, data io.Reader) (ports.UploadResult, error) {
	if userID == "" {
		return ports.UploadResult{}, apperrors.Validation("user ID is required")
	}
	if filename == "" {
		filename = "chatlog-" + uuid.NewString() + ".txt"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return ports.UploadResult{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "build multipart body")
	}
	if _, err = io.Copy(part, data); err != nil {
		return ports.UploadResult{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "copy upload data")
	}
	if err = mw.Close(); err != nil {
		return ports.UploadResult{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "finalize multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/users/"+userID+"/derived-data", &buf)
	if err != nil {
		return ports.UploadResult{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "build request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	var resp struct {
		DerivedDataID string `json:"derived_data_id"`
		RecordCount   int    `json:"record_count"`
		FeatureCount  int    `json:"feature_count"`
	}
	if err := c.send(req, &resp); err != nil {
		return ports.UploadResult{}, err
	}
	return ports.UploadResult{
		DerivedDataID: resp.DerivedDataID,
		RecordCount:   resp.RecordCount,
		FeatureCount:  resp.FeatureCount,
	}, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token == nil {
		return
	}
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	return c.send(req, out)
}

// send executes a request and maps failures onto the backend_sync code so
// callers can distinguish "backend unavailable" from caller bugs.
func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeBackendSync, "backend request %s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeBackendSync, "read backend response")
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &apiErr)
		msg := apiErr.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return apperrors.BackendSyncf("backend %s %s: %s (status %d)", req.Method, req.URL.Path, msg, resp.StatusCode)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return apperrors.Wrapf(err, apperrors.ErrCodeBackendSync, "decode backend response from %s", req.URL.Path)
		}
	}
	return nil
}
