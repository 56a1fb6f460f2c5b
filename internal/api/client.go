package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"go.uber.org/zap"

	"github.com/escapecode/bughunt/pkg/wire"
)

const (
	gameStatePath    = "/api/game-state/"
	validatePagePath = "/api/validate-page/"
)

// DomainError is a server-reported game error: the request made it to the
// backend but the backend said no. RedirectDashboard means the session is
// no longer welcome on this page (expired round, bad token).
type DomainError struct {
	Message           string
	RedirectDashboard bool
}

func (e *DomainError) Error() string { return e.Message }

// Client talks JSON to the game backend. Requests carry the session cookie
// jar so the backend sees the same credentials as the rest of the app.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewClient(baseURL string, log *zap.Logger) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Jar:     jar,
		},
		log: log,
	}
}

// BaseURL returns the configured backend root, e.g. "http://host:8000".
func (c *Client) BaseURL() string { return c.baseURL }

// GameState fetches the authoritative view of the team's round.
func (c *Client) GameState(ctx context.Context, req wire.GameStateRequest) (*wire.GameStateResponse, error) {
	var resp wire.GameStateResponse
	if err := c.post(ctx, gameStatePath, req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &DomainError{Message: resp.Error}
	}
	return &resp, nil
}

// ValidatePage submits the fixed-bug set for server validation.
func (c *Client) ValidatePage(ctx context.Context, req wire.ValidatePageRequest) (*wire.ValidatePageResponse, error) {
	var resp wire.ValidatePageResponse
	if err := c.post(ctx, validatePagePath, req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &DomainError{Message: resp.Error, RedirectDashboard: resp.RedirectDashboard}
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.log.Debug("api response",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode))

	// Error statuses still carry a JSON body with the domain error in it;
	// decode first and only fall back to the status code if that fails.
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("post %s: status %d: %w", path, resp.StatusCode, err)
	}
	return nil
}
