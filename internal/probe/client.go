// Package probe is a small HTTP client for a running statboard server. It
// waits for readiness, drives board inputs and reads the results back; the
// probe command uses it as a smoke test.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// BoardState mirrors GET /api/v1/sessions/{id}/{board}.
type BoardState struct {
	Session   string              `json:"session_id"`
	Board     string              `json:"board"`
	Fields    []Field             `json:"fields"`
	Artifacts map[string]Artifact `json:"artifacts"`
	Samples   []float64           `json:"samples"`
}

// Field mirrors one board input.
type Field struct {
	ID     string   `json:"id"`
	Label  string   `json:"label"`
	Value  *float64 `json:"value"`
	Action bool     `json:"action,omitempty"`
}

// Artifact mirrors one derived value; Value is left encoded.
type Artifact struct {
	ID      string          `json:"id"`
	Version uint64          `json:"version"`
	Value   json.RawMessage `json:"value"`
}

// Commit mirrors the response to an input or action.
type Commit struct {
	Board      string     `json:"board"`
	Trigger    string     `json:"trigger"`
	Updated    []string   `json:"updated"`
	Suppressed []string   `json:"suppressed"`
	Artifacts  []Artifact `json:"artifacts"`
}

// APIError is a non-2xx response.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.Path, e.Status, e.Message)
}

// Client talks to the statboard API.
type Client struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client

	// Readiness polling starts at InitialBackoff and doubles up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// NewClient creates a Client targeting the given base URL.
func NewClient(baseURL, adminKey string) *Client {
	return &Client{
		BaseURL:        baseURL,
		AdminKey:       adminKey,
		HTTPClient:     &http.Client{Timeout: 30 * time.Second},
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// WaitReady polls /healthz with exponential backoff until it answers 200 or
// ctx ends.
func (c *Client) WaitReady(ctx context.Context) error {
	backoff := c.InitialBackoff
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
		if err != nil {
			return err
		}
		resp, err := c.HTTPClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				slog.Info("statboard API is ready", "url", c.BaseURL)
				return nil
			}
		}

		slog.Info("statboard not ready, retrying...", "backoff", backoff)
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %s: %w", c.BaseURL, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.MaxBackoff)
	}
}

// CreateSession starts a new session and returns its ID.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", nil, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

// DeleteSession ends a session.
func (c *Client) DeleteSession(ctx context.Context, session string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/sessions/"+url.PathEscape(session), nil, nil)
}

// Board fetches a board's fields, artifacts and samples.
func (c *Client) Board(ctx context.Context, session, board string) (*BoardState, error) {
	var state BoardState
	if err := c.do(ctx, http.MethodGet, boardPath(session, board), nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SetInput sets one field. A nil value clears it.
func (c *Client) SetInput(ctx context.Context, session, board, field string, value *float64) (*Commit, error) {
	body := struct {
		Field string   `json:"field"`
		Value *float64 `json:"value"`
	}{field, value}

	var commit Commit
	if err := c.do(ctx, http.MethodPost, boardPath(session, board)+"/inputs", body, &commit); err != nil {
		return nil, err
	}
	return &commit, nil
}

// Action clicks an action button.
func (c *Client) Action(ctx context.Context, session, board, action string) (*Commit, error) {
	var commit Commit
	path := boardPath(session, board) + "/actions/" + url.PathEscape(action)
	if err := c.do(ctx, http.MethodPost, path, nil, &commit); err != nil {
		return nil, err
	}
	return &commit, nil
}

func boardPath(session, board string) string {
	return "/api/v1/sessions/" + url.PathEscape(session) + "/" + url.PathEscape(board)
}

// do sends a JSON request and decodes a JSON response into target when it
// is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, target any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", path, err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AdminKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.AdminKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := string(respBody)
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Message: msg}
	}

	if target == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
