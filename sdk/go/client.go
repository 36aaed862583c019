package valsortsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Valsort HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Value is one sortable card.
type Value struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ValueWithReason is a final value plus the reason it survived.
type ValueWithReason struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Reason      string `json:"reason"`
}

// Session represents the API session model (partial).
type Session struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Target       int    `json:"target"`
	CurrentRound int    `json:"current_round"`
	Completed    bool   `json:"completed"`
}

// Board is the category layout of one round.
type Board struct {
	Categories      map[string][]Value `json:"categories"`
	Remaining       []Value            `json:"remaining"`
	ValidCategories []string           `json:"valid_categories"`
}

// Progress carries the round-health flags.
type Progress struct {
	ActiveCount         int  `json:"active_count"`
	TotalActive         int  `json:"total_active"`
	RemainingCount      int  `json:"remaining_count"`
	HasEnoughCards      bool `json:"has_enough_cards"`
	HasMinimumDiscard   bool `json:"has_minimum_discard"`
	IsNearingCompletion bool `json:"is_nearing_completion"`
	CanAdvance          bool `json:"can_advance"`
	ShouldEndGame       bool `json:"should_end_game"`
}

// Status is the full state of a session's current round.
type Status struct {
	SessionID string   `json:"session_id"`
	Round     int      `json:"round"`
	Stage     string   `json:"stage"`
	Progress  Progress `json:"progress"`
	Board     Board    `json:"board"`
}

// ApplyResult reports one drop or move.
type ApplyResult struct {
	Applied bool   `json:"applied"`
	Status  Status `json:"status"`
}

// AdvanceResult reports a round transition or end-game.
type AdvanceResult struct {
	EndGame     bool    `json:"end_game"`
	Round       int     `json:"round"`
	FinalValues []Value `json:"final_values"`
	Status      Status  `json:"status"`
}

// CompletedSession is the closed session with reasons.
type CompletedSession struct {
	SessionID   string            `json:"session_id"`
	FinalValues []ValueWithReason `json:"final_values"`
	CreatedAt   string            `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateSession starts a session. Zero target and nil values use the
// server's configured defaults.
func (c *Client) CreateSession(ctx context.Context, name string, target int, values []Value) (Status, error) {
	body := map[string]any{"name": name}
	if target > 0 {
		body["target"] = target
	}
	if len(values) > 0 {
		body["values"] = values
	}
	var resp Status
	err := c.do(ctx, http.MethodPost, "v0/sessions", body, &resp)
	return resp, err
}

// ListSessions returns all sessions.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var resp []Session
	err := c.do(ctx, http.MethodGet, "v0/sessions", nil, &resp)
	return resp, err
}

// Status returns the current round state of a session.
func (c *Client) Status(ctx context.Context, sessionID string) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, c.sessionPath(sessionID, ""), nil, &resp)
	return resp, err
}

// Drop places a card into a category.
func (c *Client) Drop(ctx context.Context, sessionID, cardID, category string) (ApplyResult, error) {
	body := map[string]any{"card_id": cardID, "category": category}
	var resp ApplyResult
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "drop"), body, &resp)
	return resp, err
}

// MoveWithin reorders a card inside one category.
func (c *Client) MoveWithin(ctx context.Context, sessionID, category string, fromIndex, toIndex int) (ApplyResult, error) {
	body := map[string]any{"category": category, "from_index": fromIndex, "to_index": toIndex}
	var resp ApplyResult
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "move"), body, &resp)
	return resp, err
}

// MoveBetween moves a card from one category to another.
func (c *Client) MoveBetween(ctx context.Context, sessionID, cardID, from, to string) (ApplyResult, error) {
	body := map[string]any{"card_id": cardID, "from_category": from, "to_category": to}
	var resp ApplyResult
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "move"), body, &resp)
	return resp, err
}

// Advance moves the session to its next round.
func (c *Client) Advance(ctx context.Context, sessionID string) (AdvanceResult, error) {
	var resp AdvanceResult
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "advance"), nil, &resp)
	return resp, err
}

// EarlyFinish forces the active pool down to the target count.
func (c *Client) EarlyFinish(ctx context.Context, sessionID string) (AdvanceResult, error) {
	var resp AdvanceResult
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "early-finish"), nil, &resp)
	return resp, err
}

// Complete records reasons for the final values and closes the session.
func (c *Client) Complete(ctx context.Context, sessionID string, reasons map[string]string) (CompletedSession, error) {
	body := map[string]any{"reasons": reasons}
	var resp CompletedSession
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "complete"), body, &resp)
	return resp, err
}

// CompletedSession fetches the closed session record.
func (c *Client) CompletedSession(ctx context.Context, sessionID string) (CompletedSession, error) {
	var resp CompletedSession
	err := c.do(ctx, http.MethodGet, c.sessionPath(sessionID, "completed"), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) sessionPath(sessionID, p string) string {
	base := fmt.Sprintf("v0/sessions/%s", url.PathEscape(sessionID))
	if p == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
