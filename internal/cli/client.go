package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bazaar/internal/game"
	"bazaar/internal/market"
	"bazaar/internal/store"
)

// APIError is a non-2xx answer from the game server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsAPIError reports whether err came back from the server, as opposed to a
// transport failure.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func gamePath(sessionID string, parts ...string) string {
	p := "/v1/games/" + url.PathEscape(sessionID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

func (c *Client) NewGame(ctx context.Context) (game.SessionInfo, error) {
	var out game.SessionInfo
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/games", nil, &out, "")
	return out, err
}

func (c *Client) ListGames(ctx context.Context) ([]store.Entry, error) {
	var out struct {
		Games []store.Entry `json:"games"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/games", nil, &out, "")
	return out.Games, err
}

func (c *Client) Game(ctx context.Context, sessionID string) (game.SessionInfo, error) {
	var out game.SessionInfo
	err := c.jsonRequest(ctx, http.MethodGet, gamePath(sessionID), nil, &out, "")
	return out, err
}

func (c *Client) EndGame(ctx context.Context, sessionID string) error {
	return c.jsonRequest(ctx, http.MethodDelete, gamePath(sessionID), nil, nil, "")
}

func (c *Client) Advance(ctx context.Context, sessionID, idem string) (game.AdvanceResult, error) {
	var out game.AdvanceResult
	err := c.jsonRequest(ctx, http.MethodPost, gamePath(sessionID, "advance"), nil, &out, idem)
	return out, err
}

func (c *Client) Prices(ctx context.Context, sessionID, location string) ([]game.PriceRow, error) {
	path := gamePath(sessionID, "prices")
	if location != "" {
		path += "?location=" + url.QueryEscape(location)
	}
	var out struct {
		Prices []game.PriceRow `json:"prices"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out, "")
	return out.Prices, err
}

func (c *Client) Price(ctx context.Context, sessionID, productID, location string) (game.PriceRow, error) {
	path := gamePath(sessionID, "prices", productID)
	if location != "" {
		path += "?location=" + url.QueryEscape(location)
	}
	var out game.PriceRow
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out, "")
	return out, err
}

func (c *Client) History(ctx context.Context, sessionID, productID string) (game.HistoryView, error) {
	var out game.HistoryView
	err := c.jsonRequest(ctx, http.MethodGet, gamePath(sessionID, "prices", productID, "history"), nil, &out, "")
	return out, err
}

func (c *Client) Modifiers(ctx context.Context, sessionID string) (market.ModifierSet, error) {
	var out market.ModifierSet
	err := c.jsonRequest(ctx, http.MethodGet, gamePath(sessionID, "modifiers"), nil, &out, "")
	return out, err
}

func (c *Client) ApplyModifier(ctx context.Context, sessionID string, ev game.ModifierEvent, idem string) (market.ModifierSet, error) {
	var out market.ModifierSet
	err := c.jsonRequest(ctx, http.MethodPost, gamePath(sessionID, "events", "modifier"), ev, &out, idem)
	return out, err
}

// Do sends a raw request; used to replay queued commands.
func (c *Client) Do(ctx context.Context, method, path string, body map[string]any, idem string) (map[string]any, error) {
	var out map[string]any
	var in any
	if body != nil {
		in = body
	}
	err := c.jsonRequest(ctx, method, path, in, &out, idem)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
