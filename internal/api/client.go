package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"roomcall/native/internal/domain"
)

// RequestIDHeader carries a per-request id the relay server logs.
const RequestIDHeader = "X-Request-ID"

type loginRequest struct {
	Username string `json:"username"`
}

type loginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

type roomRequest struct {
	Name string `json:"name"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client talks to the relay server's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an API client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func generateRequestID() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	h := sha1.Sum(buf)
	return fmt.Sprintf("%x", h)[:32]
}

// Login obtains a relay token for username.
func (c *Client) Login(ctx context.Context, username string) (string, error) {
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", "", loginRequest{Username: username}, &resp); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("login: empty token")
	}
	return resp.Token, nil
}

// FetchTicket resolves or creates the room called name and returns its
// ticket.
func (c *Client) FetchTicket(ctx context.Context, token, name string) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := c.do(ctx, http.MethodPost, "/api/rooms", token, roomRequest{Name: name}, &ticket); err != nil {
		return nil, fmt.Errorf("fetch ticket: %w", err)
	}
	if ticket.RoomID == "" {
		return nil, fmt.Errorf("fetch ticket: response has no room id")
	}
	return &ticket, nil
}

// PublishMessage publishes msg to room without a websocket.
func (c *Client) PublishMessage(ctx context.Context, token string, room domain.RoomID, msg domain.Message) error {
	path := "/api/rooms/" + url.PathEscape(room.String()) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, token, msg, nil); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// History returns recorded room messages, newest first.
func (c *Client) History(ctx context.Context, token string, room domain.RoomID, limit int) ([]domain.Message, error) {
	path := "/api/rooms/" + url.PathEscape(room.String()) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var msgs []domain.Message
	if err := c.do(ctx, http.MethodGet, path, token, nil, &msgs); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return msgs, nil
}

// WebsocketURL returns the ws(s) URL for path on the API host.
func (c *Client) WebsocketURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set(RequestIDHeader, generateRequestID())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr errorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("http %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
