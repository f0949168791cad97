// Package client talks to the broker over HTTP and WebSocket. It is used by
// the edge proxy and by the owner CLI.
package client

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

	"github.com/gorilla/websocket"

	"github.com/hackclub/tshare/internal/api"
	"github.com/hackclub/tshare/internal/auth"
)

var (
	ErrUpstreamUnreachable = errors.New("broker unreachable")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionEnded        = errors.New("session ended")
	ErrOwnerConnected      = errors.New("owner already connected")
	ErrUnauthorized        = errors.New("unauthorized")
)

// StatusError is a non-2xx response from the broker.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, strings.TrimSpace(e.Body))
}

func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusNotFound:
		return ErrSessionNotFound
	case http.StatusGone:
		return ErrSessionEnded
	case http.StatusConflict:
		return ErrOwnerConnected
	case http.StatusUnauthorized:
		return ErrUnauthorized
	}
	return nil
}

// Client makes calls to one broker.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	dialer  *websocket.Dialer
}

// New creates a client targeting the given base URL (e.g.
// "http://127.0.0.1:8385").
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateSession sends POST /api/session and returns the new session id.
func (c *Client) CreateSession(ctx context.Context, req api.CreateSessionRequest) (string, error) {
	var out api.CreateSessionResponse
	if err := c.post(ctx, "/api/session", req, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

// GetSession fetches /api/session/{id}.
func (c *Client) GetSession(ctx context.Context, id string) (*api.SessionDetails, error) {
	var out api.SessionDetails
	if err := c.get(ctx, "/api/session/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Probe checks that the broker answers HTTP. Looking up a session that does
// not exist is enough: a 404 proves the broker is up.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.GetSession(ctx, "connection-test")
	if err == nil || errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}

// DialOwner opens the owner stream of a session.
func (c *Client) DialOwner(ctx context.Context, id string) (*websocket.Conn, error) {
	return c.dial(ctx, "/ws/pty/"+url.PathEscape(id), nil)
}

// DialViewer opens a viewer stream tagged with the given access class.
func (c *Client) DialViewer(ctx context.Context, id string, class auth.Class) (*websocket.Conn, error) {
	q := url.Values{}
	q.Set("user_type", string(class))
	return c.dial(ctx, "/ws/web/"+url.PathEscape(id), q)
}

func (c *Client) dial(ctx context.Context, path string, query url.Values) (*websocket.Conn, error) {
	target, err := c.wsURL(path, query)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	c.setAuth(header)

	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp == nil {
			return nil, fmt.Errorf("%w: dial %s: %v", ErrUpstreamUnreachable, path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Method: http.MethodGet, Path: path, Code: resp.StatusCode, Body: string(body)}
	}
	return conn, nil
}

func (c *Client) wsURL(path string, query url.Values) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("parse broker url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported broker url scheme %q", u.Scheme)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	c.setAuth(req.Header)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUpstreamUnreachable, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Method: req.Method, Path: req.URL.Path, Code: resp.StatusCode, Body: string(body)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) setAuth(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
}
