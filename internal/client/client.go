// Package client manages a chat client's HTTP and WebSocket connection to the
// relay.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-im/parley/pkg/protocol"
)

// Config holds client connection settings.
type Config struct {
	ServerURL         string // e.g. "http://localhost:8080"
	ReconnectInterval time.Duration
	TLSSkipVerify     bool
}

// UserInfo is one entry of the relay's user directory.
type UserInfo struct {
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	Online   bool   `json:"online"`
}

// Client talks to the relay. Authenticate with Register/Login, then Connect
// to start relaying frames.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	token    string
	nickname string

	mu   sync.Mutex
	conn *websocket.Conn

	frames chan protocol.Frame
}

// New creates a relay client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = 3 * time.Second
	}
	transport := &http.Transport{}
	if cfg.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 15 * time.Second, Transport: transport},
		logger: logger.With("component", "client"),
		frames: make(chan protocol.Frame, 64),
	}
}

// Nickname returns the identity the client logged in as.
func (c *Client) Nickname() string { return c.nickname }

// Register creates a new identity on the relay.
func (c *Client) Register(ctx context.Context, nickname, password string) error {
	var out struct {
		Nickname string `json:"nickname"`
	}
	return c.postJSON(ctx, "/api/register", map[string]string{
		"nickname": nickname,
		"password": password,
	}, &out)
}

// Login authenticates and stores the session token for later calls.
func (c *Client) Login(ctx context.Context, nickname, password string) error {
	var out struct {
		Token    string `json:"token"`
		Nickname string `json:"nickname"`
	}
	if err := c.postJSON(ctx, "/api/login", map[string]string{
		"nickname": nickname,
		"password": password,
	}, &out); err != nil {
		return err
	}
	c.token = out.Token
	c.nickname = out.Nickname
	return nil
}

// ListUsers fetches the user directory with presence flags.
func (c *Client) ListUsers(ctx context.Context) ([]UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.ServerURL+"/api/users", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var users []UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

// ChangeNickname renames the logged-in identity. The session token stays
// valid under the new name.
func (c *Client) ChangeNickname(ctx context.Context, newNickname, password string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServerURL+"/api/nickname",
		bytes.NewReader(mustJSON(map[string]string{
			"new_nickname": newNickname,
			"password":     password,
		})))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	c.nickname = newNickname
	return nil
}

// Connect establishes the WebSocket connection to the relay and begins
// relaying inbound frames to Frames(). It blocks until the context is
// canceled, reconnecting with a fixed delay when the connection drops.
func (c *Client) Connect(ctx context.Context) error {
	if c.token == "" {
		return fmt.Errorf("not logged in")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.connectOnce(ctx); err != nil {
			c.logger.Warn("connection failed", "error", err)
		}

		delay := c.cfg.ReconnectInterval
		c.logger.Info("reconnecting", "delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Client) connectOnce(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if c.cfg.TLSSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	conn, resp, err := dialer.DialContext(ctx, c.wsURL(), nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	c.logger.Info("connected to relay", "url", c.cfg.ServerURL)

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			return ctx.Err()
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}

		var f protocol.Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			c.logger.Warn("invalid frame from relay", "error", err)
			continue
		}

		select {
		case c.frames <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Frames returns the stream of inbound frames: chat messages (live or
// backlog), typing notices and relay errors.
func (c *Client) Frames() <-chan protocol.Frame {
	return c.frames
}

// SendChat sends a chat message to the given recipient.
func (c *Client) SendChat(to, text string) error {
	return c.send(protocol.Frame{Type: protocol.TypeChat, To: to, Text: text})
}

// SendTyping sends a best-effort typing notice to the given recipient.
func (c *Client) SendTyping(to string) error {
	return c.send(protocol.Frame{Type: protocol.TypeTyping, To: to})
}

func (c *Client) send(f protocol.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) wsURL() string {
	url := c.cfg.ServerURL
	if strings.HasPrefix(url, "https://") {
		url = "wss://" + strings.TrimPrefix(url, "https://")
	} else {
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/ws?token=" + c.token
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServerURL+path, bytes.NewReader(mustJSON(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// apiError extracts the relay's error message from a non-2xx response.
func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return fmt.Errorf("%s (status %d)", body.Error, resp.StatusCode)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}
