// Package client is the subscriber counterpart of the gateway: one
// connection per authenticated identity, announced on connect, with silent
// bounded reconnection and local surfacing of incoming notifications.
package client

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/o-farouk/stockwire/internal/notify"
	"github.com/tidwall/gjson"
)

const (
	defaultHandshakeTimeout  = 20 * time.Second
	defaultReconnectInterval = time.Second
	defaultMaxReconnects     = 5
	defaultMuteMessage       = "Stock Adjustment"
)

// Toaster renders a transient notification to the user.
type Toaster interface {
	Toast(message, description, actionURL string)
}

// Listener receives every inbound event republished in-process, so other
// components can react without a connection of their own.
type Listener func(event string, payload []byte)

type Config struct {
	URL      string // ws endpoint, e.g. ws://host:8080/ws
	Identity notify.Identity

	HandshakeTimeout  time.Duration
	ReconnectInterval time.Duration
	MaxReconnects     uint64

	// MuteMessage suppresses the toast (only the toast) for payloads whose
	// message equals it. Adjustment events fire in bursts during opname
	// counts and would otherwise flood the UI.
	MuteMessage string

	Toaster  Toaster
	OnUnread func()
	Logger   *slog.Logger
}

type Client struct {
	cfg Config

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	done     chan struct{}
	stopOnce sync.Once

	listenerMu sync.RWMutex
	listeners  []Listener

	logger *slog.Logger
}

func New(cfg Config) *Client {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = defaultMaxReconnects
	}
	if cfg.MuteMessage == "" {
		cfg.MuteMessage = defaultMuteMessage
	}
	// A stable id is preferred; email stands in when there is none.
	if cfg.Identity.UserID == "" {
		cfg.Identity.UserID = cfg.Identity.Email
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		done:   make(chan struct{}),
		logger: cfg.Logger.With(slog.String("component", "subscriber_client")),
	}
}

// Start opens the connection in the background and keeps it alive until the
// reconnect budget is exhausted or Stop is called. Connection failures are
// never surfaced to the user; they are only observable via IsConnected.
func (c *Client) Start() {
	go c.run()
}

// Stop tears the connection down. No reconnection is attempted afterwards;
// a fresh client must be built when a new identity becomes available.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.connected = false
		c.mu.Unlock()
	})
}

// IsConnected reports whether a live connection is currently established.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Subscribe registers an in-process listener for inbound events.
func (c *Client) Subscribe(l Listener) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Client) run() {
	for {
		// Fixed-interval backoff with a hard attempt budget. The budget is
		// per connection loss: a successful connect resets it.
		policy := backoff.WithMaxRetries(
			backoff.NewConstantBackOff(c.cfg.ReconnectInterval),
			c.cfg.MaxReconnects,
		)
		if err := backoff.Retry(c.connect, policy); err != nil {
			c.logger.Warn("Reconnect budget exhausted; staying disconnected", slog.Any("error", err))
			return
		}

		c.readLoop()

		if c.stopped() {
			return
		}
		c.logger.Info("Connection lost; reconnecting")
	}
}

func (c *Client) connect() error {
	if c.stopped() {
		return backoff.Permanent(errStopped)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, resp, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		c.logger.Debug("Dial failed", slog.Any("error", err))
		return err
	}

	announce, err := notify.Frame(notify.EventJoin, c.cfg.Identity)
	if err != nil {
		conn.Close()
		return backoff.Permanent(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, announce); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("Connected and identity announced", slog.String("userID", c.cfg.Identity.UserID))
	return nil
}

func (c *Client) readLoop() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !c.stopped() {
				c.logger.Debug("Read failed", slog.Any("error", err))
			}
			return
		}
		c.handleFrame(msg)
	}
}

func (c *Client) handleFrame(msg []byte) {
	var env notify.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		c.logger.Warn("Malformed server frame", slog.Any("error", err))
		return
	}

	switch env.Event {
	case notify.EventJoinedRooms:
		c.logger.Debug("Room assignment acknowledged", slog.String("payload", string(env.Payload)))
	case notify.EventNotification:
		c.handleNotification(env.Payload)
	default:
		c.logger.Debug("Ignoring unknown server event", slog.String("event", env.Event))
	}

	c.republish(env.Event, env.Payload)
}

func (c *Client) handleNotification(payload []byte) {
	message := gjson.GetBytes(payload, "message").String()

	if c.cfg.Toaster != nil && message != c.cfg.MuteMessage {
		c.cfg.Toaster.Toast(
			message,
			gjson.GetBytes(payload, "description").String(),
			gjson.GetBytes(payload, "actionUrl").String(),
		)
	}
	if c.cfg.OnUnread != nil {
		c.cfg.OnUnread()
	}
}

func (c *Client) republish(event string, payload []byte) {
	c.listenerMu.RLock()
	listeners := c.listeners
	c.listenerMu.RUnlock()

	for _, l := range listeners {
		l(event, payload)
	}
}

func (c *Client) stopped() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

var errStopped = errors.New("client stopped")
