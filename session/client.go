package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrClientClosed is returned by Send once the client has been closed
	ErrClientClosed = errors.New("client closed")
	// ErrQueueFull is returned by Send when the outbound queue is saturated
	ErrQueueFull = errors.New("client write queue full")
)

const (
	writeTimeout   = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// Peer is a registered endpoint the Manager can deliver text to
type Peer interface {
	ID() string
	Send(text string) error
	Close() error
}

// Client is one text WebSocket connection (browser or bridge).
// All writes go through writePump; Send never blocks.
type Client struct {
	id           string
	conn         *websocket.Conn
	keepAlive    time.Duration
	CreatedAt    time.Time
	lastActivity time.Time

	writeChan chan []byte

	mu        sync.RWMutex
	closed    bool
	CloseChan chan struct{}
}

// NewClient wraps conn and starts its write pump. A positive keepAlive
// enables pings; a peer that stops answering is dropped after two periods.
func NewClient(conn *websocket.Conn, queueSize int, keepAlive time.Duration) *Client {
	if queueSize <= 0 {
		queueSize = 1
	}

	conn.SetReadLimit(maxMessageSize)
	if keepAlive > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(2 * keepAlive))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * keepAlive))
		})
	}

	c := &Client{
		id:           uuid.New().String(),
		conn:         conn,
		keepAlive:    keepAlive,
		CreatedAt:    time.Now(),
		lastActivity: time.Now(),
		writeChan:    make(chan []byte, queueSize),
		CloseChan:    make(chan struct{}),
	}

	go c.writePump()
	return c
}

// ID returns the client's unique identifier
func (c *Client) ID() string {
	return c.id
}

// ShortID is the id prefix used in log lines
func (c *Client) ShortID() string {
	return c.id[:8]
}

// Send queues a text frame
func (c *Client) Send(text string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.writeChan <- []byte(text):
		return nil
	default:
		return ErrQueueFull
	}
}

// ReadMessage blocks until the next frame arrives
func (c *Client) ReadMessage() (int, []byte, error) {
	messageType, message, err := c.conn.ReadMessage()
	if err != nil {
		return messageType, message, err
	}

	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()

	if c.keepAlive > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.keepAlive))
	}
	return messageType, message, nil
}

// LastActivity returns the time of the last inbound frame
func (c *Client) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// Close stops the write pump, which then closes the socket. Safe to call
// more than once and from any goroutine.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.CloseChan)
	return nil
}

// IsClosed returns whether the client is closed
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// writePump handles all outgoing frames in a single goroutine
func (c *Client) writePump() {
	var ping <-chan time.Time
	if c.keepAlive > 0 {
		ticker := time.NewTicker(c.keepAlive)
		defer ticker.Stop()
		ping = ticker.C
	}

	defer func() {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout),
		)
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.CloseChan:
			return

		case msg := <-c.writeChan:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = c.Close()
				return
			}

		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}
