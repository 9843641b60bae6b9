package ws

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/sync-editor/backend/internal/model"
	"github.com/sync-editor/backend/internal/protocol"
)

// ConnState is the lifecycle state of a client connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

// DefaultSendBufferSize is the number of frames queued per client before it is
// considered too slow and dropped.
const DefaultSendBufferSize = 256

// Client is one user's WebSocket connection to a session.
type Client struct {
	conn      *websocket.Conn
	sessionID string
	userID    string
	send      chan []byte
	state     atomic.Int32

	mu     sync.Mutex
	closed bool
}

// NewClient creates a new client. conn may be nil in tests, in which case
// frames are only queued.
func NewClient(conn *websocket.Conn, sessionID, userID string, bufferSize int) *Client {
	if bufferSize <= 0 {
		bufferSize = DefaultSendBufferSize
	}
	return &Client{
		conn:      conn,
		sessionID: sessionID,
		userID:    userID,
		send:      make(chan []byte, bufferSize),
	}
}

// Send queues a frame without blocking. A client whose queue is full is
// closed, since it can no longer be kept consistent.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("%w: client %s closed", model.ErrTransport, c.userID)
	}

	select {
	case c.send <- data:
		return nil
	default:
		c.closeLocked()
		return fmt.Errorf("%w: send buffer full for %s", model.ErrTransport, c.userID)
	}
}

// SendMessage encodes and queues msg.
func (c *Client) SendMessage(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// Close stops the client. The write pump drains what is queued, sends a
// close frame and closes the connection, which unblocks the reader.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SessionID returns the session ID associated with this client.
func (c *Client) SessionID() string {
	return c.sessionID
}

// UserID returns the user ID associated with this client.
func (c *Client) UserID() string {
	return c.userID
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// State returns the connection's lifecycle state.
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Client) setState(s ConnState) {
	c.state.Store(int32(s))
}
