package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

var connSeq atomic.Uint64

// Conn is one authenticated client connection. Frames are queued on send
// and written by a single writer goroutine.
type Conn struct {
	id      uint64
	userID  string
	email   string
	ws      *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	mu        sync.Mutex
	sessionID string
	closed    bool
}

func newConn(ws *websocket.Conn, userID, email string, opts Options) *Conn {
	var limiter *rate.Limiter
	if opts.FrameRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.FrameRate), opts.FrameBurst)
	}
	return &Conn{
		id:      connSeq.Add(1),
		userID:  userID,
		email:   email,
		ws:      ws,
		send:    make(chan []byte, opts.SendBuffer),
		limiter: limiter,
	}
}

// ID is unique per process.
func (c *Conn) ID() uint64 { return c.id }

// UserID of the authenticated holder.
func (c *Conn) UserID() string { return c.userID }

// Email of the authenticated holder.
func (c *Conn) Email() string { return c.email }

// SessionID returns the joined session, empty before the first join.
func (c *Conn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Conn) setSessionID(sessionID string) {
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()
}

// Open reports whether the connection still accepts frames.
func (c *Conn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// allow applies the per-connection frame budget.
func (c *Conn) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// enqueue hands payload to the writer without blocking. It returns false
// when the connection is closed or its queue is full.
func (c *Conn) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// close marks the connection closed and stops the writer. Safe to call
// more than once.
func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writeLoop drains the send queue onto the socket and keeps the peer alive
// with pings. It returns when the queue is closed or a write fails.
func (c *Conn) writeLoop(writeWait, pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
