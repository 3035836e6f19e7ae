package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Per-connection outbound channel depth. A full channel means the
	// client is too slow; frames are dropped rather than blocking the
	// broadcaster.
	sendDepth = 256
)

// ---------------------------------------------------------------------------
// Conn — one authenticated client connection.
//
// The reader goroutine lives in the gateway; the writer goroutine here
// drains the send channel so broadcasts never touch the socket directly.
// ---------------------------------------------------------------------------

type Conn struct {
	id        string
	principal *Principal
	producer  bool

	sock *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}

	logger *zap.Logger
}

func newConn(id string, principal *Principal, producer bool, sock *websocket.Conn, logger *zap.Logger) *Conn {
	return &Conn{
		id:        id,
		principal: principal,
		producer:  producer,
		sock:      sock,
		send:      make(chan []byte, sendDepth),
		done:      make(chan struct{}),
		logger:    logger,
	}
}

// ID returns the opaque session identifier.
func (c *Conn) ID() string { return c.id }

// Principal returns the authenticated principal, or nil for API-key auth.
func (c *Conn) Principal() *Principal { return c.principal }

// Send queues a frame for delivery. If the outbound channel is full the
// frame is dropped and logged; a dead connection drops silently.
func (c *Conn) Send(frame []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- frame:
	default:
		c.logger.Warn("dropping frame for slow client", zap.String("conn", c.id))
	}
}

// close tears the connection down. Safe to call from any goroutine,
// multiple times.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.sock.Close()
	})
}

// writePump drains the send channel to the socket and keeps the peer
// alive with periodic pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ---------------------------------------------------------------------------
// connRegistry — id → live connection map shared by the gateway and the
// broadcast path.
// ---------------------------------------------------------------------------

type connRegistry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func newConnRegistry() *connRegistry {
	return &connRegistry{conns: make(map[string]*Conn)}
}

func (r *connRegistry) add(conn *Conn) {
	r.mu.Lock()
	r.conns[conn.id] = conn
	r.mu.Unlock()
}

func (r *connRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

func (r *connRegistry) live(id string) (*Conn, bool) {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	return conn, ok
}

func (r *connRegistry) liveIDs() map[string]struct{} {
	r.mu.RLock()
	ids := make(map[string]struct{}, len(r.conns))
	for id := range r.conns {
		ids[id] = struct{}{}
	}
	r.mu.RUnlock()
	return ids
}

func (r *connRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *connRegistry) closeAll() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.conns = make(map[string]*Conn)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.close()
	}
}
