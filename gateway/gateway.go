package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DefaultSweepInterval is how often subscriber lists are reconciled
// against the live connection set.
const DefaultSweepInterval = 30 * time.Minute

// ChannelConfig declares one event channel at gateway construction.
// Outbound is the event name used when delivering matched payloads;
// empty means same as Name.
type ChannelConfig struct {
	Name     string
	Outbound string
}

// Config wires a Gateway.
type Config struct {
	// Channels registered at startup. The channel set is fixed for the
	// life of the gateway.
	Channels []ChannelConfig

	// Guard authorizes inbound connections. Typically a CompositeGuard
	// of JWT and API-key guards.
	Guard Guard

	// ProducerGuard authorizes the post action. Typically the API-key
	// guard (or a composite including it). Evaluated once against the
	// upgrade request; the result is remembered on the connection.
	ProducerGuard Guard

	// SweepInterval overrides DefaultSweepInterval; negative values fall
	// back to the default. Zero disables the periodic sweep (explicit
	// disconnect cleanup still runs).
	SweepInterval time.Duration

	Logger   *zap.Logger
	Reporter Reporter
}

type handlerFunc func(conn *Conn, frame *inboundFrame) error

// ---------------------------------------------------------------------------
// Gateway — accepts and authenticates connections, owns the channel
// registry, and reconciles subscriber state against live connections.
// ---------------------------------------------------------------------------

type Gateway struct {
	channels map[string]*EventChannel
	conns    *connRegistry
	handlers map[string]handlerFunc

	guard         Guard
	producerGuard Guard

	upgrader websocket.Upgrader
	logger   *zap.Logger
	reporter Reporter

	sweepInterval time.Duration
	sweepDone     chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup

	connectionsAccepted atomic.Uint64
	connectionsCurrent  atomic.Int64
}

// New builds a Gateway from the given configuration. The dispatch table
// and channel registry are constructed here and never mutated afterwards.
func New(cfg Config) (*Gateway, error) {
	if len(cfg.Channels) == 0 {
		return nil, fmt.Errorf("gateway: at least one channel is required")
	}
	if cfg.Guard == nil {
		return nil, fmt.Errorf("gateway: a connect guard is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sweepInterval := cfg.SweepInterval
	if sweepInterval < 0 {
		sweepInterval = DefaultSweepInterval
	}

	g := &Gateway{
		channels:      make(map[string]*EventChannel, len(cfg.Channels)),
		conns:         newConnRegistry(),
		guard:         cfg.Guard,
		producerGuard: cfg.ProducerGuard,
		logger:        logger,
		reporter:      cfg.Reporter,
		sweepInterval: sweepInterval,
		sweepDone:     make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The production deployment fronts this with its own origin
			// policy; the gateway itself is CORS-open.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	for _, chCfg := range cfg.Channels {
		if chCfg.Name == "" {
			return nil, fmt.Errorf("gateway: channel with empty name")
		}
		if _, dup := g.channels[chCfg.Name]; dup {
			return nil, fmt.Errorf("gateway: duplicate channel %q", chCfg.Name)
		}
		g.channels[chCfg.Name] = NewEventChannel(chCfg.Name, chCfg.Outbound, logger)
	}

	g.handlers = map[string]handlerFunc{
		actionSubscribe:   g.handleSubscribe,
		actionUnsubscribe: g.handleUnsubscribe,
		actionPost:        g.handlePost,
		actionHealthcheck: g.handleHealthcheck,
	}

	if sweepInterval > 0 {
		g.wg.Add(1)
		go g.sweepLoop()
	}

	return g, nil
}

// Channel returns a registered channel by event-type name.
func (g *Gateway) Channel(name string) (*EventChannel, bool) {
	ch, ok := g.channels[name]
	return ch, ok
}

// ConnectionCount returns the number of currently tracked connections.
func (g *Gateway) ConnectionCount() int { return g.conns.count() }

// Post broadcasts from an in-process producer (e.g. the job pipeline
// delivering a chatbot result). The broadcast is fire-and-forget.
func (g *Gateway) Post(eventType string, params Params, payload json.RawMessage) error {
	ch, ok := g.channels[eventType]
	if !ok {
		return NewError(CodeNotFound, fmt.Sprintf("unknown event type %q", eventType))
	}
	normalized, err := params.Normalize()
	if err != nil {
		return err
	}
	ch.Post(normalized, payload, g.conns)
	return nil
}

// Close stops the sweep, force closes every connection, and waits for
// background work to finish.
func (g *Gateway) Close() {
	g.closeOnce.Do(func() {
		close(g.sweepDone)
		g.conns.closeAll()
	})
	g.wg.Wait()
}

// ---------------------------------------------------------------------------
// Connection lifecycle.
// ---------------------------------------------------------------------------

// ServeHTTP upgrades the request, runs the connect guard, and on success
// tracks the connection and serves it until disconnect. Guard failure
// terminates the connection immediately.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, authErr := g.guard.Authorize(r)

	producer := false
	if g.producerGuard != nil {
		if _, err := g.producerGuard.Authorize(r); err == nil {
			producer = true
		}
	}

	sock, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	if authErr != nil {
		// Forced disconnect: emit the envelope, then drop the socket
		// before any channel interaction is possible.
		frame := encodeException(MapError(authErr, g.logger, g.reporter), "connect")
		_ = sock.SetWriteDeadline(time.Now().Add(writeWait))
		_ = sock.WriteMessage(websocket.TextMessage, frame)
		_ = sock.Close()
		g.logger.Info("connection rejected", zap.String("remote", r.RemoteAddr), zap.Error(authErr))
		return
	}

	conn := newConn(uuid.NewString(), principal, producer, sock, g.logger)
	g.conns.add(conn)
	g.connectionsAccepted.Add(1)
	g.connectionsCurrent.Add(1)
	g.logger.Info("connected",
		zap.String("conn", conn.id),
		zap.String("remote", r.RemoteAddr),
		zap.Int64("active", g.connectionsCurrent.Load()))

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		conn.writePump()
	}()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.readPump(conn)
	}()
}

func (g *Gateway) readPump(conn *Conn) {
	defer g.dropConnection(conn)

	conn.sock.SetReadLimit(1 << 20)
	_ = conn.sock.SetReadDeadline(time.Now().Add(pongWait))
	conn.sock.SetPongHandler(func(string) error {
		return conn.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.sock.ReadMessage()
		if err != nil {
			return
		}
		g.dispatch(conn, raw)
	}
}

// dropConnection runs the explicit disconnect cleanup path: the
// connection leaves the registry and every channel drops its slot, so a
// subscriber never outlives its connection on the common path.
func (g *Gateway) dropConnection(conn *Conn) {
	conn.close()
	g.conns.remove(conn.id)
	for _, ch := range g.channels {
		ch.Unsubscribe(conn.id, nil)
	}
	g.connectionsCurrent.Add(-1)
	g.logger.Info("disconnected",
		zap.String("conn", conn.id),
		zap.Int64("active", g.connectionsCurrent.Load()))
}

// ---------------------------------------------------------------------------
// Message dispatch.
// ---------------------------------------------------------------------------

// dispatch handles one inbound frame. A message-level failure rejects
// only that message; the connection stays up.
func (g *Gateway) dispatch(conn *Conn, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		g.sendException(conn, NewError(CodeBadRequest, "malformed frame"), "")
		return
	}

	handler, known := g.handlers[frame.Action]
	if !known {
		g.sendException(conn, NewError(CodeBadRequest, fmt.Sprintf("unknown action %q", frame.Action)), frame.Action)
		return
	}

	if !conn.principal.AllowsPattern(frame.Action) {
		g.sendException(conn, NewError(CodeForbidden, fmt.Sprintf("pattern %q is disallowed for this token", frame.Action)), frame.Action)
		return
	}

	if err := handler(conn, &frame); err != nil {
		g.sendException(conn, err, frame.Action)
	}
}

func (g *Gateway) sendException(conn *Conn, err error, pattern string) {
	conn.Send(encodeException(MapError(err, g.logger, g.reporter), pattern))
}

func (g *Gateway) channelFor(frame *inboundFrame) (*EventChannel, error) {
	ch, ok := g.channels[frame.Event]
	if !ok {
		return nil, NewError(CodeNotFound, fmt.Sprintf("unknown event type %q", frame.Event))
	}
	return ch, nil
}

func (g *Gateway) handleSubscribe(conn *Conn, frame *inboundFrame) error {
	ch, err := g.channelFor(frame)
	if err != nil {
		return err
	}
	params, err := DecodeParams(frame.Params)
	if err != nil {
		return err
	}
	ch.Subscribe(conn.id, params)
	conn.Send(encodeOutbound(ch.name, params, json.RawMessage(`"subscribed"`)))
	return nil
}

func (g *Gateway) handleUnsubscribe(conn *Conn, frame *inboundFrame) error {
	ch, err := g.channelFor(frame)
	if err != nil {
		return err
	}
	params, err := DecodeParams(frame.Params)
	if err != nil {
		return err
	}
	ch.Unsubscribe(conn.id, params)
	return nil
}

func (g *Gateway) handlePost(conn *Conn, frame *inboundFrame) error {
	if !conn.producer {
		return NewError(CodeUnauthorized, "post requires producer authorization")
	}
	ch, err := g.channelFor(frame)
	if err != nil {
		return err
	}
	params, err := DecodeParams(frame.Params)
	if err != nil {
		return err
	}
	ch.Post(params, frame.Payload, g.conns)
	return nil
}

func (g *Gateway) handleHealthcheck(conn *Conn, _ *inboundFrame) error {
	conn.Send(encodeOutbound(actionHealthcheck, nil, json.RawMessage("true")))
	return nil
}

// ---------------------------------------------------------------------------
// Periodic sweep.
//
// Corrects any subscriber leak from abnormal disconnects that bypassed
// the explicit cleanup path (process crash mid-handshake, transport
// timeout). Eventual consistency is fine here: the broadcast path
// already resolves against live connections before sending.
// ---------------------------------------------------------------------------

func (g *Gateway) sweepLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.sweepDone:
			return
		case <-ticker.C:
			g.Sweep()
		}
	}
}

// Sweep reconciles every channel's subscriber list against the live
// connection set. Exported so operators and tests can force a pass.
func (g *Gateway) Sweep() {
	liveIDs := g.conns.liveIDs()
	for _, ch := range g.channels {
		ch.FilterSubscribers(liveIDs)
	}
	g.logger.Debug("sweep complete", zap.Int("live", len(liveIDs)))
}
