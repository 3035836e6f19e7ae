package gateway

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// EventChannel — per-event-type registry of subscribers.
//
// Uses RWMutex: writes (subscribe/unsubscribe/filter) are infrequent;
// reads (broadcast fan-out) are the hot path. Broadcast resolves each
// matched subscriber against the live connection registry at dispatch
// time, so a stale entry costs nothing more than a skipped send.
// ---------------------------------------------------------------------------

// connResolver resolves a connection id to a live connection at dispatch
// time. Implemented by the gateway's connection registry.
type connResolver interface {
	live(id string) (*Conn, bool)
}

// EventChannel owns the subscribers of one named event type and the
// outbound event name used when delivering matched payloads.
type EventChannel struct {
	name     string
	outbound string

	mu          sync.RWMutex
	subscribers map[string]Params // connection id → registered params

	logger *zap.Logger
}

// NewEventChannel builds a channel delivering matched payloads on the
// outbound event name. An empty outbound name defaults to the channel name.
func NewEventChannel(name, outbound string, logger *zap.Logger) *EventChannel {
	if outbound == "" {
		outbound = name
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventChannel{
		name:        name,
		outbound:    outbound,
		subscribers: make(map[string]Params),
		logger:      logger,
	}
}

// Name returns the channel's event-type name.
func (ch *EventChannel) Name() string { return ch.name }

// Subscribe registers interest for a connection. A second subscribe on the
// same connection replaces the stored params; there is never more than one
// subscriber slot per connection.
func (ch *EventChannel) Subscribe(connID string, params Params) {
	ch.mu.Lock()
	ch.subscribers[connID] = params
	ch.mu.Unlock()
}

// Unsubscribe removes a connection's subscriber slot. With empty params the
// removal is unconditional. With non-empty params the slot is removed only
// when the stored params match the given ones inclusively; a non-matching
// call is a silent no-op.
func (ch *EventChannel) Unsubscribe(connID string, params Params) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	stored, exists := ch.subscribers[connID]
	if !exists {
		return
	}
	if len(params) == 0 || Match(stored, params, false) {
		delete(ch.subscribers, connID)
	}
}

// Post broadcasts a payload to every live connection whose subscriber
// params match the post params exclusively. The broadcast runs on its own
// goroutine and is not awaited; delivery to a dead connection is skipped,
// not retried — the periodic sweep is the correction path.
func (ch *EventChannel) Post(params Params, payload json.RawMessage, conns connResolver) {
	go ch.broadcast(params, payload, conns)
}

func (ch *EventChannel) broadcast(params Params, payload json.RawMessage, conns connResolver) {
	ch.mu.RLock()
	matched := make([]string, 0, len(ch.subscribers))
	for connID, stored := range ch.subscribers {
		if Match(stored, params, true) {
			matched = append(matched, connID)
		}
	}
	ch.mu.RUnlock()

	if len(matched) == 0 {
		return
	}

	frame := encodeOutbound(ch.outbound, params, payload)
	delivered := 0
	for _, connID := range matched {
		conn, ok := conns.live(connID)
		if !ok {
			continue
		}
		conn.Send(frame)
		delivered++
	}
	ch.logger.Debug("broadcast",
		zap.String("channel", ch.name),
		zap.Int("matched", len(matched)),
		zap.Int("delivered", delivered))
}

// FilterSubscribers drops every subscriber whose connection id is not in
// the live set. Called by the gateway's periodic sweep.
func (ch *EventChannel) FilterSubscribers(liveIDs map[string]struct{}) {
	ch.mu.Lock()
	for connID := range ch.subscribers {
		if _, alive := liveIDs[connID]; !alive {
			delete(ch.subscribers, connID)
		}
	}
	ch.mu.Unlock()
}

// HasSubscriber reports whether a connection currently holds a slot.
func (ch *EventChannel) HasSubscriber(connID string) bool {
	ch.mu.RLock()
	_, exists := ch.subscribers[connID]
	ch.mu.RUnlock()
	return exists
}

// SubscriberIDs returns the connection ids currently subscribed.
func (ch *EventChannel) SubscriberIDs() []string {
	ch.mu.RLock()
	ids := make([]string, 0, len(ch.subscribers))
	for connID := range ch.subscribers {
		ids = append(ids, connID)
	}
	ch.mu.RUnlock()
	return ids
}
