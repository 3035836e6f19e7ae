package gateway

import "encoding/json"

// ---------------------------------------------------------------------------
// Wire protocol.
//
// Frames are JSON text messages over the websocket.
//
// Inbound:  {"action": "...", "event": "...", "params": {...}, "payload": ...}
// Outbound: {"event": "...", "params": {...}, "data": ...}
// Errors:   {"event": "exception", "status": N, "message": "...", "pattern": "..."}
// ---------------------------------------------------------------------------

const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
	actionPost        = "post"
	actionHealthcheck = "healthcheck"
)

const exceptionEvent = "exception"

type inboundFrame struct {
	Action  string          `json:"action"`
	Event   string          `json:"event,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outboundFrame struct {
	Event  string          `json:"event"`
	Params Params          `json:"params,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type exceptionFrame struct {
	Event   string `json:"event"`
	Status  int    `json:"status"`
	Message string `json:"message"`
	Pattern string `json:"pattern,omitempty"`
}

func encodeOutbound(event string, params Params, data json.RawMessage) []byte {
	frame, _ := json.Marshal(outboundFrame{Event: event, Params: params, Data: data})
	return frame
}

func encodeException(envelope Envelope, pattern string) []byte {
	frame, _ := json.Marshal(exceptionFrame{
		Event:   exceptionEvent,
		Status:  envelope.Status,
		Message: envelope.Message,
		Pattern: pattern,
	})
	return frame
}
