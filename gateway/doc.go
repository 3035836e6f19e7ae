// Package gateway implements the real-time event gateway: a websocket
// endpoint where clients subscribe to narrowly-scoped asynchronous events
// and producers post completed results to exactly the matching subscribers.
//
// The primary lifecycle is:
//   - construct a Gateway with New, declaring its event channels and guards
//   - mount it on an HTTP mux; clients connect over websocket
//   - the composite guard authorizes each connection at upgrade time
//   - clients subscribe/unsubscribe with parameter sets; producers post
//     payloads that broadcast to every subscriber whose parameters match
//   - Close drains connections and stops the reconciliation sweep
//
// Subscriber parameter matching supports inclusive mode (keys absent from
// the query are don't-care) and exclusive mode (every stored key must be
// present), with set-containment semantics for array-valued parameters.
//
// All exported APIs are safe for concurrent use. Broadcasts run on their
// own goroutines and never block subscribe/unsubscribe; delivery to a dead
// connection is skipped and the periodic sweep reconciles subscriber lists
// against the live connection set.
//
// Errors visible to clients are typed GatewayErrors serialized as
// {status, message} on the exception event; anything unrecognized is
// masked client-side and logged with full detail server-side.
package gateway
