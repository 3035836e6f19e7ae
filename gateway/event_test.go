package gateway

import (
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeResolver records which connections a broadcast tried to deliver to.
// Only ids in live are resolvable; deliveries land in sent.
type fakeResolver struct {
	mu    sync.Mutex
	conns map[string]*Conn
	sent  map[string]int
}

func newFakeResolver(liveIDs ...string) *fakeResolver {
	r := &fakeResolver{conns: make(map[string]*Conn), sent: make(map[string]int)}
	for _, id := range liveIDs {
		conn := &Conn{id: id, send: make(chan []byte, 16), done: make(chan struct{}), logger: nopLogger()}
		r.conns[id] = conn
	}
	return r
}

func (r *fakeResolver) live(id string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if ok {
		r.sent[id]++
	}
	return conn, ok
}

func (r *fakeResolver) deliveries(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[id]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSubscribeReplacesInPlace(t *testing.T) {
	ch := NewEventChannel("jobResults", "", nil)

	ch.Subscribe("conn-1", Params{"jobId": "42"})
	ch.Subscribe("conn-1", Params{"jobId": "99"})

	require.Equal(t, []string{"conn-1"}, ch.SubscriberIDs())

	// The surviving slot holds the second parameter set.
	resolver := newFakeResolver("conn-1")
	ch.broadcast(Params{"jobId": "99"}, nil, resolver)
	require.Equal(t, 1, resolver.deliveries("conn-1"))

	ch.broadcast(Params{"jobId": "42"}, nil, resolver)
	require.Equal(t, 1, resolver.deliveries("conn-1"), "old params must not match after replacement")
}

func TestUnsubscribeUnconditionalWithoutParams(t *testing.T) {
	ch := NewEventChannel("jobResults", "", nil)
	ch.Subscribe("conn-1", Params{"jobId": "42"})

	ch.Unsubscribe("conn-1", nil)
	require.False(t, ch.HasSubscriber("conn-1"))
}

func TestUnsubscribeMatchingParams(t *testing.T) {
	ch := NewEventChannel("jobResults", "", nil)
	ch.Subscribe("conn-1", Params{"jobId": "42", "kind": "chatbot"})

	// Inclusive matching: params covering a subset of stored keys with
	// agreeing values remove the slot.
	ch.Unsubscribe("conn-1", Params{"jobId": "42"})
	require.False(t, ch.HasSubscriber("conn-1"))
}

func TestUnsubscribeNonMatchingParamsIsNoOp(t *testing.T) {
	ch := NewEventChannel("jobResults", "", nil)
	ch.Subscribe("conn-1", Params{"jobId": "42"})

	// Non-empty, non-matching params silently do nothing.
	ch.Unsubscribe("conn-1", Params{"jobId": "99"})
	require.True(t, ch.HasSubscriber("conn-1"))
}

func TestUnsubscribeUnknownConnection(t *testing.T) {
	ch := NewEventChannel("jobResults", "", nil)
	ch.Unsubscribe("ghost", nil)
	ch.Unsubscribe("ghost", Params{"jobId": "1"})
	require.Empty(t, ch.SubscriberIDs())
}

func TestPostDeliversToMatchingLiveConnections(t *testing.T) {
	ch := NewEventChannel("jobResults", "jobResultsReady", nil)
	ch.Subscribe("conn-1", Params{"jobId": "42"})
	ch.Subscribe("conn-2", Params{"jobId": "99"})

	resolver := newFakeResolver("conn-1", "conn-2")
	ch.Post(Params{"jobId": "42", "status": "ok"}, json.RawMessage(`{"text":"done"}`), resolver)

	waitFor(t, func() bool { return resolver.deliveries("conn-1") == 1 })
	require.Zero(t, resolver.deliveries("conn-2"))

	// The delivered frame carries the outbound name, the post params and
	// the payload.
	conn := resolver.conns["conn-1"]
	var frame outboundFrame
	require.NoError(t, json.Unmarshal(<-conn.send, &frame))
	require.Equal(t, "jobResultsReady", frame.Event)
	require.Equal(t, "42", frame.Params["jobId"])
	require.JSONEq(t, `{"text":"done"}`, string(frame.Data))
}

func TestPostSkipsDeadConnections(t *testing.T) {
	ch := NewEventChannel("jobResults", "", nil)
	ch.Subscribe("conn-dead", Params{"jobId": "42"})
	ch.Subscribe("conn-live", Params{"jobId": "42"})

	resolver := newFakeResolver("conn-live")
	ch.broadcast(Params{"jobId": "42"}, nil, resolver)

	require.Equal(t, 1, resolver.deliveries("conn-live"))
	require.Zero(t, resolver.deliveries("conn-dead"))
	// The stale slot stays until the sweep removes it.
	require.True(t, ch.HasSubscriber("conn-dead"))
}

func TestPostUsesExclusiveMatching(t *testing.T) {
	ch := NewEventChannel("jobResults", "", nil)
	// Stored key absent from post params: exclusive matching rejects.
	ch.Subscribe("conn-1", Params{"jobId": "42", "kind": "chatbot"})

	resolver := newFakeResolver("conn-1")
	ch.broadcast(Params{"jobId": "42"}, nil, resolver)
	require.Zero(t, resolver.deliveries("conn-1"))

	ch.broadcast(Params{"jobId": "42", "kind": "chatbot"}, nil, resolver)
	require.Equal(t, 1, resolver.deliveries("conn-1"))
}

func TestFilterSubscribers(t *testing.T) {
	ch := NewEventChannel("jobResults", "", nil)
	ch.Subscribe("A", Params{"jobId": "1"})
	ch.Subscribe("B", Params{"jobId": "2"})
	ch.Subscribe("C", Params{"jobId": "3"})

	ch.FilterSubscribers(map[string]struct{}{"A": {}, "C": {}})

	ids := ch.SubscriberIDs()
	sort.Strings(ids)
	require.Equal(t, []string{"A", "C"}, ids)
}
