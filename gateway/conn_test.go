package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendDropsWhenChannelFull(t *testing.T) {
	conn := &Conn{
		id:     "slow",
		send:   make(chan []byte, 1),
		done:   make(chan struct{}),
		logger: nopLogger(),
	}

	conn.Send([]byte("first"))
	conn.Send([]byte("second")) // dropped, must not block

	require.Equal(t, "first", string(<-conn.send))
	select {
	case frame := <-conn.send:
		t.Fatalf("expected dropped frame, got %q", frame)
	default:
	}
}

func TestSendAfterCloseIsSilent(t *testing.T) {
	conn := &Conn{
		id:     "gone",
		send:   make(chan []byte, 1),
		done:   make(chan struct{}),
		logger: nopLogger(),
	}
	close(conn.done)

	conn.Send([]byte("late")) // must not block or panic
	select {
	case frame := <-conn.send:
		t.Fatalf("expected no frame after close, got %q", frame)
	default:
	}
}

func TestConnRegistry(t *testing.T) {
	registry := newConnRegistry()
	require.Zero(t, registry.count())

	a := &Conn{id: "A", send: make(chan []byte, 1), done: make(chan struct{}), logger: nopLogger()}
	b := &Conn{id: "B", send: make(chan []byte, 1), done: make(chan struct{}), logger: nopLogger()}
	registry.add(a)
	registry.add(b)

	conn, ok := registry.live("A")
	require.True(t, ok)
	require.Same(t, a, conn)

	registry.remove("A")
	_, ok = registry.live("A")
	require.False(t, ok)

	ids := registry.liveIDs()
	require.Equal(t, map[string]struct{}{"B": {}}, ids)
}
