package rpcclient

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPendingRequests_resolveDeliversExactlyOnce(t *testing.T) {
	p := newPendingRequests()
	ch := p.register("a")

	require.True(t, p.resolve("a", &message{ID: "a"}))
	msg := <-ch
	require.Equal(t, "a", msg.ID)

	// A second resolve for the same id is now unknown.
	require.False(t, p.resolve("a", &message{ID: "a"}))
}

func TestPendingRequests_abandonThenResolveIsDropped(t *testing.T) {
	p := newPendingRequests()
	p.register("b")
	p.abandon("b")
	require.False(t, p.resolve("b", &message{ID: "b"}))
}

func TestPendingRequests_rejectAllClosesEveryWaiter(t *testing.T) {
	p := newPendingRequests()
	ch1 := p.register("x")
	ch2 := p.register("y")

	p.rejectAll()

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	require.False(t, ok1)
	require.False(t, ok2)

	// Nothing left to resolve.
	require.False(t, p.resolve("x", &message{ID: "x"}))
}
