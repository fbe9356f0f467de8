package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasFileUnknownConnection(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.HasFile("ghost", "f1"))
	assert.Nil(t, r.Received("ghost"))
}

func TestMarkReceivedIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Register("c1")
	r.Register("c1")
	r.MarkReceived("c1", "f1")
	r.MarkReceived("c1", "f1")

	assert.True(t, r.HasFile("c1", "f1"))
	assert.False(t, r.HasFile("c1", "f2"))
	assert.Equal(t, []string{"f1"}, r.Received("c1"))
	assert.Equal(t, 1, r.Len())
}

func TestMarkReceivedIgnoresReleasedConnection(t *testing.T) {
	r := NewRegistry()
	r.Register("c1")
	r.Release("c1")

	r.MarkReceived("c1", "f1")
	r.MarkReceived("never-registered", "f1")
	assert.False(t, r.HasFile("c1", "f1"))
	assert.Zero(t, r.Len())
}

func TestJoinRoomReturnsExistingPeers(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.JoinRoom("a", "room"))
	assert.Equal(t, []string{"a"}, r.JoinRoom("b", "room"))
	assert.Equal(t, []string{"a", "b"}, r.JoinRoom("c", "room"))
	assert.Equal(t, []string{"a", "b"}, r.JoinRoom("c", "room"))
	assert.Equal(t, []string{"a", "b", "c"}, r.Members("room"))
}

func TestReleaseDropsStateAndNotifies(t *testing.T) {
	r := NewRegistry()
	var released []string
	r.OnRelease(func(id string) { released = append(released, id) })

	r.JoinRoom("a", "room")
	r.JoinRoom("b", "room")
	r.MarkReceived("a", "f1")

	r.Release("a")
	assert.False(t, r.HasFile("a", "f1"))
	assert.Equal(t, []string{"b"}, r.Members("room"))

	r.Release("b")
	assert.Empty(t, r.Members("room"))
	assert.Equal(t, 0, r.Len())

	r.Release("never-registered")
	assert.Equal(t, []string{"a", "b", "never-registered"}, released)
}

func TestReconnectStartsEmpty(t *testing.T) {
	r := NewRegistry()
	r.Register("c1")
	r.MarkReceived("c1", "f1")
	r.Release("c1")
	r.Register("c1")
	assert.False(t, r.HasFile("c1", "f1"))
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%26))
			r.Register(id)
			r.JoinRoom(id, "room")
			r.MarkReceived(id, "f")
			_ = r.HasFile(id, "f")
			_ = r.Members("room")
		}(i)
	}
	wg.Wait()
	require.Equal(t, 26, r.Len())
	assert.Len(t, r.Members("room"), 26)
}
