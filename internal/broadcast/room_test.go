package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeMember struct {
	id  string
	got []Message
}

func (f *fakeMember) ID() string { return f.id }
func (f *fakeMember) Send(msg Message) { f.got = append(f.got, msg) }

func TestRoomsBroadcastExcludesOrigin(t *testing.T) {
	r := NewRooms()
	alice := &fakeMember{id: "alice"}
	bob := &fakeMember{id: "bob"}
	r.Join("doc-1", alice)
	r.Join("doc-1", bob)

	r.Broadcast("doc-1", "alice", Message{DocumentID: "doc-1", Version: 2})

	assert.Empty(t, alice.got)
	assert.Len(t, bob.got, 1)
}

func TestRoomsLeaveReportsEmpty(t *testing.T) {
	r := NewRooms()
	alice := &fakeMember{id: "alice"}
	r.Join("doc-1", alice)

	assert.False(t, r.Leave("doc-1", "nobody"))
	assert.True(t, r.Leave("doc-1", "alice"))
	assert.Equal(t, 0, r.Count("doc-1"))
}
