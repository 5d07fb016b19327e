package collab

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(hub *NoteHub, userID string) *Client {
	return NewClient(hub, nil, userID, "user-"+userID)
}

// receiveAll drains every queued message on a client without blocking.
func receiveAll(t *testing.T, c *Client) []WSMessage {
	t.Helper()
	var msgs []WSMessage
	for {
		select {
		case data, ok := <-c.Send:
			if !ok {
				return msgs
			}
			var msg WSMessage
			require.NoError(t, json.Unmarshal(data, &msg))
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	hub := NewNoteHub(nil)
	a := newTestClient(hub, "a")

	hub.Join(a, "n1")
	hub.Join(a, "n1")
	hub.Join(a, "n1")

	assert.Equal(t, 1, hub.RoomCount("n1"))
	assert.True(t, hub.IsMember(a, "n1"))
}

func TestHub_LeaveIsIdempotent(t *testing.T) {
	hub := NewNoteHub(nil)
	a := newTestClient(hub, "a")

	// Leaving a room never joined is a no-op, not an error.
	hub.Leave(a, "n1")

	hub.Join(a, "n1")
	hub.Leave(a, "n1")
	hub.Leave(a, "n1")

	assert.Equal(t, 0, hub.RoomCount("n1"))
	assert.False(t, hub.IsMember(a, "n1"))
}

func TestHub_PublishExcludesSender(t *testing.T) {
	hub := NewNoteHub(nil)
	a := newTestClient(hub, "a")
	b := newTestClient(hub, "b")

	hub.Join(a, "n1")
	hub.Join(b, "n1")

	hub.Publish(a, "n1", "foo")

	bMsgs := receiveAll(t, b)
	require.Len(t, bMsgs, 1)
	assert.Equal(t, MsgTypeNoteUpdated, bMsgs[0].Type)
	assert.Equal(t, "foo", bMsgs[0].Content)

	assert.Empty(t, receiveAll(t, a), "sender must not receive its own update")
}

func TestHub_PublishAfterLeaveReachesNobody(t *testing.T) {
	hub := NewNoteHub(nil)
	a := newTestClient(hub, "a")
	b := newTestClient(hub, "b")

	hub.Join(a, "n1")
	hub.Join(b, "n1")

	hub.Publish(a, "n1", "foo")
	require.Len(t, receiveAll(t, b), 1)

	hub.Leave(a, "n1")
	hub.Publish(b, "n1", "bar")

	assert.Empty(t, receiveAll(t, a))
	assert.Empty(t, receiveAll(t, b))
}

func TestHub_ClearedNoteStillCarriesContentField(t *testing.T) {
	hub := NewNoteHub(nil)
	a := newTestClient(hub, "a")
	b := newTestClient(hub, "b")

	hub.Join(a, "n1")
	hub.Join(b, "n1")

	// An empty snapshot means the note was cleared; the frame must keep
	// the content field so recipients can tell it from a malformed frame.
	hub.Publish(a, "n1", "")

	select {
	case data := <-b.Send:
		assert.Contains(t, string(data), `"content":""`)
	default:
		t.Fatal("expected a note-updated frame for the cleared note")
	}
}

func TestHub_NoReplayForLateJoiners(t *testing.T) {
	hub := NewNoteHub(nil)
	a := newTestClient(hub, "a")
	hub.Join(a, "n1")

	hub.Publish(a, "n1", "early edit")

	late := newTestClient(hub, "late")
	hub.Join(late, "n1")

	assert.Empty(t, receiveAll(t, late), "events must not be buffered for later joiners")
}

func TestHub_PublishToUnknownRoomIsNoop(t *testing.T) {
	hub := NewNoteHub(nil)
	a := newTestClient(hub, "a")

	hub.Publish(a, "missing", "content")
}

func TestHub_MembersOf(t *testing.T) {
	hub := NewNoteHub(nil)
	a := newTestClient(hub, "a")
	b := newTestClient(hub, "b")

	hub.Join(a, "n1")
	hub.Join(b, "n1")
	hub.Join(b, "n2")

	assert.ElementsMatch(t, []*Client{a, b}, hub.MembersOf("n1"))
	assert.ElementsMatch(t, []*Client{b}, hub.MembersOf("n2"))
	assert.Empty(t, hub.MembersOf("n3"))
}

func TestHub_DisconnectRemovesAllMemberships(t *testing.T) {
	hub := NewNoteHub(nil)
	a := newTestClient(hub, "a")
	b := newTestClient(hub, "b")

	hub.Join(a, "n1")
	hub.Join(a, "n2")
	hub.Join(b, "n1")

	hub.Disconnect(a)

	assert.Equal(t, 1, hub.RoomCount("n1"))
	assert.Equal(t, 0, hub.RoomCount("n2"))
	assert.Nil(t, hub.FindClient(a.ID))

	// Publishing to the remaining member still works; the disconnected
	// client is simply gone.
	hub.Publish(nil, "n1", "still alive")
	msgs := receiveAll(t, b)
	require.Len(t, msgs, 1)
	assert.Equal(t, "still alive", msgs[0].Content)
}

func TestHub_SendToDisconnectedClientDoesNotPanic(t *testing.T) {
	hub := NewNoteHub(nil)
	a := newTestClient(hub, "a")
	b := newTestClient(hub, "b")

	hub.Join(a, "n1")
	hub.Join(b, "n1")
	hub.Disconnect(b)

	// b's send channel is closed; delivery must be silently dropped.
	hub.Publish(a, "n1", "foo")
}

func TestHub_FindClient(t *testing.T) {
	hub := NewNoteHub(nil)
	a := newTestClient(hub, "a")

	assert.Nil(t, hub.FindClient(a.ID))

	hub.Join(a, "n1")
	assert.Same(t, a, hub.FindClient(a.ID))
}

func TestHub_SlowConsumerIsSkipped(t *testing.T) {
	hub := NewNoteHub(nil)
	a := newTestClient(hub, "a")
	b := newTestClient(hub, "b")

	hub.Join(a, "n1")
	hub.Join(b, "n1")

	// Fill b's buffer; further deliveries are dropped, never blocked on.
	for i := 0; i < sendBufferSize; i++ {
		require.True(t, b.send([]byte("x")))
	}
	hub.Publish(a, "n1", "overflow")

	assert.Len(t, b.Send, sendBufferSize)
	assert.True(t, hub.IsMember(b, "n1"), "dropping a message must not evict the member")
}
