package collab

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"echonote/logger"
)

// MessageType identifies a sync wire message.
type MessageType string

const (
	MsgTypeJoinNote    MessageType = "join-note"    // client -> server, register membership
	MsgTypeLeaveNote   MessageType = "leave-note"   // client -> server, remove membership
	MsgTypeNoteUpdate  MessageType = "note-update"  // client -> server, content snapshot
	MsgTypeNoteUpdated MessageType = "note-updated" // server -> client, fan-out to room
	MsgTypeError       MessageType = "error"        // server -> client
	MsgTypeConnected   MessageType = "connected"    // server -> client, carries the connection id
	MsgTypePing        MessageType = "ping"         // heartbeat
	MsgTypePong        MessageType = "pong"         // heartbeat response
)

// WSMessage is the sync wire message. Edit events carry full content
// snapshots; outbound note-updated messages carry content only. Content is
// never omitted: an empty snapshot means the note was cleared.
type WSMessage struct {
	Type      MessageType `json:"type"`
	NoteID    string      `json:"noteId,omitempty"`
	Content   string      `json:"content"`
	Error     string      `json:"error,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

// Presence receives membership change notifications. Implementations must
// not block; failures are logged and ignored.
type Presence interface {
	Touch(ctx context.Context, noteID, connID string) error
	Remove(ctx context.Context, noteID, connID string) error
}

// NoteHub tracks which connections are subscribed to which note and fans
// edit events out to room members. Membership is in-memory and process-local.
type NoteHub struct {
	mu sync.RWMutex

	// note id -> member set
	rooms map[string]map[*Client]bool

	// reverse index for disconnect cleanup
	memberships map[*Client]map[string]bool

	// connection id -> client, for sender exclusion on HTTP-initiated publishes
	byID map[string]*Client

	presence Presence
}

// NewNoteHub creates a hub. presence may be nil.
func NewNoteHub(presence Presence) *NoteHub {
	return &NoteHub{
		rooms:       make(map[string]map[*Client]bool),
		memberships: make(map[*Client]map[string]bool),
		byID:        make(map[string]*Client),
		presence:    presence,
	}
}

// Join registers a connection in a note's room. Joining twice is a no-op.
func (h *NoteHub) Join(client *Client, noteID string) {
	if noteID == "" {
		return
	}

	h.mu.Lock()
	if h.rooms[noteID] == nil {
		h.rooms[noteID] = make(map[*Client]bool)
	}
	already := h.rooms[noteID][client]
	h.rooms[noteID][client] = true
	if h.memberships[client] == nil {
		h.memberships[client] = make(map[string]bool)
	}
	h.memberships[client][noteID] = true
	h.byID[client.ID] = client
	h.mu.Unlock()

	// Re-joining is a no-op for membership but still refreshes the
	// presence heartbeat.
	h.touchPresence(noteID, client)

	if !already {
		logger.Debug("client joined note room",
			logger.String("note", noteID),
			logger.String("conn", client.ID))
	}
}

// Leave removes a connection from a note's room. Leaving a room the
// connection is not in is a no-op.
func (h *NoteHub) Leave(client *Client, noteID string) {
	h.mu.Lock()
	h.removeMembership(client, noteID)
	h.mu.Unlock()

	h.removePresence(noteID, client)
}

// Disconnect removes every membership for a connection and closes its send
// channel. Called exactly once when the underlying connection terminates;
// this is the only implicit cleanup.
func (h *NoteHub) Disconnect(client *Client) {
	h.mu.Lock()
	notes := make([]string, 0, len(h.memberships[client]))
	for noteID := range h.memberships[client] {
		notes = append(notes, noteID)
	}
	for _, noteID := range notes {
		h.removeMembership(client, noteID)
	}
	delete(h.memberships, client)
	delete(h.byID, client.ID)
	client.closeSend()
	h.mu.Unlock()

	for _, noteID := range notes {
		h.removePresence(noteID, client)
	}

	logger.Debug("client disconnected", logger.String("conn", client.ID))
}

// removeMembership drops one (client, note) pair. Caller holds the lock.
func (h *NoteHub) removeMembership(client *Client, noteID string) {
	if room, ok := h.rooms[noteID]; ok {
		if room[client] {
			delete(room, client)
			if len(room) == 0 {
				delete(h.rooms, noteID)
			}
		}
	}
	if m, ok := h.memberships[client]; ok {
		delete(m, noteID)
	}
}

// Publish delivers a content snapshot to every current member of the note's
// room except the sender. Best-effort, at-most-once: recipients whose send
// buffer is full are skipped, nothing is queued for later joiners, and the
// sender never sees an error.
func (h *NoteHub) Publish(sender *Client, noteID, content string) {
	msg := &WSMessage{
		Type:      MsgTypeNoteUpdated,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Warn("failed to marshal note update", logger.ErrorField(err))
		return
	}

	// Copy the member list so delivery happens outside the lock.
	h.mu.RLock()
	room, ok := h.rooms[noteID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	recipients := make([]*Client, 0, len(room))
	for client := range room {
		if client == sender {
			continue
		}
		recipients = append(recipients, client)
	}
	h.mu.RUnlock()

	for _, client := range recipients {
		client.send(data)
	}
}

// MembersOf returns the current member set for a note.
func (h *NoteHub) MembersOf(noteID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room := h.rooms[noteID]
	members := make([]*Client, 0, len(room))
	for client := range room {
		members = append(members, client)
	}
	return members
}

// RoomCount returns the number of members in a note's room.
func (h *NoteHub) RoomCount(noteID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[noteID])
}

// FindClient resolves a connection id to its client, or nil.
func (h *NoteHub) FindClient(connID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.byID[connID]
}

// IsMember reports whether a connection is in a note's room.
func (h *NoteHub) IsMember(client *Client, noteID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[noteID][client]
}

func (h *NoteHub) touchPresence(noteID string, client *Client) {
	if h.presence == nil {
		return
	}
	if err := h.presence.Touch(context.Background(), noteID, client.ID); err != nil {
		logger.Warn("failed to update editor presence",
			logger.ErrorField(err),
			logger.String("note", noteID),
			logger.String("conn", client.ID))
	}
}

func (h *NoteHub) removePresence(noteID string, client *Client) {
	if h.presence == nil {
		return
	}
	if err := h.presence.Remove(context.Background(), noteID, client.ID); err != nil {
		logger.Warn("failed to remove editor presence",
			logger.ErrorField(err),
			logger.String("note", noteID),
			logger.String("conn", client.ID))
	}
}
