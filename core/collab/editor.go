package collab

import (
	"sync"

	"echonote/core/transcribe"
	"echonote/model"
)

// EditorSession owns the local copy of one open note and mediates between
// user edits, the room hub, and transcription results. Room membership
// brackets the lifetime of "note is open": join on open of a persisted
// note, leave on close or when switching notes. Notes without an id are
// never broadcast since there is no room to join.
type EditorSession struct {
	mu     sync.Mutex
	note   model.Note
	hub    *NoteHub
	client *Client
}

// NewEditorSession creates a session bound to one connection.
func NewEditorSession(hub *NoteHub, client *Client) *EditorSession {
	return &EditorSession{hub: hub, client: client}
}

// Open loads a note into the session, leaving any previously open room and
// joining the new note's room when it has an id.
func (s *EditorSession) Open(note model.Note) {
	s.mu.Lock()
	prev := s.note.ID
	s.note = note
	s.mu.Unlock()

	if prev != "" && prev != note.ID {
		s.hub.Leave(s.client, prev)
	}
	if note.ID != "" {
		s.hub.Join(s.client, note.ID)
	}
}

// Close leaves the open note's room and discards local state.
func (s *EditorSession) Close() {
	s.mu.Lock()
	id := s.note.ID
	s.note = model.Note{}
	s.mu.Unlock()

	if id != "" {
		s.hub.Leave(s.client, id)
	}
}

// SetContent applies a local edit: state is updated immediately, then the
// snapshot is published to other room members if the note is persisted.
func (s *EditorSession) SetContent(content string) {
	s.mu.Lock()
	s.note.Content = content
	id := s.note.ID
	s.mu.Unlock()

	if id != "" {
		s.hub.Publish(s.client, id, content)
	}
}

// ApplyRemoteUpdate applies an inbound broadcast. Only content is
// overwritten; title, tags and the audio reference are untouched. Last
// delivered write wins.
func (s *EditorSession) ApplyRemoteUpdate(content string) {
	s.mu.Lock()
	s.note.Content = content
	s.mu.Unlock()
}

// ApplyTranscript merges transcribed text into the note body and then
// treats the merge exactly like a local edit.
func (s *EditorSession) ApplyTranscript(text string) {
	s.mu.Lock()
	s.note.Content = transcribe.AppendTranscript(s.note.Content, text)
	content := s.note.Content
	id := s.note.ID
	s.mu.Unlock()

	if id != "" {
		s.hub.Publish(s.client, id, content)
	}
}

// SetAudioURL records the playback reference for the note's latest recording.
func (s *EditorSession) SetAudioURL(url string) {
	s.mu.Lock()
	s.note.AudioURL = url
	s.mu.Unlock()
}

// Note returns a snapshot of the session's note state.
func (s *EditorSession) Note() model.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.note
}
