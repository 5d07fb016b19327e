package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"echonote/config"
	"echonote/core/collab"
	"echonote/core/transcribe"
	"echonote/model"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNoteRepo struct {
	notes          map[string]*model.Note
	updatedContent map[string]string
	audioURLs      map[string]string
	lastQuery      model.NoteQuery
}

func newFakeNoteRepo(notes ...*model.Note) *fakeNoteRepo {
	repo := &fakeNoteRepo{
		notes:          make(map[string]*model.Note),
		updatedContent: make(map[string]string),
		audioURLs:      make(map[string]string),
	}
	for _, note := range notes {
		repo.notes[note.ID] = note
	}
	return repo
}

func (r *fakeNoteRepo) Create(note *model.Note) error {
	if note.ID == "" {
		note.ID = fmt.Sprintf("note-%d", len(r.notes)+1)
	}
	r.notes[note.ID] = note
	return nil
}

func (r *fakeNoteRepo) GetByID(id string) (*model.Note, error) {
	note, ok := r.notes[id]
	if !ok {
		return nil, nil
	}
	copied := *note
	return &copied, nil
}

func (r *fakeNoteRepo) Update(note *model.Note) error {
	r.notes[note.ID] = note
	return nil
}

func (r *fakeNoteRepo) UpdateContent(id, content string) error {
	r.updatedContent[id] = content
	r.notes[id].Content = content
	return nil
}

func (r *fakeNoteRepo) SetAudioURL(id, audioURL string) error {
	r.audioURLs[id] = audioURL
	r.notes[id].AudioURL = audioURL
	return nil
}

func (r *fakeNoteRepo) Search(query model.NoteQuery) ([]*model.Note, error) {
	r.lastQuery = query
	var out []*model.Note
	for _, note := range r.notes {
		out = append(out, note)
	}
	return out, nil
}

func (r *fakeNoteRepo) Delete(id string) error {
	delete(r.notes, id)
	return nil
}

type fakeFolderRepo struct {
	folders []*model.Folder
}

func (r *fakeFolderRepo) Create(folder *model.Folder) error {
	if folder.ID == "" {
		folder.ID = fmt.Sprintf("folder-%d", len(r.folders)+1)
	}
	r.folders = append(r.folders, folder)
	return nil
}

func (r *fakeFolderRepo) GetByID(id string) (*model.Folder, error) {
	for _, folder := range r.folders {
		if folder.ID == id {
			return folder, nil
		}
	}
	return nil, nil
}

func (r *fakeFolderRepo) List() ([]*model.Folder, error) {
	return r.folders, nil
}

type stubUploader struct {
	err error
}

func (u *stubUploader) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	return "http://store/" + objectName, nil
}

type stubProvider struct {
	text string
	err  error
}

func (p *stubProvider) Transcribe(ctx context.Context, audio io.Reader, fileName string) (string, error) {
	return p.text, p.err
}

type handlerFixture struct {
	handler  *APIHandler
	noteRepo *fakeNoteRepo
	hub      *collab.NoteHub
	router   *mux.Router
}

func newHandlerFixture(t *testing.T, uploader transcribe.Uploader, provider transcribe.Provider, notes ...*model.Note) *handlerFixture {
	t.Helper()

	noteRepo := newFakeNoteRepo(notes...)
	folderRepo := &fakeFolderRepo{}
	hub := collab.NewNoteHub(nil)
	pipeline := transcribe.NewPipeline(uploader, provider)

	handler := NewAPIHandler(&config.Config{}, noteRepo, folderRepo, nil, pipeline, hub, nil)

	router := mux.NewRouter()
	router.HandleFunc("/api/notes", handler.CreateNoteHandler).Methods("POST")
	router.HandleFunc("/api/notes", handler.SearchNotesHandler).Methods("GET")
	router.HandleFunc("/api/notes/{note_id}", handler.GetNoteHandler).Methods("GET")
	router.HandleFunc("/api/notes/{note_id}", handler.UpdateNoteHandler).Methods("PUT")
	router.HandleFunc("/api/notes/{note_id}/transcribe", handler.TranscribeNoteHandler).Methods("POST")
	router.HandleFunc("/api/folders", handler.CreateFolderHandler).Methods("POST")
	router.HandleFunc("/api/folders", handler.ListFoldersHandler).Methods("GET")

	return &handlerFixture{handler: handler, noteRepo: noteRepo, hub: hub, router: router}
}

// audioRequest builds a multipart POST carrying one audio file.
func audioRequest(t *testing.T, target string, data []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", "memo.webm")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func drainMessages(t *testing.T, client *collab.Client) []collab.WSMessage {
	t.Helper()

	var messages []collab.WSMessage
	for {
		select {
		case raw := <-client.Send:
			var msg collab.WSMessage
			require.NoError(t, json.Unmarshal(raw, &msg))
			messages = append(messages, msg)
		default:
			return messages
		}
	}
}

func TestCreateNoteHandler(t *testing.T) {
	fx := newHandlerFixture(t, &stubUploader{}, &stubProvider{})

	body := strings.NewReader(`{"title":"standup","content":"notes"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/notes", body)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var note model.Note
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &note))
	assert.NotEmpty(t, note.ID)
	assert.Equal(t, "standup", note.Title)
	assert.Equal(t, "notes", note.Content)
}

func TestGetNoteHandler_NotFound(t *testing.T) {
	fx := newHandlerFixture(t, &stubUploader{}, &stubProvider{})

	req := httptest.NewRequest(http.MethodGet, "/api/notes/missing", nil)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchNotesHandler_PassesFilters(t *testing.T) {
	fx := newHandlerFixture(t, &stubUploader{}, &stubProvider{},
		&model.Note{ID: "n1", Title: "standup"})

	req := httptest.NewRequest(http.MethodGet, "/api/notes?search=stand&folderId=f1&tag=work", nil)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.NoteQuery{Search: "stand", FolderID: "f1", Tag: "work"}, fx.noteRepo.lastQuery)
}

func TestUpdateNoteHandler(t *testing.T) {
	fx := newHandlerFixture(t, &stubUploader{}, &stubProvider{},
		&model.Note{ID: "n1", Title: "old", Content: "old body"})

	body := strings.NewReader(`{"title":"new","content":"new body","tags":["work"]}`)
	req := httptest.NewRequest(http.MethodPut, "/api/notes/n1", body)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	saved := fx.noteRepo.notes["n1"]
	assert.Equal(t, "new", saved.Title)
	assert.Equal(t, "new body", saved.Content)
	assert.Equal(t, model.StringList{"work"}, saved.Tags)
}

func TestTranscribeNoteHandler_MergesPersistsAndBroadcasts(t *testing.T) {
	fx := newHandlerFixture(t, &stubUploader{}, &stubProvider{text: "B"},
		&model.Note{ID: "n1", Content: "A"})

	sender := collab.NewClient(fx.hub, nil, "u1", "alice")
	observer := collab.NewClient(fx.hub, nil, "u2", "bob")
	fx.hub.Join(sender, "n1")
	fx.hub.Join(observer, "n1")

	req := audioRequest(t, "/api/notes/n1/transcribe?connId="+sender.ID, []byte("opus"))
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.TranscribeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "B", resp.Transcription)
	assert.Equal(t, "A\n\nB", resp.Content)

	assert.Equal(t, "A\n\nB", fx.noteRepo.updatedContent["n1"])
	assert.NotEmpty(t, fx.noteRepo.audioURLs["n1"])

	// The merge is broadcast like a local edit: everyone but the
	// initiating connection receives it.
	assert.Empty(t, drainMessages(t, sender))

	received := drainMessages(t, observer)
	require.Len(t, received, 1)
	assert.Equal(t, collab.MsgTypeNoteUpdated, received[0].Type)
	assert.Equal(t, "A\n\nB", received[0].Content)
}

func TestTranscribeNoteHandler_PipelineFailureLeavesContentUntouched(t *testing.T) {
	fx := newHandlerFixture(t, &stubUploader{err: errors.New("bucket offline")}, &stubProvider{text: "B"},
		&model.Note{ID: "n1", Content: "A"})

	req := audioRequest(t, "/api/notes/n1/transcribe", []byte("opus"))
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Empty(t, fx.noteRepo.updatedContent)
	assert.Equal(t, "A", fx.noteRepo.notes["n1"].Content)
}

func TestTranscribeNoteHandler_NoteNotFound(t *testing.T) {
	fx := newHandlerFixture(t, &stubUploader{}, &stubProvider{text: "B"})

	req := audioRequest(t, "/api/notes/missing/transcribe", []byte("opus"))
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTranscribeNoteHandler_MissingAudio(t *testing.T) {
	fx := newHandlerFixture(t, &stubUploader{}, &stubProvider{},
		&model.Note{ID: "n1"})

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/notes/n1/transcribe", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateFolderHandler_RequiresName(t *testing.T) {
	fx := newHandlerFixture(t, &stubUploader{}, &stubProvider{})

	req := httptest.NewRequest(http.MethodPost, "/api/folders", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateFolderHandler(t *testing.T) {
	fx := newHandlerFixture(t, &stubUploader{}, &stubProvider{})

	req := httptest.NewRequest(http.MethodPost, "/api/folders", strings.NewReader(`{"name":"meetings"}`))
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/api/folders", nil)
	listRec := httptest.NewRecorder()
	fx.router.ServeHTTP(listRec, listReq)

	var folders []*model.Folder
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &folders))
	require.Len(t, folders, 1)
	assert.Equal(t, "meetings", folders[0].Name)
}
