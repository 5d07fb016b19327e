package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"echonote/cache"
	"echonote/config"
	"echonote/core/collab"
	"echonote/core/record"
	"echonote/core/transcribe"
	"echonote/logger"
	"echonote/model"
	"echonote/repository"
	"echonote/storage"

	"github.com/gorilla/mux"
)

const maxAudioUploadBytes = 32 << 20 // 32MB

// APIHandler bundles the dependencies of the HTTP handlers.
type APIHandler struct {
	cfg        *config.Config
	noteRepo   repository.NoteRepository
	folderRepo repository.FolderRepository
	store      *storage.AudioStore
	pipeline   *transcribe.Pipeline
	hub        *collab.NoteHub
	presence   *cache.PresenceCache
}

// NewAPIHandler creates the handler set.
func NewAPIHandler(
	cfg *config.Config,
	noteRepo repository.NoteRepository,
	folderRepo repository.FolderRepository,
	store *storage.AudioStore,
	pipeline *transcribe.Pipeline,
	hub *collab.NoteHub,
	presence *cache.PresenceCache,
) *APIHandler {
	return &APIHandler{
		cfg:        cfg,
		noteRepo:   noteRepo,
		folderRepo: folderRepo,
		store:      store,
		pipeline:   pipeline,
		hub:        hub,
		presence:   presence,
	}
}

// CreateNoteHandler persists a new note.
func (h *APIHandler) CreateNoteHandler(w http.ResponseWriter, r *http.Request) {
	var req model.CreateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	note := &model.Note{
		Title:    req.Title,
		Content:  req.Content,
		FolderID: req.FolderID,
	}
	if err := h.noteRepo.Create(note); err != nil {
		logger.Error("failed to create note", logger.ErrorField(err))
		http.Error(w, "Failed to create note", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(note)
}

// GetNoteHandler returns one note.
func (h *APIHandler) GetNoteHandler(w http.ResponseWriter, r *http.Request) {
	noteID := mux.Vars(r)["note_id"]

	note, err := h.noteRepo.GetByID(noteID)
	if err != nil {
		logger.Error("failed to get note", logger.ErrorField(err), logger.String("note", noteID))
		http.Error(w, "Failed to get note", http.StatusInternalServerError)
		return
	}
	if note == nil {
		http.Error(w, "Note not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(note)
}

// SearchNotesHandler lists notes. Unspecified filters are ignored.
func (h *APIHandler) SearchNotesHandler(w http.ResponseWriter, r *http.Request) {
	query := model.NoteQuery{
		Search:   r.URL.Query().Get("search"),
		FolderID: r.URL.Query().Get("folderId"),
		Tag:      r.URL.Query().Get("tag"),
	}

	notes, err := h.noteRepo.Search(query)
	if err != nil {
		logger.Error("failed to search notes", logger.ErrorField(err))
		http.Error(w, "Failed to search notes", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(notes)
}

// UpdateNoteHandler saves a full note record.
func (h *APIHandler) UpdateNoteHandler(w http.ResponseWriter, r *http.Request) {
	noteID := mux.Vars(r)["note_id"]

	var req model.UpdateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	note, err := h.noteRepo.GetByID(noteID)
	if err != nil {
		http.Error(w, "Failed to get note", http.StatusInternalServerError)
		return
	}
	if note == nil {
		http.Error(w, "Note not found", http.StatusNotFound)
		return
	}

	note.Title = req.Title
	note.Content = req.Content
	note.Tags = req.Tags
	note.FolderID = req.FolderID
	if err := h.noteRepo.Update(note); err != nil {
		logger.Error("failed to update note", logger.ErrorField(err), logger.String("note", noteID))
		http.Error(w, "Failed to update note", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(note)
}

// UploadAudioHandler stores a recording and sets the note's audio reference.
func (h *APIHandler) UploadAudioHandler(w http.ResponseWriter, r *http.Request) {
	noteID := mux.Vars(r)["note_id"]

	artifact, err := readAudioUpload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	note, err := h.noteRepo.GetByID(noteID)
	if err != nil {
		http.Error(w, "Failed to get note", http.StatusInternalServerError)
		return
	}
	if note == nil {
		http.Error(w, "Note not found", http.StatusNotFound)
		return
	}

	audioURL, err := h.store.Upload(r.Context(),
		fmt.Sprintf("audio/%s.webm", noteID),
		bytes.NewReader(artifact.Data), artifact.Size(), artifact.ContentType)
	if err != nil {
		logger.Error("failed to store audio", logger.ErrorField(err), logger.String("note", noteID))
		http.Error(w, "Failed to store audio", http.StatusInternalServerError)
		return
	}

	if err := h.noteRepo.SetAudioURL(noteID, audioURL); err != nil {
		logger.Error("failed to save audio reference", logger.ErrorField(err), logger.String("note", noteID))
		http.Error(w, "Failed to save audio reference", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"audioUrl": audioURL})
}

// TranscribeNoteHandler runs the transcription pipeline on an uploaded
// recording and appends the text to the note. A pipeline failure leaves the
// note content untouched.
func (h *APIHandler) TranscribeNoteHandler(w http.ResponseWriter, r *http.Request) {
	noteID := mux.Vars(r)["note_id"]

	artifact, err := readAudioUpload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	note, err := h.noteRepo.GetByID(noteID)
	if err != nil {
		http.Error(w, "Failed to get note", http.StatusInternalServerError)
		return
	}
	if note == nil {
		http.Error(w, "Note not found", http.StatusNotFound)
		return
	}

	result, err := h.pipeline.Transcribe(r.Context(), artifact)
	if err != nil {
		var stageErr *transcribe.StageError
		if errors.As(err, &stageErr) {
			logger.Warn("transcription failed",
				logger.ErrorField(err),
				logger.String("note", noteID),
				logger.String("stage", string(stageErr.Stage)))
		}
		http.Error(w, "Transcription failed", http.StatusBadGateway)
		return
	}

	merged := transcribe.AppendTranscript(note.Content, result.Text)
	if err := h.noteRepo.UpdateContent(noteID, merged); err != nil {
		logger.Error("failed to persist transcript", logger.ErrorField(err), logger.String("note", noteID))
		http.Error(w, "Failed to save transcript", http.StatusInternalServerError)
		return
	}
	if err := h.noteRepo.SetAudioURL(noteID, result.AudioURL); err != nil {
		logger.Warn("failed to save audio reference", logger.ErrorField(err), logger.String("note", noteID))
	}

	// The merge is treated like a local edit: broadcast to the room,
	// excluding the initiating client when it identified its connection.
	sender := h.hub.FindClient(r.URL.Query().Get("connId"))
	h.hub.Publish(sender, noteID, merged)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&model.TranscribeResponse{
		Transcription: result.Text,
		Content:       merged,
	})
}

// GetEditorsHandler returns the connections currently viewing a note.
func (h *APIHandler) GetEditorsHandler(w http.ResponseWriter, r *http.Request) {
	noteID := mux.Vars(r)["note_id"]

	editors, err := h.presence.ActiveEditors(r.Context(), noteID)
	if err != nil {
		logger.Warn("failed to read editor presence", logger.ErrorField(err), logger.String("note", noteID))
		http.Error(w, "Failed to read presence", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"editors": editors, "count": len(editors)})
}

// CreateFolderHandler persists a new folder.
func (h *APIHandler) CreateFolderHandler(w http.ResponseWriter, r *http.Request) {
	var folder model.Folder
	if err := json.NewDecoder(r.Body).Decode(&folder); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if folder.Name == "" {
		http.Error(w, "Folder name is required", http.StatusBadRequest)
		return
	}

	if err := h.folderRepo.Create(&folder); err != nil {
		logger.Error("failed to create folder", logger.ErrorField(err))
		http.Error(w, "Failed to create folder", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(&folder)
}

// ListFoldersHandler lists folders.
func (h *APIHandler) ListFoldersHandler(w http.ResponseWriter, r *http.Request) {
	folders, err := h.folderRepo.List()
	if err != nil {
		logger.Error("failed to list folders", logger.ErrorField(err))
		http.Error(w, "Failed to list folders", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(folders)
}

// readAudioUpload extracts the single audio file from a multipart request
// as a completed artifact.
func readAudioUpload(r *http.Request) (*record.Artifact, error) {
	if err := r.ParseMultipartForm(maxAudioUploadBytes); err != nil {
		return nil, fmt.Errorf("failed to parse multipart form: %v", err)
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		return nil, fmt.Errorf("missing 'audio' in form")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio upload: %v", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("audio upload is empty")
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = record.ArtifactContentType
	}

	return &record.Artifact{Data: data, ContentType: contentType}, nil
}
