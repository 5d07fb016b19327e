package repository

import (
	"errors"
	"fmt"
	"time"

	"echonote/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NoteRepository defines the interface for note data operations.
type NoteRepository interface {
	Create(note *model.Note) error
	GetByID(id string) (*model.Note, error)
	Update(note *model.Note) error
	UpdateContent(id, content string) error
	SetAudioURL(id, audioURL string) error
	Search(query model.NoteQuery) ([]*model.Note, error)
	Delete(id string) error
}

// gormNoteRepository implements NoteRepository over GORM.
type gormNoteRepository struct {
	db *gorm.DB
}

// NewGormNoteRepository creates a new gormNoteRepository.
func NewGormNoteRepository(db *gorm.DB) NoteRepository {
	return &gormNoteRepository{db: db}
}

// Create persists a new note, assigning it an id if it has none.
func (r *gormNoteRepository) Create(note *model.Note) error {
	if note.ID == "" {
		note.ID = uuid.New().String()
	}
	if err := r.db.Create(note).Error; err != nil {
		return fmt.Errorf("failed to create note: %w", err)
	}
	return nil
}

// GetByID retrieves a note by its id. Returns (nil, nil) when not found.
func (r *gormNoteRepository) GetByID(id string) (*model.Note, error) {
	var note model.Note
	err := r.db.First(&note, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get note %s: %w", id, err)
	}
	return &note, nil
}

// Update saves the full note record.
func (r *gormNoteRepository) Update(note *model.Note) error {
	if err := r.db.Save(note).Error; err != nil {
		return fmt.Errorf("failed to update note %s: %w", note.ID, err)
	}
	return nil
}

// UpdateContent writes only the content column. Used by the sync path, which
// carries content snapshots and must not clobber title or tags.
func (r *gormNoteRepository) UpdateContent(id, content string) error {
	err := r.db.Model(&model.Note{}).Where("id = ?", id).
		Updates(map[string]interface{}{"content": content, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("failed to update note content %s: %w", id, err)
	}
	return nil
}

// SetAudioURL writes only the audio reference column.
func (r *gormNoteRepository) SetAudioURL(id, audioURL string) error {
	err := r.db.Model(&model.Note{}).Where("id = ?", id).
		Updates(map[string]interface{}{"audio_url": audioURL, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("failed to set audio url for note %s: %w", id, err)
	}
	return nil
}

// Search lists notes matching the query. Unset filters are ignored; an empty
// query returns all notes, newest first.
func (r *gormNoteRepository) Search(query model.NoteQuery) ([]*model.Note, error) {
	tx := r.db.Model(&model.Note{})

	if query.Search != "" {
		like := "%" + query.Search + "%"
		tx = tx.Where("title LIKE ? OR content LIKE ?", like, like)
	}
	if query.FolderID != "" {
		tx = tx.Where("folder_id = ?", query.FolderID)
	}
	if query.Tag != "" {
		tx = tx.Where("JSON_CONTAINS(tags, JSON_QUOTE(?))", query.Tag)
	}

	var notes []*model.Note
	if err := tx.Order("updated_at DESC").Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("failed to search notes: %w", err)
	}
	return notes, nil
}

// Delete removes a note.
func (r *gormNoteRepository) Delete(id string) error {
	if err := r.db.Delete(&model.Note{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete note %s: %w", id, err)
	}
	return nil
}
