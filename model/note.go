package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// StringList is a custom type so GORM can scan a JSON column into a tag list.
type StringList []string

// Scan implements the sql.Scanner interface.
func (s *StringList) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*s = nil
		return nil
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*s = nil
		return nil
	}
	return json.Unmarshal(bytes, s)
}

// Value implements the driver.Valuer interface.
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Contains reports whether the list holds the given value.
func (s StringList) Contains(v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}

// Note is a collaboratively edited note. Content is the single source of
// truth for display; the last write observed wins.
type Note struct {
	ID        string     `json:"id" gorm:"primaryKey;size:36"`
	Title     string     `json:"title" gorm:"size:255"`
	Content   string     `json:"content" gorm:"type:longtext"`
	AudioURL  string     `json:"audioUrl,omitempty" gorm:"size:512"`
	Tags      StringList `json:"tags" gorm:"type:json"`
	FolderID  string     `json:"folderId,omitempty" gorm:"size:36;index"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// TableName sets the table name.
func (Note) TableName() string {
	return "notes"
}

// Folder groups notes.
type Folder struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Name      string    `json:"name" gorm:"size:100;not null"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName sets the table name.
func (Folder) TableName() string {
	return "folders"
}

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	FolderID string `json:"folderId,omitempty"`
}

// UpdateNoteRequest is the request body for saving a note.
type UpdateNoteRequest struct {
	Title    string     `json:"title"`
	Content  string     `json:"content"`
	Tags     StringList `json:"tags"`
	FolderID string     `json:"folderId,omitempty"`
}

// NoteQuery carries optional list/search filters. Unset filters are ignored.
type NoteQuery struct {
	Search   string
	FolderID string
	Tag      string
}

// TranscribeResponse is the response body for a transcription request.
type TranscribeResponse struct {
	Transcription string `json:"transcription"`
	Content       string `json:"content"`
}
