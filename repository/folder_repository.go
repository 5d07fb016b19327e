package repository

import (
	"errors"
	"fmt"

	"echonote/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FolderRepository defines the interface for folder data operations.
type FolderRepository interface {
	Create(folder *model.Folder) error
	GetByID(id string) (*model.Folder, error)
	List() ([]*model.Folder, error)
}

type gormFolderRepository struct {
	db *gorm.DB
}

// NewGormFolderRepository creates a new gormFolderRepository.
func NewGormFolderRepository(db *gorm.DB) FolderRepository {
	return &gormFolderRepository{db: db}
}

func (r *gormFolderRepository) Create(folder *model.Folder) error {
	if folder.ID == "" {
		folder.ID = uuid.New().String()
	}
	if err := r.db.Create(folder).Error; err != nil {
		return fmt.Errorf("failed to create folder: %w", err)
	}
	return nil
}

func (r *gormFolderRepository) GetByID(id string) (*model.Folder, error) {
	var folder model.Folder
	err := r.db.First(&folder, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get folder %s: %w", id, err)
	}
	return &folder, nil
}

func (r *gormFolderRepository) List() ([]*model.Folder, error) {
	var folders []*model.Folder
	if err := r.db.Order("name ASC").Find(&folders).Error; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return folders, nil
}
