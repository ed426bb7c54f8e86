package repositories

import (
	"errors"
	"fmt"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"gorm.io/gorm"
)

type FileVersionRepository interface {
	Create(fileVersion *models.FileVersion) error
	FindByFileID(fileID uint64) ([]models.FileVersion, error)
	FindByFileIDs(fileIDs []uint64) ([]models.FileVersion, error)
	FindByID(fileID, versionID uint64) (*models.FileVersion, error)
	MaxSequence(fileID uint64) (uint, error)
	DeleteByFileIDs(fileIDs []uint64) error
}

type fileVersionRepository struct {
	db *gorm.DB
}

func NewFileVersionRepository(db *gorm.DB) FileVersionRepository {
	return &fileVersionRepository{db: db}
}

func (r *fileVersionRepository) Create(fileVersion *models.FileVersion) error {
	if err := r.db.Create(fileVersion).Error; err != nil {
		return fmt.Errorf("create file version: %w", err)
	}
	return nil
}

// FindByFileID 最新版本在前
func (r *fileVersionRepository) FindByFileID(fileID uint64) ([]models.FileVersion, error) {
	var versions []models.FileVersion
	err := r.db.Where("file_id = ?", fileID).Order("sequence desc").Find(&versions).Error
	return versions, err
}

func (r *fileVersionRepository) FindByFileIDs(fileIDs []uint64) ([]models.FileVersion, error) {
	var versions []models.FileVersion
	if len(fileIDs) == 0 {
		return versions, nil
	}
	err := r.db.Where("file_id IN ?", fileIDs).Order("file_id, sequence").Find(&versions).Error
	return versions, err
}

func (r *fileVersionRepository) FindByID(fileID, versionID uint64) (*models.FileVersion, error) {
	var version models.FileVersion
	err := r.db.Where("file_id = ?", fileID).First(&version, versionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrVersionNotFound
		}
		return nil, fmt.Errorf("find file version: %w", err)
	}
	return &version, nil
}

// MaxSequence 没有版本时返回 0。调用方需先锁住文件行，保证序号递增不冲突
func (r *fileVersionRepository) MaxSequence(fileID uint64) (uint, error) {
	var max int64
	row := r.db.Model(&models.FileVersion{}).Where("file_id = ?", fileID).Select("COALESCE(MAX(sequence), 0)").Row()
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("max version sequence: %w", err)
	}
	return uint(max), nil
}

func (r *fileVersionRepository) DeleteByFileIDs(fileIDs []uint64) error {
	if len(fileIDs) == 0 {
		return nil
	}
	return r.db.Where("file_id IN ?", fileIDs).Delete(&models.FileVersion{}).Error
}
