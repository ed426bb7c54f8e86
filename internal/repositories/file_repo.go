package repositories

import (
	"errors"
	"fmt"
	"time"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/logger"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FileRepository files 表的数据访问
type FileRepository interface {
	ForUpdate() FileRepository

	Create(file *models.File) error
	FindByID(id uint64) (*models.File, error)
	FindByIDs(ids []uint64) ([]models.File, error)
	// FindActiveSibling 同一文件夹内的同名活动文件，没有时返回 nil, nil
	FindActiveSibling(folderID uint64, name string, excludeID uint64) (*models.File, error)
	ListByFolders(folderIDs []uint64, deleted *bool) ([]models.File, error)
	ListActiveByIDs(ids []uint64) ([]models.File, error)
	// ListFlatTrash 已删除且所在文件夹未删除的文件
	ListFlatTrash(scopes []models.Scope) ([]models.File, error)
	CountDeletedInFolders(folderIDs []uint64) (int64, error)
	Update(id uint64, fields map[string]any) error
	MarkDeleted(id uint64, at time.Time) error
	MarkActiveDeletedInFolders(folderIDs []uint64, at time.Time) error
	DeleteByIDs(ids []uint64) error
}

type fileRepository struct {
	db *gorm.DB
}

func NewFileRepository(db *gorm.DB) FileRepository {
	return &fileRepository{db: db}
}

func (r *fileRepository) ForUpdate() FileRepository {
	return &fileRepository{db: lockForUpdate(r.db)}
}

func (r *fileRepository) Create(file *models.File) error {
	if err := r.db.Create(file).Error; err != nil {
		logger.Error("Create: Failed to create file in DB", zap.Uint64("folderID", file.FolderID), zap.String("fileName", file.Name), zap.Error(err))
		return fmt.Errorf("failed to create file: %w", err)
	}
	return nil
}

func (r *fileRepository) FindByID(id uint64) (*models.File, error) {
	var file models.File
	if err := r.db.First(&file, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrFileNotFound // 文件未找到
		}
		return nil, fmt.Errorf("find file %d: %w", id, err)
	}
	return &file, nil
}

func (r *fileRepository) FindByIDs(ids []uint64) ([]models.File, error) {
	var files []models.File
	if len(ids) == 0 {
		return files, nil
	}
	if err := r.db.Where("id IN ?", ids).Order("id").Find(&files).Error; err != nil {
		return nil, fmt.Errorf("find files: %w", err)
	}
	return files, nil
}

func (r *fileRepository) FindActiveSibling(folderID uint64, name string, excludeID uint64) (*models.File, error) {
	q := r.db.Where("folder_id = ? AND name = ? AND is_deleted = ?", folderID, name, false)
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	var file models.File
	if err := q.Limit(1).Find(&file).Error; err != nil {
		return nil, fmt.Errorf("find sibling file: %w", err)
	}
	if file.ID == 0 {
		return nil, nil
	}
	return &file, nil
}

func (r *fileRepository) ListByFolders(folderIDs []uint64, deleted *bool) ([]models.File, error) {
	var files []models.File
	if len(folderIDs) == 0 {
		return files, nil
	}
	q := r.db.Where("folder_id IN ?", folderIDs)
	if deleted != nil {
		q = q.Where("is_deleted = ?", *deleted)
	}
	if err := q.Order("name, id").Find(&files).Error; err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

func (r *fileRepository) ListActiveByIDs(ids []uint64) ([]models.File, error) {
	var files []models.File
	if len(ids) == 0 {
		return files, nil
	}
	if err := r.db.Where("id IN ? AND is_deleted = ?", ids, false).Order("name, id").Find(&files).Error; err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

func (r *fileRepository) ListFlatTrash(scopes []models.Scope) ([]models.File, error) {
	cond, args := scopesCondition(scopes)
	activeFolders := r.db.Session(&gorm.Session{NewDB: true}).Model(&models.Folder{}).Select("id").Where("is_deleted = ?", false)

	var files []models.File
	err := r.db.Where("is_deleted = ?", true).
		Where("folder_id IN (?)", activeFolders).
		Where(cond, args...).
		Order("deleted_at DESC, id").
		Find(&files).Error
	if err != nil {
		logger.Error("Error finding deleted files from DB", zap.Error(err))
		return nil, fmt.Errorf("查询已删除文件列表失败: %w", err)
	}
	return files, nil
}

func (r *fileRepository) CountDeletedInFolders(folderIDs []uint64) (int64, error) {
	var count int64
	if len(folderIDs) == 0 {
		return 0, nil
	}
	err := r.db.Model(&models.File{}).Where("folder_id IN ? AND is_deleted = ?", folderIDs, true).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count deleted files: %w", err)
	}
	return count, nil
}

func (r *fileRepository) Update(id uint64, fields map[string]any) error {
	if err := r.db.Model(&models.File{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		return fmt.Errorf("update file %d: %w", id, err)
	}
	return nil
}

func (r *fileRepository) MarkDeleted(id uint64, at time.Time) error {
	return r.Update(id, map[string]any{"is_deleted": true, "deleted_at": at})
}

// MarkActiveDeletedInFolders 只标记活动文件，之前单独删除的文件保留原删除时间
func (r *fileRepository) MarkActiveDeletedInFolders(folderIDs []uint64, at time.Time) error {
	if len(folderIDs) == 0 {
		return nil
	}
	err := r.db.Model(&models.File{}).
		Where("folder_id IN ? AND is_deleted = ?", folderIDs, false).
		Updates(map[string]any{"is_deleted": true, "deleted_at": at}).Error
	if err != nil {
		return fmt.Errorf("mark files deleted: %w", err)
	}
	return nil
}

func (r *fileRepository) DeleteByIDs(ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.db.Where("id IN ?", ids).Delete(&models.File{}).Error; err != nil {
		return fmt.Errorf("delete files: %w", err)
	}
	return nil
}
