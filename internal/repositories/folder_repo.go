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

// FolderRepository folders 表的数据访问
type FolderRepository interface {
	// ForUpdate 返回的仓库所有查询都带行锁，只能在事务中使用
	ForUpdate() FolderRepository

	Create(folder *models.Folder) error
	FindByID(id uint64) (*models.Folder, error)
	FindByIDs(ids []uint64) ([]models.Folder, error)
	// FindActiveSibling 同一父目录、同一归属下的同名活动文件夹，没有时返回 nil, nil
	FindActiveSibling(parentID *uint64, name string, scope models.Scope, excludeID uint64) (*models.Folder, error)
	ChildIDs(parentIDs []uint64) ([]uint64, error)
	ListChildren(parentID uint64, deleted bool) ([]models.Folder, error)
	ListChildrenOf(parentIDs []uint64) ([]models.Folder, error)
	ListActiveRoots(scope models.Scope, visibility *models.Visibility) ([]models.Folder, error)
	ListActiveByIDs(ids []uint64) ([]models.Folder, error)
	ListTrashRoots(scopes []models.Scope) ([]models.Folder, error)
	Update(id uint64, fields map[string]any) error
	MarkDeleted(ids []uint64, at time.Time) error
	Restore(ids []uint64) error
	DeleteByIDs(ids []uint64) error
}

type folderRepository struct {
	db *gorm.DB
}

func NewFolderRepository(db *gorm.DB) FolderRepository {
	return &folderRepository{db: db}
}

func (r *folderRepository) ForUpdate() FolderRepository {
	return &folderRepository{db: lockForUpdate(r.db)}
}

func (r *folderRepository) Create(folder *models.Folder) error {
	if err := r.db.Create(folder).Error; err != nil {
		logger.Error("Create: Failed to create folder in DB", zap.String("name", folder.Name), zap.Error(err))
		return fmt.Errorf("failed to create folder: %w", err)
	}
	return nil
}

func (r *folderRepository) FindByID(id uint64) (*models.Folder, error) {
	var folder models.Folder
	if err := r.db.First(&folder, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrFolderNotFound
		}
		return nil, fmt.Errorf("find folder %d: %w", id, err)
	}
	return &folder, nil
}

func (r *folderRepository) FindByIDs(ids []uint64) ([]models.Folder, error) {
	var folders []models.Folder
	if len(ids) == 0 {
		return folders, nil
	}
	if err := r.db.Where("id IN ?", ids).Order("id").Find(&folders).Error; err != nil {
		return nil, fmt.Errorf("find folders: %w", err)
	}
	return folders, nil
}

func (r *folderRepository) FindActiveSibling(parentID *uint64, name string, scope models.Scope, excludeID uint64) (*models.Folder, error) {
	cond, args := scopeCondition(scope)
	q := parentCondition(r.db, parentID).
		Where("name = ? AND is_deleted = ?", name, false).
		Where(cond, args...)
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}

	var folder models.Folder
	err := q.Limit(1).Find(&folder).Error
	if err != nil {
		return nil, fmt.Errorf("find sibling folder: %w", err)
	}
	if folder.ID == 0 {
		return nil, nil
	}
	return &folder, nil
}

func (r *folderRepository) ChildIDs(parentIDs []uint64) ([]uint64, error) {
	var ids []uint64
	if len(parentIDs) == 0 {
		return ids, nil
	}
	if err := r.db.Model(&models.Folder{}).Where("parent_id IN ?", parentIDs).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list child folder ids: %w", err)
	}
	return ids, nil
}

func (r *folderRepository) ListChildren(parentID uint64, deleted bool) ([]models.Folder, error) {
	var folders []models.Folder
	err := r.db.Where("parent_id = ? AND is_deleted = ?", parentID, deleted).Order("name, id").Find(&folders).Error
	if err != nil {
		return nil, fmt.Errorf("list child folders: %w", err)
	}
	return folders, nil
}

// ListChildrenOf 不区分删除状态，供路径重写和打包按层遍历
func (r *folderRepository) ListChildrenOf(parentIDs []uint64) ([]models.Folder, error) {
	var folders []models.Folder
	if len(parentIDs) == 0 {
		return folders, nil
	}
	if err := r.db.Where("parent_id IN ?", parentIDs).Order("id").Find(&folders).Error; err != nil {
		return nil, fmt.Errorf("list child folders: %w", err)
	}
	return folders, nil
}

func (r *folderRepository) ListActiveRoots(scope models.Scope, visibility *models.Visibility) ([]models.Folder, error) {
	cond, args := scopeCondition(scope)
	q := r.db.Where("parent_id IS NULL AND is_deleted = ?", false).Where(cond, args...)
	if visibility != nil {
		q = q.Where("visibility = ?", *visibility)
	}
	var folders []models.Folder
	if err := q.Order("name, id").Find(&folders).Error; err != nil {
		return nil, fmt.Errorf("list root folders: %w", err)
	}
	return folders, nil
}

func (r *folderRepository) ListActiveByIDs(ids []uint64) ([]models.Folder, error) {
	var folders []models.Folder
	if len(ids) == 0 {
		return folders, nil
	}
	if err := r.db.Where("id IN ? AND is_deleted = ?", ids, false).Order("name, id").Find(&folders).Error; err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	return folders, nil
}

// ListTrashRoots 已删除且父目录为空或未删除的文件夹
func (r *folderRepository) ListTrashRoots(scopes []models.Scope) ([]models.Folder, error) {
	cond, args := scopesCondition(scopes)
	active := r.db.Session(&gorm.Session{NewDB: true}).Model(&models.Folder{}).Select("id").Where("is_deleted = ?", false)

	var folders []models.Folder
	err := r.db.Where("is_deleted = ?", true).
		Where("parent_id IS NULL OR parent_id IN (?)", active).
		Where(cond, args...).
		Order("deleted_at DESC, id").
		Find(&folders).Error
	if err != nil {
		return nil, fmt.Errorf("list trash folders: %w", err)
	}
	return folders, nil
}

func (r *folderRepository) Update(id uint64, fields map[string]any) error {
	if err := r.db.Model(&models.Folder{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		return fmt.Errorf("update folder %d: %w", id, err)
	}
	return nil
}

func (r *folderRepository) MarkDeleted(ids []uint64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.Model(&models.Folder{}).Where("id IN ?", ids).
		Updates(map[string]any{"is_deleted": true, "deleted_at": at}).Error
	if err != nil {
		return fmt.Errorf("mark folders deleted: %w", err)
	}
	return nil
}

func (r *folderRepository) Restore(ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	err := r.db.Model(&models.Folder{}).Where("id IN ?", ids).
		Updates(map[string]any{"is_deleted": false, "deleted_at": nil}).Error
	if err != nil {
		return fmt.Errorf("restore folders: %w", err)
	}
	return nil
}

func (r *folderRepository) DeleteByIDs(ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.db.Where("id IN ?", ids).Delete(&models.Folder{}).Error; err != nil {
		return fmt.Errorf("delete folders: %w", err)
	}
	return nil
}
