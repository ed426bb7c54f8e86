package repositories

import (
	"fmt"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PermissionRepository 文件夹和文件的直接授权，每个 (资源, 用户) 最多一行
type PermissionRepository interface {
	UpsertFolder(p *models.FolderPermission) error
	UpsertFile(p *models.FilePermission) error
	FolderGrants(userID uint64, folderIDs []uint64) ([]models.FolderPermission, error)
	FileGrants(userID uint64, fileIDs []uint64) ([]models.FilePermission, error)
	ListFolderGrants(folderID uint64) ([]models.FolderPermission, error)
	ListFileGrants(fileID uint64) ([]models.FilePermission, error)
	// DeleteFolderGrant 返回删除的行数
	DeleteFolderGrant(folderID, userID uint64) (int64, error)
	DeleteFileGrant(fileID, userID uint64) (int64, error)
	DeleteByFolders(folderIDs []uint64) error
	DeleteByFiles(fileIDs []uint64) error
	// ViewableFolderIDs 用户被直接授予查看权限的文件夹
	ViewableFolderIDs(userID uint64) ([]uint64, error)
	ViewableFileIDs(userID uint64) ([]uint64, error)
}

type permissionRepository struct {
	db *gorm.DB
}

func NewPermissionRepository(db *gorm.DB) PermissionRepository {
	return &permissionRepository{db: db}
}

func (r *permissionRepository) UpsertFolder(p *models.FolderPermission) error {
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "folder_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"can_view", "can_upload", "can_edit", "can_delete", "granted_by", "updated_at"}),
	}).Create(p).Error
	if err != nil {
		return fmt.Errorf("upsert folder permission: %w", err)
	}
	return nil
}

func (r *permissionRepository) UpsertFile(p *models.FilePermission) error {
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"can_view", "can_download", "can_edit", "can_delete", "granted_by", "updated_at"}),
	}).Create(p).Error
	if err != nil {
		return fmt.Errorf("upsert file permission: %w", err)
	}
	return nil
}

func (r *permissionRepository) FolderGrants(userID uint64, folderIDs []uint64) ([]models.FolderPermission, error) {
	var grants []models.FolderPermission
	if len(folderIDs) == 0 {
		return grants, nil
	}
	err := r.db.Where("user_id = ? AND folder_id IN ?", userID, folderIDs).Find(&grants).Error
	if err != nil {
		return nil, fmt.Errorf("find folder grants: %w", err)
	}
	return grants, nil
}

func (r *permissionRepository) FileGrants(userID uint64, fileIDs []uint64) ([]models.FilePermission, error) {
	var grants []models.FilePermission
	if len(fileIDs) == 0 {
		return grants, nil
	}
	err := r.db.Where("user_id = ? AND file_id IN ?", userID, fileIDs).Find(&grants).Error
	if err != nil {
		return nil, fmt.Errorf("find file grants: %w", err)
	}
	return grants, nil
}

func (r *permissionRepository) ListFolderGrants(folderID uint64) ([]models.FolderPermission, error) {
	var grants []models.FolderPermission
	err := r.db.Where("folder_id = ?", folderID).Order("user_id").Find(&grants).Error
	return grants, err
}

func (r *permissionRepository) ListFileGrants(fileID uint64) ([]models.FilePermission, error) {
	var grants []models.FilePermission
	err := r.db.Where("file_id = ?", fileID).Order("user_id").Find(&grants).Error
	return grants, err
}

func (r *permissionRepository) DeleteFolderGrant(folderID, userID uint64) (int64, error) {
	res := r.db.Where("folder_id = ? AND user_id = ?", folderID, userID).Delete(&models.FolderPermission{})
	return res.RowsAffected, res.Error
}

func (r *permissionRepository) DeleteFileGrant(fileID, userID uint64) (int64, error) {
	res := r.db.Where("file_id = ? AND user_id = ?", fileID, userID).Delete(&models.FilePermission{})
	return res.RowsAffected, res.Error
}

func (r *permissionRepository) DeleteByFolders(folderIDs []uint64) error {
	if len(folderIDs) == 0 {
		return nil
	}
	return r.db.Where("folder_id IN ?", folderIDs).Delete(&models.FolderPermission{}).Error
}

func (r *permissionRepository) DeleteByFiles(fileIDs []uint64) error {
	if len(fileIDs) == 0 {
		return nil
	}
	return r.db.Where("file_id IN ?", fileIDs).Delete(&models.FilePermission{}).Error
}

func (r *permissionRepository) ViewableFolderIDs(userID uint64) ([]uint64, error) {
	var ids []uint64
	err := r.db.Model(&models.FolderPermission{}).Where("user_id = ? AND can_view = ?", userID, true).Pluck("folder_id", &ids).Error
	return ids, err
}

func (r *permissionRepository) ViewableFileIDs(userID uint64) ([]uint64, error) {
	var ids []uint64
	err := r.db.Model(&models.FilePermission{}).Where("user_id = ? AND can_view = ?", userID, true).Pluck("file_id", &ids).Error
	return ids, err
}
