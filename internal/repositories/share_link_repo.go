package repositories

import (
	"errors"
	"fmt"
	"time"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"gorm.io/gorm"
)

type ShareLinkRepository interface {
	Create(link *models.ShareLink) error
	FindByID(id uint64) (*models.ShareLink, error)
	// FindByToken 预加载 File
	FindByToken(token string) (*models.ShareLink, error)
	ListByFile(fileID uint64) ([]models.ShareLink, error)
	Revoke(id uint64, at time.Time) error
	// IncrementDownload 条件自增，返回受影响行数，0 表示链接不可用或已达上限
	IncrementDownload(id uint64, now time.Time) (int64, error)
	DeleteByFiles(fileIDs []uint64) error
}

type shareLinkRepository struct {
	db *gorm.DB
}

// NewShareLinkRepository 创建新的 shareLinkRepository 实例
func NewShareLinkRepository(db *gorm.DB) ShareLinkRepository {
	return &shareLinkRepository{db: db}
}

func (r *shareLinkRepository) Create(link *models.ShareLink) error {
	if err := r.db.Create(link).Error; err != nil {
		return fmt.Errorf("创建分享链接失败: %w", err)
	}
	return nil
}

func (r *shareLinkRepository) FindByID(id uint64) (*models.ShareLink, error) {
	var link models.ShareLink
	if err := r.db.First(&link, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrLinkInaccessible
		}
		return nil, fmt.Errorf("查询分享链接失败: %w", err)
	}
	return &link, nil
}

func (r *shareLinkRepository) FindByToken(token string) (*models.ShareLink, error) {
	var link models.ShareLink
	if err := r.db.Preload("File").Where("token = ?", token).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrLinkInaccessible
		}
		return nil, fmt.Errorf("查询分享链接失败: %w", err)
	}
	return &link, nil
}

func (r *shareLinkRepository) ListByFile(fileID uint64) ([]models.ShareLink, error) {
	var links []models.ShareLink
	err := r.db.Where("file_id = ?", fileID).Order("created_at DESC, id DESC").Find(&links).Error
	return links, err
}

func (r *shareLinkRepository) Revoke(id uint64, at time.Time) error {
	return r.db.Model(&models.ShareLink{}).Where("id = ? AND revoked_at IS NULL", id).Update("revoked_at", at).Error
}

func (r *shareLinkRepository) IncrementDownload(id uint64, now time.Time) (int64, error) {
	res := r.db.Model(&models.ShareLink{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Where("max_downloads IS NULL OR download_count < max_downloads").
		UpdateColumn("download_count", gorm.Expr("download_count + ?", 1))
	if res.Error != nil {
		return 0, fmt.Errorf("increment download count: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *shareLinkRepository) DeleteByFiles(fileIDs []uint64) error {
	if len(fileIDs) == 0 {
		return nil
	}
	return r.db.Where("file_id IN ?", fileIDs).Delete(&models.ShareLink{}).Error
}
