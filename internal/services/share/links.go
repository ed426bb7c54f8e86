package share

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/audit"
	"github.com/3Eeeecho/go-docstore/internal/pkg/logger"
	"github.com/3Eeeecho/go-docstore/internal/pkg/utils"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/3Eeeecho/go-docstore/internal/repositories"
	"github.com/3Eeeecho/go-docstore/internal/services/access"
	"github.com/3Eeeecho/go-docstore/internal/services/explorer"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 分享链接 token 的随机字节数，十六进制编码后为 64 个字符
const linkTokenBytes = 32

// LinkOptions 都是可选项
type LinkOptions struct {
	ExpiresAt    *time.Time `json:"expires_at"`
	MaxDownloads *uint32    `json:"max_downloads"`
	Password     *string    `json:"password"`
}

func (o LinkOptions) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.ExpiresAt, validation.By(inFuture)),
		validation.Field(&o.MaxDownloads, validation.NilOrNotEmpty, validation.Min(uint32(1))),
		// bcrypt 只使用前 72 字节
		validation.Field(&o.Password, validation.NilOrNotEmpty, validation.Length(4, 72)),
	)
}

func inFuture(value any) error {
	t, ok := value.(*time.Time)
	if !ok || t == nil {
		return nil
	}
	if !t.After(time.Now()) {
		return errors.New("must be in the future")
	}
	return nil
}

func linkValidationError(err error) error {
	var errs validation.Errors
	if errors.As(err, &errs) {
		for _, field := range []string{"expires_at", "max_downloads", "password"} {
			if _, ok := errs[field]; ok {
				return xerr.WithField(field, fmt.Errorf("%w: %v", xerr.ErrValidationFailed, err))
			}
		}
	}
	return fmt.Errorf("%w: %v", xerr.ErrValidationFailed, err)
}

func (r *registry) CreateLink(ctx context.Context, actor access.Actor, fileID uint64, opts LinkOptions) (*models.ShareLink, error) {
	if err := opts.Validate(); err != nil {
		return nil, linkValidationError(err)
	}

	token, err := utils.RandomToken(linkTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerr.ErrInternalServer, err)
	}
	link := &models.ShareLink{
		FileID:       fileID,
		Token:        token,
		CreatedBy:    actor.UserID,
		MaxDownloads: opts.MaxDownloads,
	}
	if opts.ExpiresAt != nil {
		at := opts.ExpiresAt.UTC()
		link.ExpiresAt = &at
	}
	if opts.Password != nil {
		hash, err := utils.HashPassword(*opts.Password)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", xerr.ErrInternalServer, err)
		}
		link.PasswordHash = &hash
	}

	err = r.tm.WithTransaction(ctx, func(tx *gorm.DB) error {
		if _, err := r.editableFile(ctx, tx, actor, fileID); err != nil {
			return err
		}
		if err := repositories.NewShareLinkRepository(tx).Create(link); err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.record(ctx, actor.UserID, audit.ActionLinkCreate, audit.EntityLink, link.ID, map[string]any{
		"file_id":       fileID,
		"expires_at":    link.ExpiresAt,
		"max_downloads": link.MaxDownloads,
		"password":      link.HasPassword(),
	})
	return link, nil
}

func (r *registry) RevokeLink(ctx context.Context, actor access.Actor, linkID uint64) error {
	err := r.tm.WithTransaction(ctx, func(tx *gorm.DB) error {
		links := repositories.NewShareLinkRepository(tx)
		link, err := links.FindByID(linkID)
		if err != nil {
			return err
		}
		file, err := repositories.NewFileRepository(tx).FindByID(link.FileID)
		if err != nil {
			return err
		}
		caps, err := r.resolver.WithTx(tx).File(ctx, actor, file, access.ModeAction)
		if err != nil {
			return err
		}
		if !caps.Edit {
			return xerr.ErrPermissionDenied
		}
		if link.IsRevoked() {
			return nil
		}
		if err := links.Revoke(link.ID, time.Now().UTC()); err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.record(ctx, actor.UserID, audit.ActionLinkRevoke, audit.EntityLink, linkID, nil)
	return nil
}

func (r *registry) ListLinks(ctx context.Context, actor access.Actor, fileID uint64) ([]models.ShareLink, error) {
	db := r.db.WithContext(ctx)
	file, err := repositories.NewFileRepository(db).FindByID(fileID)
	if err != nil {
		return nil, err
	}
	caps, err := r.resolver.File(ctx, actor, file, access.ModeAction)
	if err != nil {
		return nil, err
	}
	if !caps.Edit {
		return nil, xerr.ErrPermissionDenied
	}
	links, err := repositories.NewShareLinkRepository(db).ListByFile(fileID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	return links, nil
}

// ValidateLink 不修改下载次数。密码在可用性检查之后比较
func (r *registry) ValidateLink(ctx context.Context, token, password string) (*models.ShareLink, error) {
	if token == "" {
		return nil, xerr.ErrLinkInaccessible
	}
	link, err := repositories.NewShareLinkRepository(r.db.WithContext(ctx)).FindByToken(token)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	switch {
	case link.IsRevoked(), link.IsExpired(now), link.File == nil, link.File.IsDeleted:
		return nil, xerr.ErrLinkInaccessible
	case link.LimitReached():
		return nil, xerr.ErrLinkDownloadLimitReached
	}
	if link.HasPassword() && !utils.CheckPasswordHash(password, *link.PasswordHash) {
		return nil, xerr.ErrLinkPasswordMismatch
	}
	return link, nil
}

// RegisterDownload 条件自增，并发下不会超过上限
func (r *registry) RegisterDownload(ctx context.Context, linkID uint64) error {
	links := repositories.NewShareLinkRepository(r.db.WithContext(ctx))
	rows, err := links.IncrementDownload(linkID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	if rows > 0 {
		return nil
	}

	link, err := links.FindByID(linkID)
	if err != nil {
		return err
	}
	if link.IsRevoked() || link.IsExpired(time.Now()) {
		return xerr.ErrLinkInaccessible
	}
	return xerr.ErrLinkDownloadLimitReached
}

// OpenLink 先打开内容再计数，内容丢失不消耗下载次数
func (r *registry) OpenLink(ctx context.Context, token, password string) (*models.ShareLink, io.ReadCloser, error) {
	link, err := r.ValidateLink(ctx, token, password)
	if err != nil {
		return nil, nil, err
	}
	rc, err := explorer.OpenContent(ctx, r.disks, link.File.Disk, link.File.ContentKey)
	if err != nil {
		logger.Warn("OpenLink: content unavailable", zap.Uint64("linkID", link.ID), zap.Uint64("fileID", link.FileID), zap.Error(err))
		return nil, nil, err
	}
	if err := r.RegisterDownload(ctx, link.ID); err != nil {
		_ = rc.Close()
		return nil, nil, err
	}
	link.DownloadCount++

	r.record(ctx, link.CreatedBy, audit.ActionLinkDownload, audit.EntityLink, link.ID, map[string]any{
		"file_id":        link.FileID,
		"download_count": link.DownloadCount,
	})
	return link, rc, nil
}
