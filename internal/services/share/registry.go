package share

import (
	"context"
	"fmt"
	"io"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/audit"
	"github.com/3Eeeecho/go-docstore/internal/pkg/logger"
	"github.com/3Eeeecho/go-docstore/internal/pkg/storage"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/3Eeeecho/go-docstore/internal/repositories"
	"github.com/3Eeeecho/go-docstore/internal/services/access"
	"github.com/3Eeeecho/go-docstore/internal/services/explorer"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Registry 用户授权、部门授权和分享链接
type Registry interface {
	// 用户授权
	ShareFolder(ctx context.Context, actor access.Actor, folderID, targetUserID uint64, perms Permissions) (*models.FolderPermission, error)
	ShareFile(ctx context.Context, actor access.Actor, fileID, targetUserID uint64, perms Permissions) (*models.FilePermission, error)
	ShareToDepartment(ctx context.Context, actor access.Actor, ref ResourceRef, opts DepartmentShareOptions) (*DepartmentShareResult, error)
	RevokeFolderShare(ctx context.Context, actor access.Actor, folderID, userID uint64) error
	RevokeFileShare(ctx context.Context, actor access.Actor, fileID, userID uint64) error
	SelfRevokeFolderShare(ctx context.Context, actor access.Actor, folderID uint64) error
	SelfRevokeFileShare(ctx context.Context, actor access.Actor, fileID uint64) error
	ListFolderGrants(ctx context.Context, actor access.Actor, folderID uint64) ([]models.FolderPermission, error)
	ListFileGrants(ctx context.Context, actor access.Actor, fileID uint64) ([]models.FilePermission, error)

	// 分享链接
	CreateLink(ctx context.Context, actor access.Actor, fileID uint64, opts LinkOptions) (*models.ShareLink, error)
	RevokeLink(ctx context.Context, actor access.Actor, linkID uint64) error
	ListLinks(ctx context.Context, actor access.Actor, fileID uint64) ([]models.ShareLink, error)
	ValidateLink(ctx context.Context, token, password string) (*models.ShareLink, error)
	RegisterDownload(ctx context.Context, linkID uint64) error
	OpenLink(ctx context.Context, token, password string) (*models.ShareLink, io.ReadCloser, error)
}

// Permissions 文件夹使用 Upload，文件使用 Download。Upload 为空时跟随 Edit
type Permissions struct {
	View     bool  `json:"view"`
	Upload   *bool `json:"upload"`
	Download bool  `json:"download"`
	Edit     bool  `json:"edit"`
	Delete   bool  `json:"delete"`
}

func (p Permissions) upload() bool {
	if p.Upload != nil {
		return *p.Upload
	}
	return p.Edit
}

type ResourceKind string

const (
	ResourceFolder ResourceKind = "folder"
	ResourceFile   ResourceKind = "file"
)

type ResourceRef struct {
	Kind ResourceKind
	ID   uint64
}

// DepartmentShareOptions Permissions 为空时只授予查看
type DepartmentShareOptions struct {
	Permissions *Permissions
}

func (o DepartmentShareOptions) permissions() Permissions {
	if o.Permissions == nil {
		return Permissions{View: true}
	}
	return *o.Permissions
}

type DepartmentShareResult struct {
	DepartmentID uint64            `json:"department_id"`
	Visibility   models.Visibility `json:"visibility"`
	Granted      int               `json:"granted"`
}

type registry struct {
	db       *gorm.DB
	tm       explorer.TransactionManager
	resolver *access.Resolver
	disks    *storage.Manager
	audit    audit.Sink
}

var _ Registry = (*registry)(nil)

func NewRegistry(db *gorm.DB, tm explorer.TransactionManager, resolver *access.Resolver, disks *storage.Manager, sink audit.Sink) Registry {
	if tm == nil {
		tm = explorer.NewTransactionManager(db)
	}
	if resolver == nil {
		resolver = access.NewResolver(db)
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	return &registry{db: db, tm: tm, resolver: resolver, disks: disks, audit: sink}
}

func (r *registry) record(ctx context.Context, actorID uint64, action, entityType string, entityID uint64, metadata map[string]any) {
	err := r.audit.Record(ctx, audit.Event{
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   metadata,
	})
	if err != nil {
		logger.Warn("audit record failed", zap.String("action", action), zap.Uint64("entityID", entityID), zap.Error(err))
	}
}

// editableFolder 加锁读取活动文件夹并要求编辑权限
func (r *registry) editableFolder(ctx context.Context, tx *gorm.DB, actor access.Actor, folderID uint64) (*models.Folder, error) {
	folder, err := repositories.NewFolderRepository(tx).ForUpdate().FindByID(folderID)
	if err != nil {
		return nil, err
	}
	if folder.IsDeleted {
		return nil, xerr.ErrItemInTrash
	}
	caps, err := r.resolver.WithTx(tx).Folder(ctx, actor, folder, access.ModeAction)
	if err != nil {
		return nil, err
	}
	if !caps.Edit {
		return nil, xerr.ErrPermissionDenied
	}
	return folder, nil
}

func (r *registry) editableFile(ctx context.Context, tx *gorm.DB, actor access.Actor, fileID uint64) (*models.File, error) {
	file, err := repositories.NewFileRepository(tx).ForUpdate().FindByID(fileID)
	if err != nil {
		return nil, err
	}
	if file.IsDeleted {
		return nil, xerr.ErrItemInTrash
	}
	caps, err := r.resolver.WithTx(tx).File(ctx, actor, file, access.ModeAction)
	if err != nil {
		return nil, err
	}
	if !caps.Edit {
		return nil, xerr.ErrPermissionDenied
	}
	return file, nil
}

func (r *registry) requireTarget(tx *gorm.DB, actor access.Actor, targetUserID uint64) error {
	if targetUserID == actor.UserID {
		return xerr.WithField("user_id", fmt.Errorf("%w: cannot share with yourself", xerr.ErrValidationFailed))
	}
	_, err := repositories.NewUserRepository(tx).FindByID(targetUserID)
	return err
}

func (r *registry) ShareFolder(ctx context.Context, actor access.Actor, folderID, targetUserID uint64, perms Permissions) (*models.FolderPermission, error) {
	var grant *models.FolderPermission
	err := r.tm.WithTransaction(ctx, func(tx *gorm.DB) error {
		if _, err := r.editableFolder(ctx, tx, actor, folderID); err != nil {
			return err
		}
		if err := r.requireTarget(tx, actor, targetUserID); err != nil {
			return err
		}
		grant = &models.FolderPermission{
			FolderID:  folderID,
			UserID:    targetUserID,
			CanView:   perms.View,
			CanUpload: perms.upload(),
			CanEdit:   perms.Edit,
			CanDelete: perms.Delete,
			GrantedBy: actor.UserID,
		}
		if err := repositories.NewPermissionRepository(tx).UpsertFolder(grant); err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.record(ctx, actor.UserID, audit.ActionShareGrant, audit.EntityFolder, folderID, map[string]any{"user_id": targetUserID, "permissions": perms})
	return grant, nil
}

func (r *registry) ShareFile(ctx context.Context, actor access.Actor, fileID, targetUserID uint64, perms Permissions) (*models.FilePermission, error) {
	var grant *models.FilePermission
	err := r.tm.WithTransaction(ctx, func(tx *gorm.DB) error {
		if _, err := r.editableFile(ctx, tx, actor, fileID); err != nil {
			return err
		}
		if err := r.requireTarget(tx, actor, targetUserID); err != nil {
			return err
		}
		grant = &models.FilePermission{
			FileID:      fileID,
			UserID:      targetUserID,
			CanView:     perms.View,
			CanDownload: perms.Download,
			CanEdit:     perms.Edit,
			CanDelete:   perms.Delete,
			GrantedBy:   actor.UserID,
		}
		if err := repositories.NewPermissionRepository(tx).UpsertFile(grant); err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.record(ctx, actor.UserID, audit.ActionShareGrant, audit.EntityFile, fileID, map[string]any{"user_id": targetUserID, "permissions": perms})
	return grant, nil
}

// ShareToDepartment 修改可见性后给部门内所有在职用户逐个授权，不包括操作者本人
func (r *registry) ShareToDepartment(ctx context.Context, actor access.Actor, ref ResourceRef, opts DepartmentShareOptions) (*DepartmentShareResult, error) {
	deptID, ok := actor.Department()
	if !ok {
		return nil, xerr.ErrNoDepartment
	}
	perms := opts.permissions()

	result := &DepartmentShareResult{DepartmentID: deptID}
	err := r.tm.WithTransaction(ctx, func(tx *gorm.DB) error {
		permRepo := repositories.NewPermissionRepository(tx)
		members, err := repositories.NewUserRepository(tx).ActiveDepartmentMembers(deptID, actor.UserID)
		if err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}

		switch ref.Kind {
		case ResourceFolder:
			folder, err := r.editableFolder(ctx, tx, actor, ref.ID)
			if err != nil {
				return err
			}
			result.Visibility = folder.Visibility
			if folder.Visibility == models.VisibilityPrivate {
				result.Visibility = models.VisibilityShared
				if err := repositories.NewFolderRepository(tx).Update(folder.ID, map[string]any{"visibility": result.Visibility}); err != nil {
					return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
				}
			}
			for _, userID := range members {
				err := permRepo.UpsertFolder(&models.FolderPermission{
					FolderID:  folder.ID,
					UserID:    userID,
					CanView:   perms.View,
					CanUpload: perms.upload(),
					CanEdit:   perms.Edit,
					CanDelete: perms.Delete,
					GrantedBy: actor.UserID,
				})
				if err != nil {
					return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
				}
			}
		case ResourceFile:
			file, err := r.editableFile(ctx, tx, actor, ref.ID)
			if err != nil {
				return err
			}
			result.Visibility = models.VisibilityDepartment
			if err := repositories.NewFileRepository(tx).Update(file.ID, map[string]any{"visibility": result.Visibility}); err != nil {
				return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
			}
			for _, userID := range members {
				err := permRepo.UpsertFile(&models.FilePermission{
					FileID:      file.ID,
					UserID:      userID,
					CanView:     perms.View,
					CanDownload: perms.Download,
					CanEdit:     perms.Edit,
					CanDelete:   perms.Delete,
					GrantedBy:   actor.UserID,
				})
				if err != nil {
					return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
				}
			}
		default:
			return xerr.WithField("type", fmt.Errorf("%w: unknown resource kind %q", xerr.ErrValidationFailed, ref.Kind))
		}
		result.Granted = len(members)
		return nil
	})
	if err != nil {
		logger.Warn("ShareToDepartment failed", zap.String("kind", string(ref.Kind)), zap.Uint64("id", ref.ID), zap.Error(err))
		return nil, err
	}

	entity := audit.EntityFolder
	if ref.Kind == ResourceFile {
		entity = audit.EntityFile
	}
	r.record(ctx, actor.UserID, audit.ActionShareDept, entity, ref.ID, map[string]any{
		"department_id": deptID,
		"granted":       result.Granted,
		"permissions":   perms,
	})
	return result, nil
}

func (r *registry) RevokeFolderShare(ctx context.Context, actor access.Actor, folderID, userID uint64) error {
	err := r.tm.WithTransaction(ctx, func(tx *gorm.DB) error {
		if _, err := r.editableFolder(ctx, tx, actor, folderID); err != nil {
			return err
		}
		return deleteGrant(repositories.NewPermissionRepository(tx).DeleteFolderGrant(folderID, userID))
	})
	if err != nil {
		return err
	}
	r.record(ctx, actor.UserID, audit.ActionShareRevoke, audit.EntityFolder, folderID, map[string]any{"user_id": userID})
	return nil
}

func (r *registry) RevokeFileShare(ctx context.Context, actor access.Actor, fileID, userID uint64) error {
	err := r.tm.WithTransaction(ctx, func(tx *gorm.DB) error {
		if _, err := r.editableFile(ctx, tx, actor, fileID); err != nil {
			return err
		}
		return deleteGrant(repositories.NewPermissionRepository(tx).DeleteFileGrant(fileID, userID))
	})
	if err != nil {
		return err
	}
	r.record(ctx, actor.UserID, audit.ActionShareRevoke, audit.EntityFile, fileID, map[string]any{"user_id": userID})
	return nil
}

// SelfRevokeFolderShare 只能删除自己的授权，不需要资源上的其他权限
func (r *registry) SelfRevokeFolderShare(ctx context.Context, actor access.Actor, folderID uint64) error {
	db := r.db.WithContext(ctx)
	if err := deleteGrant(repositories.NewPermissionRepository(db).DeleteFolderGrant(folderID, actor.UserID)); err != nil {
		return err
	}
	r.record(ctx, actor.UserID, audit.ActionShareRevoke, audit.EntityFolder, folderID, map[string]any{"user_id": actor.UserID, "self": true})
	return nil
}

func (r *registry) SelfRevokeFileShare(ctx context.Context, actor access.Actor, fileID uint64) error {
	db := r.db.WithContext(ctx)
	if err := deleteGrant(repositories.NewPermissionRepository(db).DeleteFileGrant(fileID, actor.UserID)); err != nil {
		return err
	}
	r.record(ctx, actor.UserID, audit.ActionShareRevoke, audit.EntityFile, fileID, map[string]any{"user_id": actor.UserID, "self": true})
	return nil
}

func deleteGrant(rows int64, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	if rows == 0 {
		return xerr.ErrGrantNotFound
	}
	return nil
}

func (r *registry) ListFolderGrants(ctx context.Context, actor access.Actor, folderID uint64) ([]models.FolderPermission, error) {
	db := r.db.WithContext(ctx)
	folder, err := repositories.NewFolderRepository(db).FindByID(folderID)
	if err != nil {
		return nil, err
	}
	caps, err := r.resolver.Folder(ctx, actor, folder, access.ModeAction)
	if err != nil {
		return nil, err
	}
	if !caps.Edit {
		return nil, xerr.ErrPermissionDenied
	}
	grants, err := repositories.NewPermissionRepository(db).ListFolderGrants(folderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	return grants, nil
}

func (r *registry) ListFileGrants(ctx context.Context, actor access.Actor, fileID uint64) ([]models.FilePermission, error) {
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
	grants, err := repositories.NewPermissionRepository(db).ListFileGrants(fileID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	return grants, nil
}
