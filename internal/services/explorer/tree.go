package explorer

import (
	"context"
	"fmt"
	"io"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/audit"
	"github.com/3Eeeecho/go-docstore/internal/pkg/logger"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/3Eeeecho/go-docstore/internal/repositories"
	"github.com/3Eeeecho/go-docstore/internal/services/access"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TreeService 文件夹和文件的结构变更，每个操作一个事务，涉及的行都加锁
type TreeService interface {
	// 文件夹
	CreateFolder(ctx context.Context, actor access.Actor, req CreateFolderRequest) (*models.Folder, error)
	RenameFolder(ctx context.Context, actor access.Actor, folderID uint64, name string) (*models.Folder, error)
	MoveFolder(ctx context.Context, actor access.Actor, folderID uint64, destID *uint64) (*models.Folder, error)

	// 文件
	RenameFile(ctx context.Context, actor access.Actor, fileID uint64, name string) (*models.File, error)
	MoveFile(ctx context.Context, actor access.Actor, fileID, destFolderID uint64) (*models.File, error)

	// 上传与版本
	UploadFile(ctx context.Context, actor access.Actor, req UploadRequest) (*models.File, error)
	ReplaceFile(ctx context.Context, actor access.Actor, fileID uint64, req UploadRequest) (*models.File, error)
	ListVersions(ctx context.Context, actor access.Actor, fileID uint64) ([]models.FileVersion, error)
	RestoreVersion(ctx context.Context, actor access.Actor, fileID, versionID uint64) (*models.File, error)
	OpenFile(ctx context.Context, actor access.Actor, fileID uint64) (*models.File, io.ReadCloser, error)
}

type treeService struct {
	Deps
}

var _ TreeService = (*treeService)(nil)

func NewTreeService(deps Deps) TreeService {
	return &treeService{Deps: deps.withDefaults()}
}

type CreateFolderRequest struct {
	ParentID   *uint64 `json:"parent_id"`
	Name       string  `json:"name"`
	Department bool    `json:"department"`
}

func (r CreateFolderRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, nameRules...),
	)
}

func (s *treeService) CreateFolder(ctx context.Context, actor access.Actor, req CreateFolderRequest) (*models.Folder, error) {
	if err := asValidationError(req.Validate()); err != nil {
		return nil, err
	}

	var created *models.Folder
	err := s.TM.WithTransaction(ctx, func(tx *gorm.DB) error {
		folders := repositories.NewFolderRepository(tx).ForUpdate()
		folder := &models.Folder{Name: req.Name, CreatedBy: actor.UserID}

		switch {
		case req.ParentID != nil:
			parent, err := lockActiveFolder(folders, *req.ParentID, xerr.ErrDestinationTrashed)
			if err != nil {
				return err
			}
			caps, err := s.Resolver.WithTx(tx).Folder(ctx, actor, parent, access.ModeAction)
			if err != nil {
				return err
			}
			if !caps.Upload {
				return xerr.ErrPermissionDenied
			}
			// 子文件夹继承父目录的归属和可见性
			folder.ParentID = &parent.ID
			folder.SetScope(parent.Scope())
			folder.Visibility = parent.Visibility
			folder.Path = parent.ChildPath(req.Name)
		case req.Department:
			if !actor.Can(access.CapFoldersCreateDept) {
				return xerr.ErrScopeForbidden
			}
			scope, ok := actor.DepartmentScope()
			if !ok {
				return xerr.ErrDepartmentMissing
			}
			folder.SetScope(scope)
			folder.Visibility = models.VisibilityDepartment
			folder.Path = req.Name
		default:
			folder.SetScope(actor.PrivateScope())
			folder.Visibility = models.VisibilityPrivate
			folder.Path = req.Name
		}

		if err := lockRootLevel(tx, folder.ParentID, folder.Scope()); err != nil {
			return err
		}
		existing, err := folders.FindActiveSibling(folder.ParentID, folder.Name, folder.Scope(), 0)
		if err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		if existing != nil {
			return xerr.ErrNameConflict
		}
		if err := folders.Create(folder); err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		created = folder
		return nil
	})
	if err != nil {
		logger.Warn("CreateFolder failed", zap.Uint64("userID", actor.UserID), zap.String("name", req.Name), zap.Error(err))
		return nil, err
	}

	logger.Info("Folder created", zap.Uint64("folderID", created.ID), zap.String("path", created.Path))
	s.record(ctx, actor, audit.ActionFolderCreate, audit.EntityFolder, created.ID, map[string]any{
		"name":      created.Name,
		"parent_id": created.ParentID,
		"scope":     created.Scope().String(),
	})
	return created, nil
}

func (s *treeService) RenameFolder(ctx context.Context, actor access.Actor, folderID uint64, name string) (*models.Folder, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	var folder *models.Folder
	var oldName string
	err := s.TM.WithTransaction(ctx, func(tx *gorm.DB) error {
		folders := repositories.NewFolderRepository(tx).ForUpdate()
		f, err := lockActiveFolder(folders, folderID, xerr.ErrItemInTrash)
		if err != nil {
			return err
		}
		caps, err := s.Resolver.WithTx(tx).Folder(ctx, actor, f, access.ModeAction)
		if err != nil {
			return err
		}
		if !caps.Edit {
			return xerr.ErrPermissionDenied
		}
		oldName = f.Name
		folder = f
		if f.Name == name {
			return nil
		}

		if err := lockRootLevel(tx, f.ParentID, f.Scope()); err != nil {
			return err
		}
		existing, err := folders.FindActiveSibling(f.ParentID, name, f.Scope(), f.ID)
		if err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		if existing != nil {
			return xerr.ErrNameConflict
		}

		parentPath := ""
		if f.ParentID != nil {
			parent, err := folders.FindByID(*f.ParentID)
			if err != nil {
				return err
			}
			parentPath = parent.Path
		}
		newPath := models.JoinPath(parentPath, name)
		if err := folders.Update(f.ID, map[string]any{"name": name, "path": newPath}); err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		if err := rewriteDescendantPaths(folders, f.ID, newPath); err != nil {
			return err
		}
		f.Name, f.Path = name, newPath
		return nil
	})
	if err != nil {
		return nil, err
	}

	if oldName != name {
		s.record(ctx, actor, audit.ActionFolderRename, audit.EntityFolder, folder.ID, map[string]any{"from": oldName, "to": name})
	}
	return folder, nil
}

func (s *treeService) MoveFolder(ctx context.Context, actor access.Actor, folderID uint64, destID *uint64) (*models.Folder, error) {
	var folder *models.Folder
	var moved bool
	err := s.TM.WithTransaction(ctx, func(tx *gorm.DB) error {
		folders := repositories.NewFolderRepository(tx).ForUpdate()
		resolver := s.Resolver.WithTx(tx)
		f, err := lockActiveFolder(folders, folderID, xerr.ErrItemInTrash)
		if err != nil {
			return err
		}
		caps, err := resolver.Folder(ctx, actor, f, access.ModeAction)
		if err != nil {
			return err
		}
		if !caps.Edit {
			return xerr.ErrPermissionDenied
		}
		folder = f

		parentPath := ""
		if destID != nil {
			// 完整子树判断，不只看直接子目录
			layers, err := subtreeLayers(folders, f.ID)
			if err != nil {
				return err
			}
			if containsID(flattenLayers(layers), *destID) {
				return xerr.ErrCycleDetected
			}
			dest, err := folders.FindByID(*destID)
			if err != nil {
				return err
			}
			if dest.IsDeleted {
				return xerr.ErrDestinationTrashed
			}
			if !dest.Scope().Equal(f.Scope()) {
				return xerr.ErrScopeMismatch
			}
			destCaps, err := resolver.Folder(ctx, actor, dest, access.ModeAction)
			if err != nil {
				return err
			}
			if !destCaps.Upload {
				return xerr.ErrPermissionDenied
			}
			parentPath = dest.Path
		}

		if sameParent(f.ParentID, destID) {
			return nil
		}
		if err := lockRootLevel(tx, destID, f.Scope()); err != nil {
			return err
		}
		existing, err := folders.FindActiveSibling(destID, f.Name, f.Scope(), f.ID)
		if err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		if existing != nil {
			return xerr.ErrNameConflict
		}

		newPath := models.JoinPath(parentPath, f.Name)
		if err := folders.Update(f.ID, map[string]any{"parent_id": destID, "path": newPath}); err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		if err := rewriteDescendantPaths(folders, f.ID, newPath); err != nil {
			return err
		}
		f.ParentID, f.Path = destID, newPath
		moved = true
		return nil
	})
	if err != nil {
		logger.Warn("MoveFolder failed", zap.Uint64("folderID", folderID), zap.Error(err))
		return nil, err
	}

	if moved {
		s.record(ctx, actor, audit.ActionFolderMove, audit.EntityFolder, folder.ID, map[string]any{"destination_id": destID, "path": folder.Path})
	}
	return folder, nil
}

func sameParent(a, b *uint64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *treeService) RenameFile(ctx context.Context, actor access.Actor, fileID uint64, name string) (*models.File, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	var file *models.File
	var oldName string
	err := s.TM.WithTransaction(ctx, func(tx *gorm.DB) error {
		files := repositories.NewFileRepository(tx).ForUpdate()
		f, err := lockActiveFile(files, fileID, xerr.ErrItemInTrash)
		if err != nil {
			return err
		}
		caps, err := s.Resolver.WithTx(tx).File(ctx, actor, f, access.ModeAction)
		if err != nil {
			return err
		}
		if !caps.Edit {
			return xerr.ErrPermissionDenied
		}
		oldName = f.Name
		file = f
		if f.Name == name {
			return nil
		}

		existing, err := files.FindActiveSibling(f.FolderID, name, f.ID)
		if err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		if existing != nil {
			return xerr.ErrNameConflict
		}
		if err := files.Update(f.ID, map[string]any{"name": name}); err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		f.Name = name
		return nil
	})
	if err != nil {
		return nil, err
	}

	if oldName != name {
		s.record(ctx, actor, audit.ActionFileRename, audit.EntityFile, file.ID, map[string]any{"from": oldName, "to": name})
	}
	return file, nil
}

func (s *treeService) MoveFile(ctx context.Context, actor access.Actor, fileID, destFolderID uint64) (*models.File, error) {
	var file *models.File
	var moved bool
	err := s.TM.WithTransaction(ctx, func(tx *gorm.DB) error {
		files := repositories.NewFileRepository(tx).ForUpdate()
		folders := repositories.NewFolderRepository(tx).ForUpdate()
		resolver := s.Resolver.WithTx(tx)

		f, err := lockActiveFile(files, fileID, xerr.ErrItemInTrash)
		if err != nil {
			return err
		}
		caps, err := resolver.File(ctx, actor, f, access.ModeAction)
		if err != nil {
			return err
		}
		if !caps.Edit {
			return xerr.ErrPermissionDenied
		}
		file = f

		dest, err := lockActiveFolder(folders, destFolderID, xerr.ErrDestinationTrashed)
		if err != nil {
			return err
		}
		destCaps, err := resolver.Folder(ctx, actor, dest, access.ModeAction)
		if err != nil {
			return err
		}
		if !destCaps.Upload {
			return xerr.ErrPermissionDenied
		}
		if dest.ID == f.FolderID {
			return nil
		}

		existing, err := files.FindActiveSibling(dest.ID, f.Name, f.ID)
		if err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		if existing != nil {
			return xerr.ErrNameConflict
		}

		// 归属和可见性跟随目标文件夹
		f.FolderID = dest.ID
		f.SetScope(dest.Scope())
		f.Visibility = dest.Visibility
		err = files.Update(f.ID, map[string]any{
			"folder_id":     f.FolderID,
			"owner_user_id": f.OwnerUserID,
			"department_id": f.DepartmentID,
			"visibility":    f.Visibility,
		})
		if err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		moved = true
		return nil
	})
	if err != nil {
		logger.Warn("MoveFile failed", zap.Uint64("fileID", fileID), zap.Uint64("destFolderID", destFolderID), zap.Error(err))
		return nil, err
	}

	if moved {
		s.record(ctx, actor, audit.ActionFileMove, audit.EntityFile, file.ID, map[string]any{"folder_id": destFolderID})
	}
	return file, nil
}
