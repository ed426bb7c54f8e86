package explorer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/audit"
	"github.com/3Eeeecho/go-docstore/internal/pkg/logger"
	"github.com/3Eeeecho/go-docstore/internal/pkg/storage"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/3Eeeecho/go-docstore/internal/repositories"
	"github.com/3Eeeecho/go-docstore/internal/services/access"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LifecycleService 回收站相关操作：软删除、恢复、彻底删除
type LifecycleService interface {
	DeleteFolder(ctx context.Context, actor access.Actor, folderID uint64) error
	DeleteFile(ctx context.Context, actor access.Actor, fileID uint64) error
	RestoreFolder(ctx context.Context, actor access.Actor, folderID uint64) (*models.Folder, error)
	RestoreFile(ctx context.Context, actor access.Actor, fileID uint64) (*models.File, error)
	PurgeFolder(ctx context.Context, actor access.Actor, folderID uint64) error
	PurgeFile(ctx context.Context, actor access.Actor, fileID uint64) error
	// EmptyTrash 彻底删除回收站中所有可删除的条目，每个条目一个事务
	EmptyTrash(ctx context.Context, actor access.Actor) (*EmptyTrashResult, error)
}

type EmptyTrashResult struct {
	Folders int `json:"folders"`
	Files   int `json:"files"`
}

type lifecycleService struct {
	Deps
}

var _ LifecycleService = (*lifecycleService)(nil)

func NewLifecycleService(deps Deps) LifecycleService {
	return &lifecycleService{Deps: deps.withDefaults()}
}

// trashScopes 私有空间总是包含；持有删除角色时再加上所在部门
func trashScopes(actor access.Actor) []models.Scope {
	scopes := []models.Scope{actor.PrivateScope()}
	if dept, ok := actor.DepartmentScope(); ok && (actor.Can(access.CapFoldersDelete) || actor.Can(access.CapFilesDelete)) {
		scopes = append(scopes, dept)
	}
	return scopes
}

func (s *lifecycleService) DeleteFolder(ctx context.Context, actor access.Actor, folderID uint64) error {
	var count int
	err := s.TM.WithTransaction(ctx, func(tx *gorm.DB) error {
		folders := repositories.NewFolderRepository(tx).ForUpdate()
		folder, err := lockActiveFolder(folders, folderID, xerr.ErrItemInTrash)
		if err != nil {
			return err
		}
		caps, err := s.Resolver.WithTx(tx).Folder(ctx, actor, folder, access.ModeAction)
		if err != nil {
			return err
		}
		if !caps.Delete {
			return xerr.ErrPermissionDenied
		}

		layers, err := subtreeLayers(folders, folder.ID)
		if err != nil {
			return err
		}
		ids := flattenLayers(layers)
		count = len(ids)

		// 整棵子树共用一个删除时间
		now := time.Now()
		if err := folders.MarkDeleted(ids, now); err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		if err := repositories.NewFileRepository(tx).MarkActiveDeletedInFolders(ids, now); err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		return nil
	})
	if err != nil {
		logger.Warn("DeleteFolder failed", zap.Uint64("folderID", folderID), zap.Error(err))
		return err
	}

	logger.Info("Folder moved to trash", zap.Uint64("folderID", folderID), zap.Int("folders", count))
	s.record(ctx, actor, audit.ActionFolderDelete, audit.EntityFolder, folderID, map[string]any{"folders": count})
	return nil
}

func (s *lifecycleService) DeleteFile(ctx context.Context, actor access.Actor, fileID uint64) error {
	err := s.TM.WithTransaction(ctx, func(tx *gorm.DB) error {
		files := repositories.NewFileRepository(tx).ForUpdate()
		file, err := lockActiveFile(files, fileID, xerr.ErrItemInTrash)
		if err != nil {
			return err
		}
		caps, err := s.Resolver.WithTx(tx).File(ctx, actor, file, access.ModeAction)
		if err != nil {
			return err
		}
		if !caps.Delete {
			return xerr.ErrPermissionDenied
		}
		if err := files.MarkDeleted(file.ID, time.Now()); err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.record(ctx, actor, audit.ActionFileDelete, audit.EntityFile, fileID, nil)
	return nil
}

// restoreAncestors 第一遍从直接父目录向上收集已删除的祖先，由内向外检查名称冲突，
// 全部通过后才一次性恢复。返回恢复的祖先 id
func restoreAncestors(folders repositories.FolderRepository, start *uint64) ([]uint64, error) {
	var deleted []*models.Folder
	visited := make(map[uint64]struct{})
	for cur := start; cur != nil; {
		if _, ok := visited[*cur]; ok {
			break
		}
		visited[*cur] = struct{}{}
		ancestor, err := folders.FindByID(*cur)
		if errors.Is(err, xerr.ErrFolderNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		if ancestor.IsDeleted {
			deleted = append(deleted, ancestor)
		}
		cur = ancestor.ParentID
	}

	for _, a := range deleted {
		existing, err := folders.FindActiveSibling(a.ParentID, a.Name, a.Scope(), a.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		if existing != nil {
			logger.Info("restore blocked by ancestor name conflict",
				zap.Uint64("ancestorID", a.ID),
				zap.String("name", a.Name),
				zap.Uint64("conflictID", existing.ID))
			return nil, xerr.ErrRestoreConflict
		}
	}

	ids := make([]uint64, 0, len(deleted))
	for _, a := range deleted {
		ids = append(ids, a.ID)
	}
	if err := folders.Restore(ids); err != nil {
		return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	return ids, nil
}

// restoreFolderRow 恢复单个文件夹，与活动的同级文件夹重名时加 (restored N) 后缀并重算后代路径。
// 未删除的行直接跳过
func restoreFolderRow(folders repositories.FolderRepository, id uint64) (renamed bool, err error) {
	f, err := folders.FindByID(id)
	if err != nil {
		return false, err
	}
	if !f.IsDeleted {
		return false, nil
	}
	name, err := uniqueFolderName(folders, f.ParentID, f.Name, f.Scope(), f.ID, restoredName)
	if err != nil {
		return false, err
	}
	if name != f.Name {
		parentPath := ""
		if f.ParentID != nil {
			parent, err := folders.FindByID(*f.ParentID)
			if err != nil {
				return false, err
			}
			parentPath = parent.Path
		}
		newPath := models.JoinPath(parentPath, name)
		if err := folders.Update(f.ID, map[string]any{"name": name, "path": newPath}); err != nil {
			return false, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		if err := rewriteDescendantPaths(folders, f.ID, newPath); err != nil {
			return false, err
		}
		renamed = true
	}
	if err := folders.Restore([]uint64{f.ID}); err != nil {
		return false, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	return renamed, nil
}

// restoreFiles 逐个恢复，与已恢复或原本活动的同名文件冲突时加 (restored N) 后缀
func restoreFiles(files repositories.FileRepository, deleted []models.File) (renamed int, err error) {
	for i := range deleted {
		f := &deleted[i]
		name, err := uniqueFileName(files, f.FolderID, f.Name, f.ID, restoredName)
		if err != nil {
			return renamed, err
		}
		fields := map[string]any{"is_deleted": false, "deleted_at": nil}
		if name != f.Name {
			fields["name"] = name
			renamed++
		}
		if err := files.Update(f.ID, fields); err != nil {
			return renamed, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		f.Name, f.IsDeleted, f.DeletedAt = name, false, nil
	}
	return renamed, nil
}

func (s *lifecycleService) RestoreFolder(ctx context.Context, actor access.Actor, folderID uint64) (*models.Folder, error) {
	var folder *models.Folder
	var ancestors []uint64
	var renamedFiles, renamedFolders int
	err := s.TM.WithTransaction(ctx, func(tx *gorm.DB) error {
		folders := repositories.NewFolderRepository(tx).ForUpdate()
		files := repositories.NewFileRepository(tx).ForUpdate()

		f, err := folders.FindByID(folderID)
		if err != nil {
			return err
		}
		if !f.IsDeleted {
			return xerr.ErrNotInTrash
		}
		caps, err := s.Resolver.WithTx(tx).Folder(ctx, actor, f, access.ModeAction)
		if err != nil {
			return err
		}
		if !caps.Delete {
			return xerr.ErrPermissionDenied
		}

		// 祖先链可能一直到根，先锁归属行
		if err := repositories.NewUserRepository(tx).LockScope(f.Scope()); err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		if ancestors, err = restoreAncestors(folders, f.ParentID); err != nil {
			return err
		}

		// 第二遍：按 BFS 顺序逐个恢复子树中的文件夹，父目录先于子目录
		layers, err := subtreeLayers(folders, f.ID)
		if err != nil {
			return err
		}
		ids := flattenLayers(layers)
		for _, id := range ids {
			renamed, err := restoreFolderRow(folders, id)
			if err != nil {
				return err
			}
			if renamed {
				renamedFolders++
			}
		}
		if f, err = folders.FindByID(folderID); err != nil {
			return err
		}

		deletedFlag := true
		deletedFiles, err := files.ListByFolders(ids, &deletedFlag)
		if err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		if renamedFiles, err = restoreFiles(files, deletedFiles); err != nil {
			return err
		}

		folder = f
		return nil
	})
	if err != nil {
		logger.Warn("RestoreFolder failed", zap.Uint64("folderID", folderID), zap.Error(err))
		return nil, err
	}

	s.record(ctx, actor, audit.ActionFolderRestore, audit.EntityFolder, folder.ID, map[string]any{
		"restored_ancestors": ancestors,
		"renamed_files":      renamedFiles,
		"renamed_folders":    renamedFolders,
		"name":               folder.Name,
	})
	return folder, nil
}

func (s *lifecycleService) RestoreFile(ctx context.Context, actor access.Actor, fileID uint64) (*models.File, error) {
	var file *models.File
	var ancestors []uint64
	err := s.TM.WithTransaction(ctx, func(tx *gorm.DB) error {
		folders := repositories.NewFolderRepository(tx).ForUpdate()
		files := repositories.NewFileRepository(tx).ForUpdate()

		f, err := files.FindByID(fileID)
		if err != nil {
			return err
		}
		if !f.IsDeleted {
			return xerr.ErrNotInTrash
		}
		caps, err := s.Resolver.WithTx(tx).File(ctx, actor, f, access.ModeAction)
		if err != nil {
			return err
		}
		if !caps.Delete {
			return xerr.ErrPermissionDenied
		}

		folderID := f.FolderID
		if ancestors, err = restoreAncestors(folders, &folderID); err != nil {
			return err
		}
		restored := []models.File{*f}
		if _, err := restoreFiles(files, restored); err != nil {
			return err
		}
		file = &restored[0]
		return nil
	})
	if err != nil {
		logger.Warn("RestoreFile failed", zap.Uint64("fileID", fileID), zap.Error(err))
		return nil, err
	}

	s.record(ctx, actor, audit.ActionFileRestore, audit.EntityFile, file.ID, map[string]any{
		"restored_ancestors": ancestors,
		"name":               file.Name,
	})
	return file, nil
}

// purgeRows 删除文件及其关联行，返回需要在提交后删除的内容对象
func purgeRows(tx *gorm.DB, files []models.File) ([]storage.Blob, error) {
	if len(files) == 0 {
		return nil, nil
	}
	fileIDs := make([]uint64, 0, len(files))
	blobs := make([]storage.Blob, 0, len(files))
	for _, f := range files {
		fileIDs = append(fileIDs, f.ID)
		blobs = append(blobs, storage.Blob{Disk: f.Disk, Key: f.ContentKey})
	}

	versionRepo := repositories.NewFileVersionRepository(tx)
	versions, err := versionRepo.FindByFileIDs(fileIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	for _, v := range versions {
		blobs = append(blobs, storage.Blob{Disk: v.Disk, Key: v.ContentKey})
	}

	steps := []func() error{
		func() error { return repositories.NewPermissionRepository(tx).DeleteByFiles(fileIDs) },
		func() error { return repositories.NewShareLinkRepository(tx).DeleteByFiles(fileIDs) },
		func() error { return versionRepo.DeleteByFileIDs(fileIDs) },
		func() error { return repositories.NewFileRepository(tx).DeleteByIDs(fileIDs) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
	}
	return blobs, nil
}

// purgeBlobs 提交之后执行，失败只会留下孤立对象
func (s *lifecycleService) purgeBlobs(ctx context.Context, blobs []storage.Blob) {
	if len(blobs) == 0 {
		return
	}
	if err := s.Purger.Purge(context.WithoutCancel(ctx), blobs); err != nil {
		logger.Error("purge blobs failed, objects left orphaned", zap.Int("blobs", len(blobs)), zap.Error(err))
	}
}

func (s *lifecycleService) PurgeFolder(ctx context.Context, actor access.Actor, folderID uint64) error {
	var blobs []storage.Blob
	var folderCount int
	err := s.TM.WithTransaction(ctx, func(tx *gorm.DB) error {
		folders := repositories.NewFolderRepository(tx).ForUpdate()
		folder, err := folders.FindByID(folderID)
		if err != nil {
			return err
		}
		if !folder.IsDeleted {
			return xerr.ErrNotInTrash
		}
		caps, err := s.Resolver.WithTx(tx).Folder(ctx, actor, folder, access.ModeAction)
		if err != nil {
			return err
		}
		if !caps.Delete {
			return xerr.ErrPermissionDenied
		}

		layers, err := subtreeLayers(folders, folder.ID)
		if err != nil {
			return err
		}
		ids := flattenLayers(layers)
		folderCount = len(ids)

		files, err := repositories.NewFileRepository(tx).ForUpdate().ListByFolders(ids, nil)
		if err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		if blobs, err = purgeRows(tx, files); err != nil {
			return err
		}
		if err := repositories.NewPermissionRepository(tx).DeleteByFolders(ids); err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		// 最深的一层先删
		for i := len(layers) - 1; i >= 0; i-- {
			if err := folders.DeleteByIDs(layers[i]); err != nil {
				return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
			}
		}
		return nil
	})
	if err != nil {
		logger.Warn("PurgeFolder failed", zap.Uint64("folderID", folderID), zap.Error(err))
		return err
	}

	s.purgeBlobs(ctx, blobs)
	logger.Info("Folder purged", zap.Uint64("folderID", folderID), zap.Int("folders", folderCount), zap.Int("blobs", len(blobs)))
	s.record(ctx, actor, audit.ActionFolderPurge, audit.EntityFolder, folderID, map[string]any{
		"folders": folderCount,
		"blobs":   len(blobs),
	})
	return nil
}

func (s *lifecycleService) PurgeFile(ctx context.Context, actor access.Actor, fileID uint64) error {
	var blobs []storage.Blob
	err := s.TM.WithTransaction(ctx, func(tx *gorm.DB) error {
		file, err := repositories.NewFileRepository(tx).ForUpdate().FindByID(fileID)
		if err != nil {
			return err
		}
		if !file.IsDeleted {
			return xerr.ErrNotInTrash
		}
		caps, err := s.Resolver.WithTx(tx).File(ctx, actor, file, access.ModeAction)
		if err != nil {
			return err
		}
		if !caps.Delete {
			return xerr.ErrPermissionDenied
		}
		blobs, err = purgeRows(tx, []models.File{*file})
		return err
	})
	if err != nil {
		return err
	}

	s.purgeBlobs(ctx, blobs)
	s.record(ctx, actor, audit.ActionFilePurge, audit.EntityFile, fileID, map[string]any{"blobs": len(blobs)})
	return nil
}

func (s *lifecycleService) EmptyTrash(ctx context.Context, actor access.Actor) (*EmptyTrashResult, error) {
	db := s.DB.WithContext(ctx)
	scopes := trashScopes(actor)
	roots, err := repositories.NewFolderRepository(db).ListTrashRoots(scopes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	files, err := repositories.NewFileRepository(db).ListFlatTrash(scopes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}

	folderCaps, err := s.Resolver.Folders(ctx, actor, roots, access.ModeAction)
	if err != nil {
		return nil, err
	}
	fileCaps, err := s.Resolver.Files(ctx, actor, files, access.ModeAction)
	if err != nil {
		return nil, err
	}

	result := &EmptyTrashResult{}
	var errs []error
	for i := range files {
		if !fileCaps[i].Delete {
			continue
		}
		if err := s.PurgeFile(ctx, actor, files[i].ID); err != nil {
			errs = append(errs, fmt.Errorf("file %d: %w", files[i].ID, err))
			continue
		}
		result.Files++
	}
	for i := range roots {
		if !folderCaps[i].Delete {
			continue
		}
		if err := s.PurgeFolder(ctx, actor, roots[i].ID); err != nil {
			errs = append(errs, fmt.Errorf("folder %d: %w", roots[i].ID, err))
			continue
		}
		result.Folders++
	}
	return result, errors.Join(errs...)
}
