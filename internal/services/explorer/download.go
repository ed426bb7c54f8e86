package explorer

import (
	"context"
	"fmt"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/audit"
	"github.com/3Eeeecho/go-docstore/internal/pkg/logger"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/3Eeeecho/go-docstore/internal/repositories"
	"github.com/3Eeeecho/go-docstore/internal/services/access"
	"github.com/3Eeeecho/go-docstore/internal/services/archive"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DownloadService 打包下载。先逐项鉴权，再规划路径并生成 zip
type DownloadService interface {
	DownloadFolder(ctx context.Context, actor access.Actor, folderID uint64) (*archive.Archive, error)
	DownloadSelection(ctx context.Context, actor access.Actor, fileIDs, folderIDs []uint64) (*archive.Archive, error)
}

type downloadService struct {
	Deps
	builder *archive.Builder
}

var _ DownloadService = (*downloadService)(nil)

func NewDownloadService(deps Deps, builder *archive.Builder) DownloadService {
	return &downloadService{Deps: deps.withDefaults(), builder: builder}
}

func (s *downloadService) DownloadFolder(ctx context.Context, actor access.Actor, folderID uint64) (*archive.Archive, error) {
	tree, err := s.authorizedTree(ctx, actor, folderID)
	if err != nil {
		return nil, err
	}
	entries := archive.PlanFolder(tree.Root, tree.Folders, tree.Files)
	name := archive.Sanitize(tree.Root.Name, archive.FallbackFolder) + ".zip"
	return s.build(ctx, actor, name, entries, folderID, map[string]any{"folder_id": folderID})
}

// DownloadSelection 选中的文件没有下载权限时整体失败；文件夹内没有下载权限的文件被跳过
func (s *downloadService) DownloadSelection(ctx context.Context, actor access.Actor, fileIDs, folderIDs []uint64) (*archive.Archive, error) {
	if len(fileIDs) == 0 && len(folderIDs) == 0 {
		return nil, xerr.WithField("file_ids", fmt.Errorf("%w: nothing selected", xerr.ErrValidationFailed))
	}

	db := s.DB.WithContext(ctx)
	found, err := repositories.NewFileRepository(db).ListActiveByIDs(fileIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	byID := make(map[uint64]models.File, len(found))
	for _, f := range found {
		byID[f.ID] = f
	}
	// 保持调用方给出的顺序
	files := make([]models.File, 0, len(fileIDs))
	seen := make(map[uint64]struct{}, len(fileIDs))
	for _, id := range fileIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		f, ok := byID[id]
		if !ok {
			return nil, xerr.ErrFileNotFound
		}
		files = append(files, f)
	}
	caps, err := s.Resolver.Files(ctx, actor, files, access.ModeAction)
	if err != nil {
		return nil, err
	}
	for i := range files {
		if !caps[i].Download() {
			return nil, xerr.ErrPermissionDenied
		}
	}

	trees := make([]archive.Tree, 0, len(folderIDs))
	seenFolders := make(map[uint64]struct{}, len(folderIDs))
	for _, id := range folderIDs {
		if _, dup := seenFolders[id]; dup {
			continue
		}
		seenFolders[id] = struct{}{}
		tree, err := s.authorizedTree(ctx, actor, id)
		if err != nil {
			return nil, err
		}
		trees = append(trees, *tree)
	}

	entries := archive.PlanSelection(files, trees)
	return s.build(ctx, actor, "download.zip", entries, 0, map[string]any{"file_ids": fileIDs, "folder_ids": folderIDs})
}

// authorizedTree 收集活动子树，要求根目录可见，去掉没有下载权限的文件
func (s *downloadService) authorizedTree(ctx context.Context, actor access.Actor, folderID uint64) (*archive.Tree, error) {
	db := s.DB.WithContext(ctx)
	root, err := repositories.NewFolderRepository(db).FindByID(folderID)
	if err != nil {
		return nil, err
	}
	if root.IsDeleted {
		return nil, xerr.ErrFolderNotFound
	}
	caps, err := s.Resolver.Folder(ctx, actor, root, access.ModeAction)
	if err != nil {
		return nil, err
	}
	if !caps.View {
		return nil, xerr.ErrPermissionDenied
	}

	folders, files, err := activeSubtree(db, root.ID)
	if err != nil {
		return nil, err
	}
	fileCaps, err := s.Resolver.Files(ctx, actor, files, access.ModeAction)
	if err != nil {
		return nil, err
	}
	allowed := files[:0]
	for i := range files {
		if fileCaps[i].Download() {
			allowed = append(allowed, files[i])
		}
	}
	if skipped := len(files) - len(allowed); skipped > 0 {
		logger.Info("archive: skipped files without download permission", zap.Uint64("folderID", folderID), zap.Int("skipped", skipped))
	}
	return &archive.Tree{Root: *root, Folders: folders, Files: allowed}, nil
}

// activeSubtree 逐层收集活动的后代文件夹，已删除的文件夹连同其子树一起跳过
func activeSubtree(db *gorm.DB, rootID uint64) ([]models.Folder, []models.File, error) {
	folderRepo := repositories.NewFolderRepository(db)
	var folders []models.Folder
	ids := []uint64{rootID}
	visited := map[uint64]struct{}{rootID: {}}
	for layer := []uint64{rootID}; len(layer) > 0; {
		children, err := folderRepo.ListChildrenOf(layer)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		var next []uint64
		for _, c := range children {
			if _, ok := visited[c.ID]; ok || c.IsDeleted {
				continue
			}
			visited[c.ID] = struct{}{}
			folders = append(folders, c)
			next = append(next, c.ID)
		}
		ids = append(ids, next...)
		layer = next
	}

	deleted := false
	files, err := repositories.NewFileRepository(db).ListByFolders(ids, &deleted)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	return folders, files, nil
}

func (s *downloadService) build(ctx context.Context, actor access.Actor, name string, entries []archive.Entry, folderID uint64, metadata map[string]any) (*archive.Archive, error) {
	arc, err := s.builder.Build(ctx, name, entries)
	if err != nil {
		logger.Error("archive build failed", zap.String("name", name), zap.Error(err))
		return nil, err
	}
	metadata["entries"] = arc.Entries
	metadata["size"] = arc.Size
	s.record(ctx, actor, audit.ActionArchiveBuild, audit.EntityFolder, folderID, metadata)
	return arc, nil
}
