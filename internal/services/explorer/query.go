package explorer

import (
	"context"
	"fmt"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/3Eeeecho/go-docstore/internal/repositories"
	"github.com/3Eeeecho/go-docstore/internal/services/access"
	"gorm.io/gorm"
)

type FolderItem struct {
	models.Folder
	Access access.Capabilities `json:"access"`
	// TrashedFiles 仅回收站列表返回，子树内已删除文件数
	TrashedFiles *int64 `json:"trashed_files,omitempty"`
}

type FileItem struct {
	models.File
	Access access.Capabilities `json:"access"`
}

type Listing struct {
	Folders []FolderItem `json:"folders"`
	Files   []FileItem   `json:"files"`
}

// QueryService 只读列表，不加锁，每个条目附带 ModeListing 下的权限
type QueryService interface {
	MyFiles(ctx context.Context, actor access.Actor) (*Listing, error)
	DepartmentFiles(ctx context.Context, actor access.Actor) (*Listing, error)
	SharedWithMe(ctx context.Context, actor access.Actor) (*Listing, error)
	FolderContents(ctx context.Context, actor access.Actor, folderID uint64) (*Listing, error)
	Trash(ctx context.Context, actor access.Actor) (*Listing, error)
	TrashFolderContents(ctx context.Context, actor access.Actor, folderID uint64) (*Listing, error)
}

type queryService struct {
	Deps
}

var _ QueryService = (*queryService)(nil)

func NewQueryService(deps Deps) QueryService {
	return &queryService{Deps: deps.withDefaults()}
}

// listing 解析权限，去掉没有查看权限的条目
func (s *queryService) listing(ctx context.Context, actor access.Actor, folders []models.Folder, files []models.File) (*Listing, error) {
	out := &Listing{Folders: []FolderItem{}, Files: []FileItem{}}
	folderCaps, err := s.Resolver.Folders(ctx, actor, folders, access.ModeListing)
	if err != nil {
		return nil, err
	}
	fileCaps, err := s.Resolver.Files(ctx, actor, files, access.ModeListing)
	if err != nil {
		return nil, err
	}
	for i := range folders {
		if folderCaps[i].View {
			out.Folders = append(out.Folders, FolderItem{Folder: folders[i], Access: folderCaps[i]})
		}
	}
	for i := range files {
		if fileCaps[i].View {
			out.Files = append(out.Files, FileItem{File: files[i], Access: fileCaps[i]})
		}
	}
	return out, nil
}

func (s *queryService) MyFiles(ctx context.Context, actor access.Actor) (*Listing, error) {
	folders, err := repositories.NewFolderRepository(s.DB.WithContext(ctx)).ListActiveRoots(actor.PrivateScope(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	return s.listing(ctx, actor, folders, nil)
}

func (s *queryService) DepartmentFiles(ctx context.Context, actor access.Actor) (*Listing, error) {
	scope, ok := actor.DepartmentScope()
	if !ok {
		return nil, xerr.ErrDepartmentMissing
	}
	visibility := models.VisibilityDepartment
	folders, err := repositories.NewFolderRepository(s.DB.WithContext(ctx)).ListActiveRoots(scope, &visibility)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	return s.listing(ctx, actor, folders, nil)
}

// SharedWithMe 直接授予查看权限的活动条目，不含自己的条目
func (s *queryService) SharedWithMe(ctx context.Context, actor access.Actor) (*Listing, error) {
	db := s.DB.WithContext(ctx)
	perms := repositories.NewPermissionRepository(db)

	folderIDs, err := perms.ViewableFolderIDs(actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	fileIDs, err := perms.ViewableFileIDs(actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	folders, err := repositories.NewFolderRepository(db).ListActiveByIDs(folderIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	files, err := repositories.NewFileRepository(db).ListActiveByIDs(fileIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}

	sharedFolders := folders[:0]
	for _, f := range folders {
		if !actor.Owns(f.Scope()) {
			sharedFolders = append(sharedFolders, f)
		}
	}
	sharedFiles := files[:0]
	for _, f := range files {
		if !actor.Owns(f.Scope()) {
			sharedFiles = append(sharedFiles, f)
		}
	}
	return s.listing(ctx, actor, sharedFolders, sharedFiles)
}

func (s *queryService) FolderContents(ctx context.Context, actor access.Actor, folderID uint64) (*Listing, error) {
	db := s.DB.WithContext(ctx)
	folderRepo := repositories.NewFolderRepository(db)
	folder, err := folderRepo.FindByID(folderID)
	if err != nil {
		return nil, err
	}
	if folder.IsDeleted {
		return nil, xerr.ErrFolderNotFound
	}
	caps, err := s.Resolver.Folder(ctx, actor, folder, access.ModeListing)
	if err != nil {
		return nil, err
	}
	if !caps.View {
		return nil, xerr.ErrPermissionDenied
	}

	children, err := folderRepo.ListChildren(folder.ID, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	deleted := false
	files, err := repositories.NewFileRepository(db).ListByFolders([]uint64{folder.ID}, &deleted)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	return s.listing(ctx, actor, children, files)
}

// Trash 回收站根目录和平铺的已删除文件，已删除文件夹里的文件只能进入该文件夹查看
func (s *queryService) Trash(ctx context.Context, actor access.Actor) (*Listing, error) {
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
	out, err := s.listing(ctx, actor, roots, files)
	if err != nil {
		return nil, err
	}
	if err := s.countTrashedFiles(db, out.Folders); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *queryService) TrashFolderContents(ctx context.Context, actor access.Actor, folderID uint64) (*Listing, error) {
	db := s.DB.WithContext(ctx)
	folderRepo := repositories.NewFolderRepository(db)
	folder, err := folderRepo.FindByID(folderID)
	if err != nil {
		return nil, err
	}
	if !folder.IsDeleted {
		return nil, xerr.ErrNotInTrash
	}
	caps, err := s.Resolver.Folder(ctx, actor, folder, access.ModeListing)
	if err != nil {
		return nil, err
	}
	if !caps.View {
		return nil, xerr.ErrPermissionDenied
	}

	children, err := folderRepo.ListChildren(folder.ID, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	deleted := true
	files, err := repositories.NewFileRepository(db).ListByFolders([]uint64{folder.ID}, &deleted)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	out, err := s.listing(ctx, actor, children, files)
	if err != nil {
		return nil, err
	}
	if err := s.countTrashedFiles(db, out.Folders); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *queryService) countTrashedFiles(db *gorm.DB, items []FolderItem) error {
	files := repositories.NewFileRepository(db)
	for i := range items {
		ids, err := SubtreeFolderIDs(db, items[i].ID)
		if err != nil {
			return err
		}
		n, err := files.CountDeletedInFolders(ids)
		if err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		items[i].TrashedFiles = &n
	}
	return nil
}
