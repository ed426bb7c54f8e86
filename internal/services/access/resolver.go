package access

import (
	"context"
	"fmt"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/repositories"
	"gorm.io/gorm"
)

// Capabilities 对文件而言 Upload 表示下载
type Capabilities struct {
	View   bool `json:"view"`
	Upload bool `json:"upload"`
	Edit   bool `json:"edit"`
	Delete bool `json:"delete"`
}

func (c Capabilities) Or(o Capabilities) Capabilities {
	return Capabilities{
		View:   c.View || o.View,
		Upload: c.Upload || o.Upload,
		Edit:   c.Edit || o.Edit,
		Delete: c.Delete || o.Delete,
	}
}

func (c Capabilities) Download() bool { return c.Upload }

// Mode 区分执行操作和列表展示。列表中私有条目的所有者总是显示可删除
type Mode uint8

const (
	ModeAction Mode = iota
	ModeListing
)

// Resolver 合并所有权、部门可见性、祖先授权和直接授权，结果只增不减
type Resolver struct {
	db *gorm.DB
}

func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// WithTx 在事务内解析，读到事务内未提交的变更
func (r *Resolver) WithTx(tx *gorm.DB) *Resolver {
	return &Resolver{db: tx}
}

func (r *Resolver) Folder(ctx context.Context, actor Actor, folder *models.Folder, mode Mode) (Capabilities, error) {
	caps, err := r.Folders(ctx, actor, []models.Folder{*folder}, mode)
	if err != nil {
		return Capabilities{}, err
	}
	return caps[0], nil
}

func (r *Resolver) File(ctx context.Context, actor Actor, file *models.File, mode Mode) (Capabilities, error) {
	caps, err := r.Files(ctx, actor, []models.File{*file}, mode)
	if err != nil {
		return Capabilities{}, err
	}
	return caps[0], nil
}

// Folders 批量解析，返回顺序与输入一致
func (r *Resolver) Folders(ctx context.Context, actor Actor, folders []models.Folder, mode Mode) ([]Capabilities, error) {
	db := r.db.WithContext(ctx)
	tree := newAncestry(repositories.NewFolderRepository(db))
	for i := range folders {
		tree.seed(folders[i].ID, folders[i].ParentID)
	}

	starts := make([]*uint64, len(folders))
	for i := range folders {
		starts[i] = folders[i].ParentID
	}
	chains, err := tree.chains(starts)
	if err != nil {
		return nil, err
	}

	// 祖先和自身的授权一次查出
	ids := make([]uint64, 0, len(folders))
	for i := range folders {
		ids = append(ids, folders[i].ID)
	}
	for _, chain := range chains {
		ids = append(ids, chain...)
	}
	grants, err := repositories.NewPermissionRepository(db).FolderGrants(actor.UserID, ids)
	if err != nil {
		return nil, err
	}
	byFolder := make(map[uint64]models.FolderPermission, len(grants))
	for _, g := range grants {
		byFolder[g.FolderID] = g
	}

	out := make([]Capabilities, len(folders))
	for i := range folders {
		f := &folders[i]
		caps := folderBase(actor, f, mode)
		for _, ancestorID := range chains[i] {
			if g, ok := byFolder[ancestorID]; ok {
				caps = caps.Or(Capabilities{View: g.CanView, Upload: g.CanUpload, Edit: g.CanEdit})
			}
		}
		if g, ok := byFolder[f.ID]; ok {
			caps = caps.Or(Capabilities{View: g.CanView, Upload: g.CanUpload, Edit: g.CanEdit, Delete: g.CanDelete})
		}
		out[i] = caps
	}
	return out, nil
}

func (r *Resolver) Files(ctx context.Context, actor Actor, files []models.File, mode Mode) ([]Capabilities, error) {
	db := r.db.WithContext(ctx)
	tree := newAncestry(repositories.NewFolderRepository(db))

	starts := make([]*uint64, len(files))
	fileIDs := make([]uint64, 0, len(files))
	for i := range files {
		folderID := files[i].FolderID
		starts[i] = &folderID
		fileIDs = append(fileIDs, files[i].ID)
	}
	chains, err := tree.chains(starts)
	if err != nil {
		return nil, err
	}

	var folderIDs []uint64
	for _, chain := range chains {
		folderIDs = append(folderIDs, chain...)
	}
	perms := repositories.NewPermissionRepository(db)
	folderGrants, err := perms.FolderGrants(actor.UserID, folderIDs)
	if err != nil {
		return nil, err
	}
	fileGrants, err := perms.FileGrants(actor.UserID, fileIDs)
	if err != nil {
		return nil, err
	}
	byFolder := make(map[uint64]models.FolderPermission, len(folderGrants))
	for _, g := range folderGrants {
		byFolder[g.FolderID] = g
	}
	byFile := make(map[uint64]models.FilePermission, len(fileGrants))
	for _, g := range fileGrants {
		byFile[g.FileID] = g
	}

	out := make([]Capabilities, len(files))
	for i := range files {
		f := &files[i]
		caps := fileBase(actor, f, mode)
		for _, folderID := range chains[i] {
			if g, ok := byFolder[folderID]; ok {
				caps = caps.Or(Capabilities{View: g.CanView, Upload: g.CanView, Edit: g.CanEdit})
			}
		}
		if g, ok := byFile[f.ID]; ok {
			caps = caps.Or(Capabilities{View: g.CanView, Upload: g.CanDownload, Edit: g.CanEdit, Delete: g.CanDelete})
		}
		out[i] = caps
	}
	return out, nil
}

// folderBase 所有权和部门规则
func folderBase(actor Actor, f *models.Folder, mode Mode) Capabilities {
	var caps Capabilities
	scope := f.Scope()
	if actor.Owns(scope) {
		caps = caps.Or(Capabilities{
			View:   true,
			Upload: true,
			Edit:   true,
			Delete: mode == ModeListing || actor.Can(CapFoldersDelete),
		})
	}
	if actor.inDepartment(scope) && f.Visibility == models.VisibilityDepartment {
		update := actor.Can(CapFoldersUpdate)
		caps = caps.Or(Capabilities{
			View:   true,
			Upload: update,
			Edit:   update,
			Delete: actor.Can(CapFoldersDelete),
		})
	}
	return caps
}

func fileBase(actor Actor, f *models.File, mode Mode) Capabilities {
	var caps Capabilities
	scope := f.Scope()
	if actor.Owns(scope) {
		caps = caps.Or(Capabilities{
			View:   true,
			Upload: true,
			Edit:   true,
			Delete: mode == ModeListing || actor.Can(CapFilesDelete),
		})
	}
	if actor.inDepartment(scope) && f.Visibility == models.VisibilityDepartment {
		caps = caps.Or(Capabilities{
			View:   true,
			Upload: actor.Can(CapFilesDownload),
			Edit:   actor.Can(CapFilesUpdate),
			Delete: actor.Can(CapFilesDelete),
		})
	}
	return caps
}

// ancestry 按层批量加载 parent_id，缓存只在一次解析内有效
type ancestry struct {
	folders repositories.FolderRepository
	parents map[uint64]*uint64
}

func newAncestry(folders repositories.FolderRepository) *ancestry {
	return &ancestry{folders: folders, parents: make(map[uint64]*uint64)}
}

func (a *ancestry) seed(id uint64, parentID *uint64) {
	a.parents[id] = parentID
}

// load 把 frontier 中未知的文件夹及其祖先逐层查出，每层一次 IN 查询
func (a *ancestry) load(frontier []uint64) error {
	for len(frontier) > 0 {
		var missing []uint64
		seen := make(map[uint64]struct{}, len(frontier))
		for _, id := range frontier {
			if _, ok := a.parents[id]; ok {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			missing = append(missing, id)
		}
		if len(missing) == 0 {
			return nil
		}

		rows, err := a.folders.FindByIDs(missing)
		if err != nil {
			return fmt.Errorf("load ancestors: %w", err)
		}
		for _, id := range missing {
			// 悬空引用当作根处理
			a.parents[id] = nil
		}
		var next []uint64
		for _, f := range rows {
			a.parents[f.ID] = f.ParentID
			if f.ParentID != nil {
				next = append(next, *f.ParentID)
			}
		}
		frontier = next
	}
	return nil
}

// chains 对每个起点返回从起点到根的文件夹 id，visited 防止脏数据成环
func (a *ancestry) chains(starts []*uint64) ([][]uint64, error) {
	var frontier []uint64
	for _, s := range starts {
		if s != nil {
			frontier = append(frontier, *s)
		}
	}
	if err := a.load(frontier); err != nil {
		return nil, err
	}

	out := make([][]uint64, len(starts))
	for i, start := range starts {
		visited := make(map[uint64]struct{})
		for cur := start; cur != nil; {
			id := *cur
			if _, ok := visited[id]; ok {
				break
			}
			visited[id] = struct{}{}
			out[i] = append(out[i], id)
			cur = a.parents[id]
		}
	}
	return out, nil
}
