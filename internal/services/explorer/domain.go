package explorer

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/audit"
	"github.com/3Eeeecho/go-docstore/internal/pkg/logger"
	"github.com/3Eeeecho/go-docstore/internal/pkg/storage"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/3Eeeecho/go-docstore/internal/repositories"
	"github.com/3Eeeecho/go-docstore/internal/services/access"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 自动重命名的最大尝试次数
const maxRenameAttempts = 1000

// Deps explorer 各服务共用的依赖
type Deps struct {
	DB       *gorm.DB
	TM       TransactionManager
	Resolver *access.Resolver
	Disks    *storage.Manager
	Purger   storage.BlobPurger
	Audit    audit.Sink
}

func (d Deps) withDefaults() Deps {
	if d.TM == nil {
		d.TM = NewTransactionManager(d.DB)
	}
	if d.Resolver == nil {
		d.Resolver = access.NewResolver(d.DB)
	}
	if d.Purger == nil && d.Disks != nil {
		d.Purger = storage.NewDirectPurger(d.Disks)
	}
	if d.Audit == nil {
		d.Audit = audit.Nop{}
	}
	return d
}

// record 审计失败只记日志
func (d Deps) record(ctx context.Context, actor access.Actor, action, entityType string, entityID uint64, metadata map[string]any) {
	err := d.Audit.Record(ctx, audit.Event{
		ActorID:    actor.UserID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   metadata,
	})
	if err != nil {
		logger.Warn("audit record failed",
			zap.String("action", action),
			zap.Uint64("entityID", entityID),
			zap.Error(err))
	}
}

// --- 名称校验 ---

var nameRules = []validation.Rule{
	validation.Required,
	validation.Length(1, 255),
	validation.NotIn(".", ".."),
	validation.By(noSlash),
}

func noSlash(value any) error {
	s, _ := value.(string)
	if strings.ContainsAny(s, `/\`) {
		return errors.New("must not contain path separators")
	}
	return nil
}

func validateName(name string) error {
	if err := validation.Validate(name, nameRules...); err != nil {
		return xerr.WithField("name", fmt.Errorf("%w: name %v", xerr.ErrValidationFailed, err))
	}
	return nil
}

// asValidationError 把 ozzo 的字段错误转换为 ErrValidationFailed，字段取第一个出错的字段
func asValidationError(err error) error {
	if err == nil {
		return nil
	}
	var internal validation.InternalError
	if errors.As(err, &internal) {
		return err
	}
	wrapped := fmt.Errorf("%w: %v", xerr.ErrValidationFailed, err)
	var errs validation.Errors
	if errors.As(err, &errs) && len(errs) > 0 {
		fields := make([]string, 0, len(errs))
		for f := range errs {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		return xerr.WithField(fields[0], wrapped)
	}
	return wrapped
}

// --- 命名 ---

// splitExt 以最后一个点拆分，点开头的名称视为没有扩展名
func splitExt(name string) (string, string) {
	ext := path.Ext(name)
	if ext == name || ext == "" {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}

func numberedName(name string, n int) string {
	base, ext := splitExt(name)
	return fmt.Sprintf("%s (%d)%s", base, n, ext)
}

func restoredName(name string, n int) string {
	base, ext := splitExt(name)
	return fmt.Sprintf("%s (restored %d)%s", base, n, ext)
}

// uniqueFileName 返回文件夹内不冲突的文件名，name 本身可用时原样返回
func uniqueFileName(files repositories.FileRepository, folderID uint64, name string, excludeID uint64, next func(string, int) string) (string, error) {
	candidate := name
	for n := 1; n <= maxRenameAttempts; n++ {
		existing, err := files.FindActiveSibling(folderID, candidate, excludeID)
		if err != nil {
			return "", fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		if existing == nil {
			return candidate, nil
		}
		candidate = next(name, n)
	}
	return "", xerr.ErrNameConflict
}

func uniqueFolderName(folders repositories.FolderRepository, parentID *uint64, name string, scope models.Scope, excludeID uint64, next func(string, int) string) (string, error) {
	candidate := name
	for n := 1; n <= maxRenameAttempts; n++ {
		existing, err := folders.FindActiveSibling(parentID, candidate, scope, excludeID)
		if err != nil {
			return "", fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		if existing == nil {
			return candidate, nil
		}
		candidate = next(name, n)
	}
	return "", xerr.ErrNameConflict
}

// --- 子树 ---

// SubtreeFolderIDs 按层 BFS 返回 root 及其全部后代文件夹 id，不区分删除状态
func SubtreeFolderIDs(tx *gorm.DB, rootID uint64) ([]uint64, error) {
	layers, err := subtreeLayers(repositories.NewFolderRepository(tx), rootID)
	if err != nil {
		return nil, err
	}
	return flattenLayers(layers), nil
}

// subtreeLayers 第一层是 root 自身。visited 保证脏数据成环时也能结束
func subtreeLayers(folders repositories.FolderRepository, rootID uint64) ([][]uint64, error) {
	visited := map[uint64]struct{}{rootID: {}}
	layers := [][]uint64{{rootID}}
	layer := layers[0]
	for {
		children, err := folders.ChildIDs(layer)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		var next []uint64
		for _, id := range children {
			if _, ok := visited[id]; ok {
				continue
			}
			visited[id] = struct{}{}
			next = append(next, id)
		}
		if len(next) == 0 {
			return layers, nil
		}
		layers = append(layers, next)
		layer = next
	}
}

func flattenLayers(layers [][]uint64) []uint64 {
	var ids []uint64
	for _, l := range layers {
		ids = append(ids, l...)
	}
	return ids
}

func containsID(ids []uint64, id uint64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// rewriteDescendantPaths 从 root 开始逐层重算后代路径，只改前缀不改名称。已删除的后代也一并更新
func rewriteDescendantPaths(folders repositories.FolderRepository, rootID uint64, rootPath string) error {
	paths := map[uint64]string{rootID: rootPath}
	layer := []uint64{rootID}
	for len(layer) > 0 {
		children, err := folders.ListChildrenOf(layer)
		if err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		var next []uint64
		for i := range children {
			c := &children[i]
			if _, seen := paths[c.ID]; seen || c.ParentID == nil {
				continue
			}
			p := models.JoinPath(paths[*c.ParentID], c.Name)
			paths[c.ID] = p
			if c.Path != p {
				if err := folders.Update(c.ID, map[string]any{"path": p}); err != nil {
					return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
				}
			}
			next = append(next, c.ID)
		}
		layer = next
	}
	return nil
}

// lockRootLevel 目标在根目录时锁住归属行，父目录存在时由父目录行锁负责
func lockRootLevel(tx *gorm.DB, parentID *uint64, scope models.Scope) error {
	if parentID != nil {
		return nil
	}
	if err := repositories.NewUserRepository(tx).LockScope(scope); err != nil {
		return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	return nil
}

// lockActiveFolder 加锁读取文件夹，已删除时返回 whenDeleted
func lockActiveFolder(folders repositories.FolderRepository, id uint64, whenDeleted error) (*models.Folder, error) {
	folder, err := folders.FindByID(id)
	if err != nil {
		return nil, err
	}
	if folder.IsDeleted {
		return nil, whenDeleted
	}
	return folder, nil
}

func lockActiveFile(files repositories.FileRepository, id uint64, whenDeleted error) (*models.File, error) {
	file, err := files.FindByID(id)
	if err != nil {
		return nil, err
	}
	if file.IsDeleted {
		return nil, whenDeleted
	}
	return file, nil
}
