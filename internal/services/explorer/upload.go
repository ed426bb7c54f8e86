package explorer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"mime"
	"path"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/audit"
	"github.com/3Eeeecho/go-docstore/internal/pkg/logger"
	"github.com/3Eeeecho/go-docstore/internal/pkg/storage"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/3Eeeecho/go-docstore/internal/repositories"
	"github.com/3Eeeecho/go-docstore/internal/services/access"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DuplicateMode 同名文件的处理方式
type DuplicateMode string

const (
	DuplicateFail       DuplicateMode = "fail"
	DuplicateReplace    DuplicateMode = "replace"
	DuplicateAutoRename DuplicateMode = "auto_rename"
)

const defaultMimeType = "application/octet-stream"

type UploadRequest struct {
	FolderID      uint64        `json:"folder_id"`
	Name          string        `json:"name"`
	MimeType      string        `json:"mime_type"`
	Content       io.Reader     `json:"-"`
	DuplicateMode DuplicateMode `json:"duplicate_mode"`
}

func (r UploadRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FolderID, validation.Required),
		validation.Field(&r.Name, nameRules...),
		validation.Field(&r.MimeType, validation.Length(0, 128)),
		validation.Field(&r.DuplicateMode, validation.In(DuplicateFail, DuplicateReplace, DuplicateAutoRename)),
	)
}

func (r *UploadRequest) normalize() {
	if r.DuplicateMode == "" {
		r.DuplicateMode = DuplicateFail
	}
	if r.MimeType == "" {
		r.MimeType = detectMimeType(r.Name)
	}
}

func detectMimeType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return defaultMimeType
}

// content 文件当前内容的存储字段，版本归档和恢复都按这组字段拷贝
type content struct {
	Key      string
	Disk     string
	Size     uint64
	MimeType string
	Digest   *string
}

func contentOf(f *models.File) content {
	return content{Key: f.ContentKey, Disk: f.Disk, Size: f.Size, MimeType: f.MimeType, Digest: f.Digest}
}

// staged 已写入临时路径的上传内容
type staged struct {
	disk     storage.Disk
	tempKey  string
	finalKey string
	size     int64
	digest   string
	moved    bool
}

func (st *staged) content(mimeType string) content {
	digest := st.digest
	return content{Key: st.finalKey, Disk: st.disk.Name(), Size: uint64(st.size), MimeType: mimeType, Digest: &digest}
}

// promote 事务内把临时对象移到最终路径
func (st *staged) promote(ctx context.Context) error {
	if err := st.disk.Move(ctx, st.tempKey, st.finalKey); err != nil {
		return fmt.Errorf("%w: move staged upload: %v", xerr.ErrStorageError, err)
	}
	st.moved = true
	return nil
}

// cleanup 临时对象总是删除。事务失败且已经移动时，最终对象也删除
func (st *staged) cleanup(ctx context.Context, failed bool) {
	ctx = context.WithoutCancel(ctx)
	keys := []string{st.tempKey}
	if failed && st.moved {
		keys = append(keys, st.finalKey)
	}
	if err := st.disk.Delete(ctx, keys...); err != nil {
		logger.Warn("upload cleanup failed", zap.String("disk", st.disk.Name()), zap.Strings("keys", keys), zap.Error(err))
	}
}

type digestReader struct {
	r io.Reader
	h hash.Hash
	n int64
}

func (d *digestReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if n > 0 {
		d.h.Write(p[:n])
		d.n += int64(n)
	}
	return n, err
}

// stage 把上传内容写到默认磁盘的 tmp/ 下，同时计算大小和 sha256
func (s *treeService) stage(ctx context.Context, r io.Reader, mimeType string) (*staged, error) {
	disk := s.Disks.Default()
	st := &staged{
		disk:     disk,
		tempKey:  "tmp/" + uuid.NewString(),
		finalKey: "files/" + uuid.NewString(),
	}
	dr := &digestReader{r: r, h: sha256.New()}
	if err := disk.Put(ctx, st.tempKey, dr, -1, mimeType); err != nil {
		st.cleanup(ctx, false)
		return nil, fmt.Errorf("%w: stage upload: %v", xerr.ErrStorageError, err)
	}
	st.size = dr.n
	st.digest = hex.EncodeToString(dr.h.Sum(nil))
	return st, nil
}

// archiveAndOverwrite 把文件当前内容存为新版本，再用 next 覆盖。调用方必须已锁住文件行
func archiveAndOverwrite(tx *gorm.DB, file *models.File, next content, actorID uint64) (*models.FileVersion, error) {
	versions := repositories.NewFileVersionRepository(tx)
	seq, err := versions.MaxSequence(file.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	cur := contentOf(file)
	version := &models.FileVersion{
		FileID:     file.ID,
		Sequence:   seq + 1,
		ContentKey: cur.Key,
		Disk:       cur.Disk,
		Size:       cur.Size,
		MimeType:   cur.MimeType,
		Digest:     cur.Digest,
		CreatedBy:  actorID,
	}
	if err := versions.Create(version); err != nil {
		return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}

	err = repositories.NewFileRepository(tx).Update(file.ID, map[string]any{
		"content_key": next.Key,
		"disk":        next.Disk,
		"size":        next.Size,
		"mime_type":   next.MimeType,
		"digest":      next.Digest,
		"uploaded_by": actorID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	file.ContentKey, file.Disk, file.Size, file.MimeType, file.Digest = next.Key, next.Disk, next.Size, next.MimeType, next.Digest
	file.UploadedBy = actorID
	return version, nil
}

func (s *treeService) UploadFile(ctx context.Context, actor access.Actor, req UploadRequest) (result *models.File, err error) {
	req.normalize()
	if err := asValidationError(req.Validate()); err != nil {
		return nil, err
	}
	if req.Content == nil {
		return nil, xerr.WithField("file", fmt.Errorf("%w: file content is required", xerr.ErrValidationFailed))
	}

	st, err := s.stage(ctx, req.Content, req.MimeType)
	if err != nil {
		return nil, err
	}
	defer func() { st.cleanup(ctx, err != nil) }()

	replaced := false
	err = s.TM.WithTransaction(ctx, func(tx *gorm.DB) error {
		folders := repositories.NewFolderRepository(tx).ForUpdate()
		files := repositories.NewFileRepository(tx).ForUpdate()
		resolver := s.Resolver.WithTx(tx)

		folder, err := lockActiveFolder(folders, req.FolderID, xerr.ErrDestinationTrashed)
		if err != nil {
			return err
		}
		caps, err := resolver.Folder(ctx, actor, folder, access.ModeAction)
		if err != nil {
			return err
		}
		if !caps.Upload {
			return xerr.ErrPermissionDenied
		}

		name := req.Name
		existing, err := files.FindActiveSibling(folder.ID, name, 0)
		if err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		if existing != nil {
			switch req.DuplicateMode {
			case DuplicateReplace:
				fileCaps, err := resolver.File(ctx, actor, existing, access.ModeAction)
				if err != nil {
					return err
				}
				if !fileCaps.Edit {
					return xerr.ErrPermissionDenied
				}
				if err := st.promote(ctx); err != nil {
					return err
				}
				if _, err := archiveAndOverwrite(tx, existing, st.content(req.MimeType), actor.UserID); err != nil {
					return err
				}
				result, replaced = existing, true
				return nil
			case DuplicateAutoRename:
				name, err = uniqueFileName(files, folder.ID, req.Name, 0, numberedName)
				if err != nil {
					return err
				}
			default:
				return xerr.ErrNameConflict
			}
		}

		if err := st.promote(ctx); err != nil {
			return err
		}
		c := st.content(req.MimeType)
		file := &models.File{
			FolderID:   folder.ID,
			Name:       name,
			ContentKey: c.Key,
			Disk:       c.Disk,
			Size:       c.Size,
			MimeType:   c.MimeType,
			Digest:     c.Digest,
			Visibility: folder.Visibility,
			UploadedBy: actor.UserID,
		}
		file.SetScope(folder.Scope())
		if err := files.Create(file); err != nil {
			return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
		}
		result = file
		return nil
	})
	if err != nil {
		logger.Warn("UploadFile failed", zap.Uint64("folderID", req.FolderID), zap.String("name", req.Name), zap.Error(err))
		return nil, err
	}

	action := audit.ActionFileUpload
	if replaced {
		action = audit.ActionFileReplace
	}
	logger.Info("File uploaded", zap.Uint64("fileID", result.ID), zap.String("name", result.Name), zap.Uint64("size", result.Size))
	s.record(ctx, actor, action, audit.EntityFile, result.ID, map[string]any{
		"folder_id": result.FolderID,
		"name":      result.Name,
		"size":      result.Size,
		"mode":      string(req.DuplicateMode),
	})
	return result, nil
}

func (s *treeService) ReplaceFile(ctx context.Context, actor access.Actor, fileID uint64, req UploadRequest) (result *models.File, err error) {
	if req.Content == nil {
		return nil, xerr.WithField("file", fmt.Errorf("%w: file content is required", xerr.ErrValidationFailed))
	}
	if err := asValidationError(validation.Validate(req.MimeType, validation.Length(0, 128))); err != nil {
		return nil, err
	}

	st, err := s.stage(ctx, req.Content, req.MimeType)
	if err != nil {
		return nil, err
	}
	defer func() { st.cleanup(ctx, err != nil) }()

	var version *models.FileVersion
	err = s.TM.WithTransaction(ctx, func(tx *gorm.DB) error {
		files := repositories.NewFileRepository(tx).ForUpdate()
		file, err := lockActiveFile(files, fileID, xerr.ErrItemInTrash)
		if err != nil {
			return err
		}
		caps, err := s.Resolver.WithTx(tx).File(ctx, actor, file, access.ModeAction)
		if err != nil {
			return err
		}
		if !caps.Edit {
			return xerr.ErrPermissionDenied
		}

		mimeType := req.MimeType
		if mimeType == "" {
			mimeType = detectMimeType(file.Name)
		}
		if err := st.promote(ctx); err != nil {
			return err
		}
		version, err = archiveAndOverwrite(tx, file, st.content(mimeType), actor.UserID)
		if err != nil {
			return err
		}
		result = file
		return nil
	})
	if err != nil {
		logger.Warn("ReplaceFile failed", zap.Uint64("fileID", fileID), zap.Error(err))
		return nil, err
	}

	s.record(ctx, actor, audit.ActionFileReplace, audit.EntityFile, result.ID, map[string]any{
		"archived_sequence": version.Sequence,
		"size":              result.Size,
	})
	return result, nil
}

func (s *treeService) ListVersions(ctx context.Context, actor access.Actor, fileID uint64) ([]models.FileVersion, error) {
	db := s.DB.WithContext(ctx)
	file, err := repositories.NewFileRepository(db).FindByID(fileID)
	if err != nil {
		return nil, err
	}
	caps, err := s.Resolver.File(ctx, actor, file, access.ModeAction)
	if err != nil {
		return nil, err
	}
	if !caps.View {
		return nil, xerr.ErrPermissionDenied
	}
	versions, err := repositories.NewFileVersionRepository(db).FindByFileID(fileID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}
	return versions, nil
}

// RestoreVersion 先把当前内容归档为新版本，再把选中版本的内容拷回文件。被选中的版本保留
func (s *treeService) RestoreVersion(ctx context.Context, actor access.Actor, fileID, versionID uint64) (*models.File, error) {
	var file *models.File
	var restored *models.FileVersion
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
		v, err := repositories.NewFileVersionRepository(tx).FindByID(fileID, versionID)
		if err != nil {
			return err
		}
		next := content{Key: v.ContentKey, Disk: v.Disk, Size: v.Size, MimeType: v.MimeType, Digest: v.Digest}
		if _, err := archiveAndOverwrite(tx, f, next, actor.UserID); err != nil {
			return err
		}
		file, restored = f, v
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, actor, audit.ActionVersionRestore, audit.EntityFile, file.ID, map[string]any{
		"version_id": restored.ID,
		"sequence":   restored.Sequence,
	})
	return file, nil
}

// OpenFile 需要下载权限，调用方负责关闭返回的流
func (s *treeService) OpenFile(ctx context.Context, actor access.Actor, fileID uint64) (*models.File, io.ReadCloser, error) {
	file, err := repositories.NewFileRepository(s.DB.WithContext(ctx)).FindByID(fileID)
	if err != nil {
		return nil, nil, err
	}
	if file.IsDeleted {
		return nil, nil, xerr.ErrFileNotFound
	}
	caps, err := s.Resolver.File(ctx, actor, file, access.ModeAction)
	if err != nil {
		return nil, nil, err
	}
	if !caps.Download() {
		return nil, nil, xerr.ErrPermissionDenied
	}

	rc, err := OpenContent(ctx, s.Disks, file.Disk, file.ContentKey)
	if err != nil {
		logger.Error("OpenFile: failed to open content", zap.Uint64("fileID", file.ID), zap.String("disk", file.Disk), zap.Error(err))
		return nil, nil, err
	}
	s.record(ctx, actor, audit.ActionFileDownload, audit.EntityFile, file.ID, nil)
	return file, rc, nil
}

// OpenContent 按磁盘名打开内容，对象不存在时返回 ErrContentMissing
func OpenContent(ctx context.Context, disks *storage.Manager, diskName, key string) (io.ReadCloser, error) {
	disk, err := disks.Disk(diskName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerr.ErrStorageError, err)
	}
	rc, err := disk.Open(ctx, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, xerr.ErrContentMissing
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerr.ErrStorageError, err)
	}
	return rc, nil
}
