package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/3Eeeecho/go-docstore/internal/pkg/logger"
	"github.com/3Eeeecho/go-docstore/internal/pkg/storage"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
)

// Builder 在临时目录里生成 zip。本地磁盘直接读源文件，其他磁盘先拷贝到 spool 文件
type Builder struct {
	disks   *storage.Manager
	tempDir string
}

func NewBuilder(disks *storage.Manager, tempDir string) *Builder {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Builder{disks: disks, tempDir: tempDir}
}

// Archive 生成好的 zip 文件，用完必须 Close 删除
type Archive struct {
	Name    string
	Path    string
	Size    int64
	Entries int
}

func (a *Archive) Open() (*os.File, error) {
	return os.Open(a.Path)
}

func (a *Archive) Close() error {
	err := os.Remove(a.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Build 任一条目失败都会删除已创建的 spool 文件和未完成的 zip
func (b *Builder) Build(ctx context.Context, name string, entries []Entry) (arc *Archive, err error) {
	if err := os.MkdirAll(b.tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", xerr.ErrArchiveBuildFailure, err)
	}
	out, err := os.CreateTemp(b.tempDir, "archive-*.zip")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerr.ErrArchiveBuildFailure, err)
	}

	var spools []string
	closed := false
	defer func() {
		for _, p := range spools {
			if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				logger.Warn("archive: failed to remove spool file", zap.String("path", p), zap.Error(rmErr))
			}
		}
		if err != nil {
			if !closed {
				_ = out.Close()
			}
			_ = os.Remove(out.Name())
		}
	}()

	zw := zip.NewWriter(out)
	for i := range entries {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %v", xerr.ErrArchiveBuildFailure, ctxErr)
		}
		e := &entries[i]
		if e.Dir {
			if _, err := zw.CreateHeader(&zip.FileHeader{Name: e.Path, Method: zip.Store, Modified: e.Modified}); err != nil {
				return nil, fmt.Errorf("%w: %v", xerr.ErrArchiveBuildFailure, err)
			}
			continue
		}
		if err := b.add(ctx, zw, e, &spools); err != nil {
			logger.Warn("archive: entry failed", zap.String("path", e.Path), zap.Uint64("fileID", e.FileID), zap.Error(err))
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", xerr.ErrArchiveBuildFailure, err)
	}
	closed = true
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", xerr.ErrArchiveBuildFailure, err)
	}
	info, err := os.Stat(out.Name())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerr.ErrArchiveBuildFailure, err)
	}
	return &Archive{Name: name, Path: out.Name(), Size: info.Size(), Entries: len(entries)}, nil
}

func (b *Builder) add(ctx context.Context, zw *zip.Writer, e *Entry, spools *[]string) error {
	disk, err := b.disks.Disk(e.Disk)
	if err != nil {
		return fmt.Errorf("%w: %v", xerr.ErrArchiveBuildFailure, err)
	}

	var src io.ReadCloser
	if lp, ok := disk.(storage.LocalPather); ok {
		p, err := lp.LocalPath(e.Key)
		if errors.Is(err, storage.ErrObjectNotFound) {
			return fmt.Errorf("%s: %w", e.Path, xerr.ErrContentMissing)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", xerr.ErrArchiveBuildFailure, err)
		}
		f, err := os.Open(p)
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", e.Path, xerr.ErrContentMissing)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", xerr.ErrArchiveBuildFailure, err)
		}
		src = f
	} else {
		spool, err := b.spool(ctx, disk, e, spools)
		if err != nil {
			return err
		}
		// 加入 zip 后立即删除
		defer func() { _ = os.Remove(spool.Name()) }()
		src = spool
	}
	defer src.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: e.Path, Method: zip.Deflate, Modified: e.Modified})
	if err != nil {
		return fmt.Errorf("%w: %v", xerr.ErrArchiveBuildFailure, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("%w: %v", xerr.ErrArchiveBuildFailure, err)
	}
	return nil
}

// spool 远程对象先落到本地临时文件，返回的文件已定位到开头
func (b *Builder) spool(ctx context.Context, disk storage.Disk, e *Entry, spools *[]string) (*os.File, error) {
	rc, err := disk.Open(ctx, e.Key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, fmt.Errorf("%s: %w", e.Path, xerr.ErrContentMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerr.ErrArchiveBuildFailure, err)
	}
	defer rc.Close()

	f, err := os.CreateTemp(b.tempDir, "spool-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerr.ErrArchiveBuildFailure, err)
	}
	*spools = append(*spools, f.Name())
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %v", xerr.ErrArchiveBuildFailure, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %v", xerr.ErrArchiveBuildFailure, err)
	}
	return f, nil
}
