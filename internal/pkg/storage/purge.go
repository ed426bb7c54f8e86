package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/3Eeeecho/go-docstore/internal/pkg/logger"
	"go.uber.org/zap"
)

// Blob 定位一个磁盘上的对象
type Blob struct {
	Disk string
	Key  string
}

// BlobPurger 在事务提交后删除不再被引用的内容
type BlobPurger interface {
	Purge(ctx context.Context, blobs []Blob) error
}

// GroupByDisk 按磁盘分组并去重，key 排序后输出，方便批量删除
func GroupByDisk(blobs []Blob) map[string][]string {
	seen := make(map[Blob]struct{}, len(blobs))
	grouped := make(map[string][]string)
	for _, b := range blobs {
		if b.Key == "" {
			continue
		}
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		grouped[b.Disk] = append(grouped[b.Disk], b.Key)
	}
	for disk := range grouped {
		sort.Strings(grouped[disk])
	}
	return grouped
}

// DirectPurger 同步调用各磁盘的 Delete
type DirectPurger struct {
	disks *Manager
}

func NewDirectPurger(disks *Manager) *DirectPurger {
	return &DirectPurger{disks: disks}
}

func (p *DirectPurger) Purge(ctx context.Context, blobs []Blob) error {
	var errs []error
	for name, keys := range GroupByDisk(blobs) {
		if err := p.PurgeDisk(ctx, name, keys); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PurgeDisk 删除同一磁盘上的一批 key
func (p *DirectPurger) PurgeDisk(ctx context.Context, name string, keys []string) error {
	disk, err := p.disks.Disk(name)
	if err != nil {
		return err
	}
	if err := disk.Delete(ctx, keys...); err != nil {
		logger.Error("DirectPurger: failed to delete blobs",
			zap.String("disk", name), zap.Int("count", len(keys)), zap.Error(err))
		return fmt.Errorf("purge disk %s: %w", name, err)
	}
	logger.Debug("DirectPurger: blobs deleted", zap.String("disk", name), zap.Int("count", len(keys)))
	return nil
}
