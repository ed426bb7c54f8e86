package setup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/3Eeeecho/go-docstore/internal/config"
	"github.com/3Eeeecho/go-docstore/internal/pkg/logger"
	"github.com/3Eeeecho/go-docstore/internal/pkg/storage"
	"go.uber.org/zap"
)

// NewDisk 按驱动创建单个磁盘
func NewDisk(ctx context.Context, name string, cfg config.DiskConfig) (storage.Disk, error) {
	switch cfg.Driver {
	case "local":
		return storage.NewLocalDisk(name, cfg.Root)
	case "minio":
		return storage.NewMinIODisk(ctx, name, cfg)
	case "s3":
		return storage.NewS3Disk(ctx, name, cfg)
	case "aliyun_oss":
		return storage.NewAliyunOSSDisk(name, cfg)
	default:
		return nil, fmt.Errorf("disk %q: unsupported driver %q", name, cfg.Driver)
	}
}

// InitStorage 初始化所有配置的磁盘
func InitStorage(ctx context.Context, cfg *config.StorageConfig) (*storage.Manager, error) {
	// 远程磁盘初始化时可能要建桶
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	names := make([]string, 0, len(cfg.Disks))
	for name := range cfg.Disks {
		names = append(names, name)
	}
	sort.Strings(names)

	disks := make([]storage.Disk, 0, len(names))
	for _, name := range names {
		d, err := NewDisk(ctx, name, cfg.Disks[name])
		if err != nil {
			return nil, fmt.Errorf("初始化磁盘 %s 失败: %w", name, err)
		}
		logger.Info("磁盘已初始化", zap.String("disk", name), zap.String("driver", cfg.Disks[name].Driver))
		disks = append(disks, d)
	}
	return storage.NewManager(cfg.DefaultDisk, disks...)
}
