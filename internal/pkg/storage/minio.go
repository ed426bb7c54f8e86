package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/3Eeeecho/go-docstore/internal/config"
	"github.com/3Eeeecho/go-docstore/internal/pkg/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

type MinIODisk struct {
	name   string
	client *minio.Client
	bucket string
	prefix string
}

// NewMinIODisk 创建并返回一个 MinIO 磁盘，桶不存在时自动创建
func NewMinIODisk(ctx context.Context, name string, cfg config.DiskConfig) (*MinIODisk, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		logger.Error("初始化 MinIO 客户端失败", zap.String("disk", name), zap.Error(err))
		return nil, fmt.Errorf("无法初始化 MinIO 客户端: %w", err)
	}

	d := &MinIODisk{name: name, client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}
	if err := d.ensureBucket(ctx); err != nil {
		return nil, err
	}
	logger.Info("MinIO 磁盘初始化成功", zap.String("disk", name), zap.String("endpoint", cfg.Endpoint), zap.String("bucket", cfg.Bucket))
	return d, nil
}

func (d *MinIODisk) ensureBucket(ctx context.Context) error {
	exists, err := d.client.BucketExists(ctx, d.bucket)
	if err != nil {
		return fmt.Errorf("检查 MinIO 存储桶存在性失败: %w", err)
	}
	if exists {
		return nil
	}
	if err := d.client.MakeBucket(ctx, d.bucket, minio.MakeBucketOptions{}); err != nil {
		// 并发创建时桶可能已经被别人建好
		if ok, errExists := d.client.BucketExists(ctx, d.bucket); errExists == nil && ok {
			return nil
		}
		return fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
	}
	logger.Info("MinIO 存储桶创建成功", zap.String("bucket", d.bucket))
	return nil
}

func (d *MinIODisk) Name() string { return d.name }

func (d *MinIODisk) key(k string) string {
	if d.prefix == "" {
		return k
	}
	return path.Join(d.prefix, k)
}

func isMinIONotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (d *MinIODisk) Exists(ctx context.Context, key string) (bool, error) {
	_, err := d.client.StatObject(ctx, d.bucket, d.key(key), minio.StatObjectOptions{})
	if err != nil {
		if isMinIONotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("MinIO 获取对象信息失败: %w", err)
	}
	return true, nil
}

func (d *MinIODisk) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	// GetObject 是惰性的，先 Stat 一次才能区分对象不存在
	if _, err := d.Size(ctx, key); err != nil {
		return nil, err
	}
	obj, err := d.client.GetObject(ctx, d.bucket, d.key(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("MinIO 获取文件失败: %w", err)
	}
	return obj, nil
}

func (d *MinIODisk) Size(ctx context.Context, key string) (int64, error) {
	info, err := d.client.StatObject(ctx, d.bucket, d.key(key), minio.StatObjectOptions{})
	if err != nil {
		if isMinIONotFound(err) {
			return 0, fmt.Errorf("%s/%s: %w", d.name, key, ErrObjectNotFound)
		}
		return 0, fmt.Errorf("MinIO 获取对象信息失败: %w", err)
	}
	return info.Size, nil
}

func (d *MinIODisk) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := d.client.PutObject(ctx, d.bucket, d.key(key), r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("MinIO 上传文件失败: %w", err)
	}
	return nil
}

// Move 服务端拷贝后删除源对象
func (d *MinIODisk) Move(ctx context.Context, src, dst string) error {
	_, err := d.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: d.bucket, Object: d.key(dst)},
		minio.CopySrcOptions{Bucket: d.bucket, Object: d.key(src)},
	)
	if err != nil {
		if isMinIONotFound(err) {
			return fmt.Errorf("%s/%s: %w", d.name, src, ErrObjectNotFound)
		}
		return fmt.Errorf("MinIO 拷贝对象失败: %w", err)
	}
	if err := d.client.RemoveObject(ctx, d.bucket, d.key(src), minio.RemoveObjectOptions{}); err != nil {
		logger.Warn("MinIO 删除源对象失败", zap.String("object", src), zap.Error(err))
	}
	return nil
}

func (d *MinIODisk) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	objects := make(chan minio.ObjectInfo, len(keys))
	for _, k := range keys {
		objects <- minio.ObjectInfo{Key: d.key(k)}
	}
	close(objects)

	var errs []error
	for rErr := range d.client.RemoveObjects(ctx, d.bucket, objects, minio.RemoveObjectsOptions{}) {
		if rErr.Err != nil && !isMinIONotFound(rErr.Err) {
			errs = append(errs, fmt.Errorf("MinIO 删除文件失败 %s: %w", rErr.ObjectName, rErr.Err))
		}
	}
	return errors.Join(errs...)
}
