package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/3Eeeecho/go-docstore/internal/config"
	"github.com/3Eeeecho/go-docstore/internal/pkg/logger"
	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"go.uber.org/zap"
)

// OSS 单次批量删除上限
const ossDeleteBatch = 1000

type AliyunOSSDisk struct {
	name   string
	bucket *oss.Bucket
	prefix string
}

// NewAliyunOSSDisk 创建并返回一个阿里云 OSS 磁盘
func NewAliyunOSSDisk(name string, cfg config.DiskConfig) (*AliyunOSSDisk, error) {
	// OSS Endpoint 应该包含 http:// 或 https:// 前缀
	endpoint := cfg.Endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if cfg.UseSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}

	client, err := oss.New(endpoint, cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		logger.Error("初始化阿里云OSS客户端失败", zap.Error(err))
		return nil, fmt.Errorf("无法初始化阿里云OSS客户端: %w", err)
	}

	exists, err := client.IsBucketExist(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("检查阿里云OSS存储桶存在性失败: %w", err)
	}
	if !exists {
		if err := client.CreateBucket(cfg.Bucket); err != nil {
			var ossErr oss.ServiceError
			if !errors.As(err, &ossErr) || (ossErr.Code != "BucketAlreadyExists" && ossErr.Code != "BucketAlreadyOwnedByYou") {
				return nil, fmt.Errorf("创建阿里云OSS存储桶失败: %w", err)
			}
		}
		logger.Info("阿里云OSS存储桶创建成功", zap.String("bucket", cfg.Bucket))
	}

	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("获取OSS存储桶失败: %w", err)
	}
	logger.Info("阿里云OSS磁盘初始化成功", zap.String("disk", name), zap.String("endpoint", endpoint))
	return &AliyunOSSDisk{name: name, bucket: bucket, prefix: cfg.Prefix}, nil
}

func (d *AliyunOSSDisk) Name() string { return d.name }

func (d *AliyunOSSDisk) key(k string) string {
	if d.prefix == "" {
		return k
	}
	return path.Join(d.prefix, k)
}

func isOSSNotFound(err error) bool {
	var ossErr oss.ServiceError
	if errors.As(err, &ossErr) {
		return ossErr.Code == "NoSuchKey" || ossErr.StatusCode == 404
	}
	return false
}

// OSS SDK 没有 ctx 参数，只能在调用前检查
func (d *AliyunOSSDisk) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := d.bucket.IsObjectExist(d.key(key))
	if err != nil {
		return false, fmt.Errorf("阿里云OSS检查对象失败: %w", err)
	}
	return ok, nil
}

func (d *AliyunOSSDisk) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reader, err := d.bucket.GetObject(d.key(key))
	if err != nil {
		if isOSSNotFound(err) {
			return nil, fmt.Errorf("%s/%s: %w", d.name, key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("阿里云OSS获取文件失败: %w", err)
	}
	return reader, nil
}

func (d *AliyunOSSDisk) Size(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	props, err := d.bucket.GetObjectDetailedMeta(d.key(key))
	if err != nil {
		if isOSSNotFound(err) {
			return 0, fmt.Errorf("%s/%s: %w", d.name, key, ErrObjectNotFound)
		}
		return 0, fmt.Errorf("获取OSS对象元数据失败: %w", err)
	}
	return strconv.ParseInt(props.Get(oss.HTTPHeaderContentLength), 10, 64)
}

func (d *AliyunOSSDisk) Put(ctx context.Context, key string, r io.Reader, _ int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var opts []oss.Option
	if contentType != "" {
		opts = append(opts, oss.ContentType(contentType))
	}
	if err := d.bucket.PutObject(d.key(key), r, opts...); err != nil {
		return fmt.Errorf("阿里云OSS上传文件失败: %w", err)
	}
	return nil
}

func (d *AliyunOSSDisk) Move(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := d.bucket.CopyObject(d.key(src), d.key(dst)); err != nil {
		if isOSSNotFound(err) {
			return fmt.Errorf("%s/%s: %w", d.name, src, ErrObjectNotFound)
		}
		return fmt.Errorf("阿里云OSS拷贝对象失败: %w", err)
	}
	if err := d.bucket.DeleteObject(d.key(src)); err != nil {
		logger.Warn("阿里云OSS删除源对象失败", zap.String("object", src), zap.Error(err))
	}
	return nil
}

func (d *AliyunOSSDisk) Delete(ctx context.Context, keys ...string) error {
	for i := 0; i < len(keys); i += ossDeleteBatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(i+ossDeleteBatch, len(keys))
		batch := make([]string, 0, end-i)
		for _, k := range keys[i:end] {
			batch = append(batch, d.key(k))
		}
		if _, err := d.bucket.DeleteObjects(batch, oss.DeleteObjectsQuiet(true)); err != nil {
			return fmt.Errorf("阿里云OSS删除文件失败: %w", err)
		}
	}
	return nil
}
