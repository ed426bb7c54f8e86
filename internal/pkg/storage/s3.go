package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"

	"github.com/3Eeeecho/go-docstore/internal/config"
	"github.com/3Eeeecho/go-docstore/internal/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// DeleteObjects 单次上限
const s3DeleteBatch = 1000

type S3Disk struct {
	name   string
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Disk 使用默认凭证链创建 S3 磁盘，配置了 access key 时改用静态凭证
func NewS3Disk(ctx context.Context, name string, cfg config.DiskConfig) (*S3Disk, error) {
	var opts []func(*awsConfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsConfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	opts = append(opts, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = 5
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// MinIO/Localstack 需要 path-style
		o.UsePathStyle = cfg.ForcePathStyle || cfg.Endpoint != ""
	})

	logger.Info("S3 磁盘初始化成功", zap.String("disk", name), zap.String("bucket", cfg.Bucket), zap.String("region", cfg.Region))
	return &S3Disk{name: name, client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (d *S3Disk) Name() string { return d.name }

func (d *S3Disk) key(k string) string {
	if d.prefix == "" {
		return k
	}
	return path.Join(d.prefix, k)
}

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

func (d *S3Disk) Exists(ctx context.Context, key string) (bool, error) {
	_, err := d.Size(ctx, key)
	if errors.Is(err, ErrObjectNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (d *S3Disk) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%s/%s: %w", d.name, key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("S3 获取文件失败: %w", err)
	}
	return out.Body, nil
}

func (d *S3Disk) Size(ctx context.Context, key string) (int64, error) {
	out, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return 0, fmt.Errorf("%s/%s: %w", d.name, key, ErrObjectNotFound)
		}
		return 0, fmt.Errorf("S3 获取对象信息失败: %w", err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// Put 要求可 Seek 的 body 才能签名，普通流先落到临时文件
func (d *S3Disk) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	body, ok := r.(io.ReadSeeker)
	if !ok {
		tmp, err := os.CreateTemp("", "s3-put-*")
		if err != nil {
			return err
		}
		defer func() {
			tmp.Close()
			os.Remove(tmp.Name())
		}()
		n, err := io.Copy(tmp, r)
		if err != nil {
			return fmt.Errorf("spool %s: %w", key, err)
		}
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return err
		}
		body, size = tmp, n
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(key)),
		Body:   body,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := d.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("S3 上传文件失败: %w", err)
	}
	return nil
}

func (d *S3Disk) Move(ctx context.Context, src, dst string) error {
	source := (&url.URL{Path: d.bucket + "/" + d.key(src)}).EscapedPath()
	_, err := d.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		Key:        aws.String(d.key(dst)),
		CopySource: aws.String(source),
	})
	if err != nil {
		if isS3NotFound(err) {
			return fmt.Errorf("%s/%s: %w", d.name, src, ErrObjectNotFound)
		}
		return fmt.Errorf("S3 拷贝对象失败: %w", err)
	}
	if _, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(src)),
	}); err != nil {
		logger.Warn("S3 删除源对象失败", zap.String("object", src), zap.Error(err))
	}
	return nil
}

func (d *S3Disk) Delete(ctx context.Context, keys ...string) error {
	var errs []error
	for i := 0; i < len(keys); i += s3DeleteBatch {
		end := min(i+s3DeleteBatch, len(keys))
		objects := make([]types.ObjectIdentifier, 0, end-i)
		for _, k := range keys[i:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(d.key(k))})
		}

		result, err := d.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(d.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("S3 批量删除失败: %w", err))
			continue
		}
		for _, e := range result.Errors {
			errs = append(errs, fmt.Errorf("S3 删除 %s 失败: %s", aws.ToString(e.Key), aws.ToString(e.Message)))
		}
	}
	return errors.Join(errs...)
}
