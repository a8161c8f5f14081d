package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"BratGen/config"
	"BratGen/logger"
	"BratGen/model"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioBackend 文件保存在 MinIO 存储桶中
type MinioBackend struct {
	client *minio.Client
	bucket string
}

// NewMinioBackend 连接 MinIO, 存储桶不存在时创建
func NewMinioBackend(ctx context.Context, cfg *config.Config) (*MinioBackend, error) {
	logger.Info("正在连接 MinIO 服务器",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.MinioBucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.MinioBucket, err)
		}
		logger.Info("已创建存储桶", logger.String("bucket", cfg.MinioBucket))
	}

	return &MinioBackend{client: client, bucket: cfg.MinioBucket}, nil
}

func (b *MinioBackend) Kind() model.StorageKind { return model.StorageMinio }
func (b *MinioBackend) Bucket() string          { return b.bucket }

func (b *MinioBackend) Put(ctx context.Context, key, src, contentType string) (string, error) {
	info, err := b.client.FPutObject(ctx, b.bucket, key, src, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to MinIO: %w", key, err)
	}
	logger.Debug("已上传到 MinIO", logger.String("key", key), logger.Size("size", info.Size))
	return remoteURI(model.StorageMinio, b.bucket, key), nil
}

func (b *MinioBackend) Fetch(ctx context.Context, key, dest string) error {
	if err := b.client.FGetObject(ctx, b.bucket, key, dest, minio.GetObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return fmt.Errorf("failed to download %s from MinIO: %w", key, err)
	}
	return nil
}

func (b *MinioBackend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	// GetObject 是惰性的, Stat 确认对象存在
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return obj, nil
}

func (b *MinioBackend) Remove(ctx context.Context, key string) error {
	return b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{})
}

func (b *MinioBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for object := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", object.Err)
		}
		out = append(out, ObjectInfo{Key: object.Key, Size: object.Size, LastModified: object.LastModified})
	}
	return out, nil
}
