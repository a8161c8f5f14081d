package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"BratGen/config"
	"BratGen/model"
)

var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo 存储中的一个对象
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Usage 某个前缀下的对象统计
type Usage struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// Backend 文件的最终落点. key 为相对路径, 如 uploads/{id}/video.mp4
type Backend interface {
	Kind() model.StorageKind
	Bucket() string
	// Put 把本地文件 src 存到 key 下, 返回记录在 StoredFile.Path 中的位置
	Put(ctx context.Context, key, src, contentType string) (string, error)
	// Fetch 把 key 下载到本地 dest
	Fetch(ctx context.Context, key, dest string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// NewBackend 根据 STORAGE_BACKEND 创建后端
func NewBackend(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.StorageBackend {
	case "", string(model.StorageLocal):
		return NewLocalBackend(cfg.StorageRoot), nil
	case string(model.StorageMinio):
		return NewMinioBackend(ctx, cfg)
	case string(model.StorageS3):
		return NewS3Backend(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// SummarizeUsage 统计对象数量和总大小
func SummarizeUsage(objects []ObjectInfo) Usage {
	var u Usage
	for _, o := range objects {
		u.TotalObjects++
		u.TotalSize += o.Size
		if o.LastModified.After(u.LastModified) {
			u.LastModified = o.LastModified
		}
	}
	return u
}

func remoteURI(kind model.StorageKind, bucket, key string) string {
	return fmt.Sprintf("%s://%s/%s", kind, bucket, key)
}
