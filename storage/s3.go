package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"BratGen/config"
	"BratGen/logger"
	"BratGen/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Backend 文件保存在 S3 或兼容服务中
type S3Backend struct {
	bucket string
	api    *awss3.Client
	upl    *manager.Uploader
	dl     *manager.Downloader
}

func NewS3Backend(ctx context.Context, cfg *config.Config) (*S3Backend, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}
	// 未配置静态密钥时走默认凭证链
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		o.UsePathStyle = cfg.S3UsePathStyle
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			if !strings.Contains(cfg.S3Endpoint, "amazonaws.com") {
				o.UsePathStyle = true
			}
		}
	})

	logger.Info("使用 S3 存储",
		logger.String("bucket", cfg.S3Bucket),
		logger.String("region", cfg.S3Region))

	return &S3Backend{
		bucket: cfg.S3Bucket,
		api:    client,
		upl:    manager.NewUploader(client),
		dl:     manager.NewDownloader(client),
	}, nil
}

func (b *S3Backend) Kind() model.StorageKind { return model.StorageS3 }
func (b *S3Backend) Bucket() string          { return b.bucket }

func (b *S3Backend) Put(ctx context.Context, key, src, contentType string) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer f.Close()

	_, err = b.upl.Upload(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to S3: %w", key, err)
	}
	return remoteURI(model.StorageS3, b.bucket, key), nil
}

func (b *S3Backend) Fetch(ctx context.Context, key, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	_, err = b.dl.Download(ctx, f, &awss3.GetObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	closeErr := f.Close()
	if err != nil {
		os.Remove(dest)
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return fmt.Errorf("failed to download %s from S3: %w", key, err)
	}
	return closeErr
}

func (b *S3Backend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.api.GetObject(ctx, &awss3.GetObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, err
	}
	return out.Body, nil
}

func (b *S3Backend) Remove(ctx context.Context, key string) error {
	_, err := b.api.DeleteObject(ctx, &awss3.DeleteObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	return err
}

func (b *S3Backend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	p := awss3.NewListObjectsV2Paginator(b.api, &awss3.ListObjectsV2Input{Bucket: aws.String(b.bucket), Prefix: aws.String(prefix)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			out = append(out, info)
		}
	}
	return out, nil
}
