package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"mvgen/config"
	"mvgen/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotConfigured 对象存储未配置
var ErrNotConfigured = errors.New("object storage not configured")

// ExportPrefix 导出视频在存储桶中的目录前缀
const ExportPrefix = "exports/"

// ArtifactStore 导出产物的对象存储
type ArtifactStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore 根据配置创建 MinIO 客户端并确保存储桶存在
func NewMinioStore(ctx context.Context, cfg *config.Config) (*ArtifactStore, error) {
	if !cfg.MinioEnabled() {
		return nil, ErrNotConfigured
	}

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	store := &ArtifactStore{client: client, bucket: cfg.MinioBucket}
	if err := store.ensureBucket(ctx, cfg.MinioRegion); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *ArtifactStore) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}
	if exists {
		logger.Debug("存储桶已存在", logger.String("bucket", s.bucket))
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("创建存储桶失败: %w", err)
	}
	logger.Info("成功创建存储桶", logger.String("bucket", s.bucket))
	return nil
}

// Bucket 返回存储桶名称
func (s *ArtifactStore) Bucket() string {
	return s.bucket
}

// ObjectKey 为导出文件生成对象名
func ObjectKey(projectID, localPath string) string {
	return path.Join(strings.TrimSuffix(ExportPrefix, "/"), projectID, filepath.Base(localPath))
}

// Publish 上传本地导出文件，返回对象名
func (s *ArtifactStore) Publish(ctx context.Context, localPath, objectKey string) (string, error) {
	info, err := s.client.FPutObject(ctx, s.bucket, objectKey, localPath, minio.PutObjectOptions{
		ContentType: inferContentType(localPath),
	})
	if err != nil {
		return "", fmt.Errorf("上传导出文件失败: %w", err)
	}

	logger.Info("导出文件已上传",
		logger.String("bucket", s.bucket),
		logger.String("key", info.Key),
		logger.Int64("size", info.Size))
	return info.Key, nil
}

// PresignedURL 生成限时下载地址
func (s *ArtifactStore) PresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", path.Base(objectKey)))

	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, expiry, params)
	if err != nil {
		return "", fmt.Errorf("生成下载地址失败: %w", err)
	}
	return u.String(), nil
}
