package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// MinIOClient wraps MinIO client with bucket management
type MinIOClient struct {
	client *minio.Client
}

// MinIOConfig holds MinIO connection configuration
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// MinIOConfigFromSecret builds a config from the endpoint/accesskey/secretkey
// fields of a Kubernetes secret
func MinIOConfigFromSecret(data map[string][]byte, useSSL bool) (MinIOConfig, error) {
	cfg := MinIOConfig{
		Endpoint:  string(data["endpoint"]),
		AccessKey: string(data["accesskey"]),
		SecretKey: string(data["secretkey"]),
		UseSSL:    useSSL,
	}
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return MinIOConfig{}, fmt.Errorf("minio secret is missing required fields (endpoint, accesskey, secretkey)")
	}
	return cfg, nil
}

// NewMinIOClient creates a MinIO client with explicit configuration
func NewMinIOClient(config MinIOConfig) (*MinIOClient, error) {
	minioClient, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	log.Info().Str("endpoint", config.Endpoint).Msg("MinIO client initialized")
	return &MinIOClient{client: minioClient}, nil
}

// EnsureBucket creates a bucket if it doesn't exist
func (m *MinIOClient) EnsureBucket(ctx context.Context, bucketName string) error {
	exists, err := m.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if exists {
		return nil
	}

	log.Info().Str("bucket", bucketName).Msg("Creating MinIO bucket")
	if err := m.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// UploadFile uploads an object, creating the bucket first if needed
func (m *MinIOClient) UploadFile(ctx context.Context, bucketName, objectName string, reader io.Reader, size int64, contentType string) (minio.UploadInfo, error) {
	if err := m.EnsureBucket(ctx, bucketName); err != nil {
		return minio.UploadInfo{}, err
	}

	uploadInfo, err := m.client.PutObject(ctx, bucketName, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return minio.UploadInfo{}, fmt.Errorf("failed to upload file: %w", err)
	}
	return uploadInfo, nil
}

// Uploader is the part of MinIOClient the archiver needs
type Uploader interface {
	UploadFile(ctx context.Context, bucketName, objectName string, reader io.Reader, size int64, contentType string) (minio.UploadInfo, error)
}

// Archiver uploads JSON snapshots of the status store to object storage
type Archiver struct {
	uploader Uploader
	bucket   string
	store    *StatusStore
}

// NewArchiver creates an archiver writing snapshots of store into bucket
func NewArchiver(uploader Uploader, bucket string, store *StatusStore) *Archiver {
	return &Archiver{uploader: uploader, bucket: bucket, store: store}
}

// Archive uploads one snapshot and returns its object name
func (a *Archiver) Archive(ctx context.Context) (string, error) {
	snap := a.store.Snapshot(ctx)

	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	objectName := fmt.Sprintf("snapshots/%s.json", snap.TakenAt.Format("20060102T150405.000Z"))
	info, err := a.uploader.UploadFile(ctx, a.bucket, objectName, bytes.NewReader(body), int64(len(body)), "application/json")
	if err != nil {
		return "", fmt.Errorf("failed to archive snapshot: %w", err)
	}

	log.Info().Str("bucket", a.bucket).Str("object", objectName).Int64("size", info.Size).Msg("Snapshot archived")
	return objectName, nil
}
