package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/snditnz/verbumcare-demo-sub003/internal/config"
)

// MinioStore keeps audio in an S3-compatible bucket, for deployments where
// the API server is not the only reader of the raw audio.
type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(cfg config.MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket makes sure the audio bucket exists before first use.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

func (s *MinioStore) Save(ctx context.Context, id, filename string, r io.Reader, size int64) (string, error) {
	key := id + "/" + sanitize(filename)
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("upload audio object: %w", err)
	}
	return key, nil
}

func (s *MinioStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get audio object: %w", err)
	}
	// GetObject is lazy; stat first so a missing key surfaces here, not mid-read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("stat audio object: %w", err)
	}
	return obj, nil
}

func (s *MinioStore) Delete(ctx context.Context, ref string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, ref, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete audio object: %w", err)
	}
	return nil
}
