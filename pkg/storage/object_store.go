package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archive stores full text blobs that are too large or too sensitive for the
// relational store: complete transcripts, and forensic snapshots of text that
// tripped a critical moderation flag.
type Archive interface {
	PutText(ctx context.Context, key, text string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// TranscriptKey is the archive key for a content row's full transcript.
func TranscriptKey(contentID string) string {
	return "transcripts/" + contentID
}

// ForensicKey is the archive key for a flagged-text snapshot, addressed by
// content hash so duplicate submissions share one snapshot.
func ForensicKey(contentHash string) string {
	return "forensics/" + contentHash
}

// MinioArchive implements Archive on MinIO/S3 compatible storage.
type MinioArchive struct {
	client *minio.Client
	bucket string
}

// NewMinioArchive connects to MinIO and ensures the bucket exists.
func NewMinioArchive(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioArchive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioArchive{client: client, bucket: bucket}, nil
}

// PutText uploads a text blob.
func (m *MinioArchive) PutText(ctx context.Context, key, text string) error {
	reader := strings.NewReader(text)
	_, err := m.client.PutObject(ctx, m.bucket, key, reader, int64(reader.Len()),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// PresignGet generates a pre-signed GET URL for the review interface.
func (m *MinioArchive) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	url, err := m.client.PresignedGetObject(ctx, m.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return url.String(), nil
}

// MemoryArchive keeps blobs in process; used by tests.
type MemoryArchive struct {
	Objects map[string]string
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{Objects: make(map[string]string)}
}

func (m *MemoryArchive) PutText(_ context.Context, key, text string) error {
	m.Objects[key] = text
	return nil
}

func (m *MemoryArchive) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	if _, ok := m.Objects[key]; !ok {
		return "", io.EOF
	}
	return "memory://" + key, nil
}
