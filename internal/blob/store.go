// Package blob stores message attachments in S3-compatible object storage and
// hands out one-time upload slots.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"huddle/api/internal/util"
)

// ErrInvalidStorageID is returned for identifiers this store never issued.
var ErrInvalidStorageID = errors.New("invalid storage id")

const (
	storagePrefix = "blob"
	workspaceMeta = "Workspace"
)

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	URLTTL    time.Duration
}

// Store keeps attachment bytes in a single bucket. Storage ids are object
// names.
type Store struct {
	client *minio.Client
	bucket string
	urlTTL time.Duration
}

func NewStore(ctx context.Context, opts Options) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}

	ttl := opts.URLTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{client: client, bucket: opts.Bucket, urlTTL: ttl}, nil
}

// Put writes the body for workspaceID and returns its storage id.
func (s *Store) Put(ctx context.Context, workspaceID string, body io.Reader, size int64, contentType string) (string, error) {
	storageID := util.NewID(storagePrefix)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := s.client.PutObject(ctx, s.bucket, storageID, body, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{workspaceMeta: workspaceID},
	}); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return storageID, nil
}

// URL returns a time-limited download URL for a stored attachment.
func (s *Store) URL(ctx context.Context, storageID string) (string, error) {
	if !ValidStorageID(storageID) {
		return "", ErrInvalidStorageID
	}
	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, storageID, s.urlTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return presigned.String(), nil
}

// Workspace returns the workspace an attachment was uploaded for.
func (s *Store) Workspace(ctx context.Context, storageID string) (string, error) {
	if !ValidStorageID(storageID) {
		return "", ErrInvalidStorageID
	}
	info, err := s.client.StatObject(ctx, s.bucket, storageID, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", ErrInvalidStorageID
		}
		return "", fmt.Errorf("stat object: %w", err)
	}
	return workspaceOf(info.UserMetadata), nil
}

// workspaceOf reads the workspace entry regardless of how the server cased
// the metadata key.
func workspaceOf(meta map[string]string) string {
	for key, value := range meta {
		if strings.EqualFold(strings.TrimPrefix(strings.ToLower(key), "x-amz-meta-"), workspaceMeta) {
			return value
		}
	}
	return ""
}

func (s *Store) Delete(ctx context.Context, storageID string) error {
	if !ValidStorageID(storageID) {
		return ErrInvalidStorageID
	}
	if err := s.client.RemoveObject(ctx, s.bucket, storageID, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

// Ping checks that the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

// ValidStorageID reports whether id has the shape of an id issued by Put.
func ValidStorageID(id string) bool {
	rest, ok := strings.CutPrefix(id, storagePrefix+"_")
	if !ok || len(rest) != 32 {
		return false
	}
	for _, r := range rest {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}
