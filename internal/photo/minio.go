// Package photo stores achievement photos in S3-compatible object storage
// and hands back the URL the completion record carries.
package photo

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"stamprally/api/internal/util"
)

type Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewStore connects to the object store and makes sure the bucket exists.
// publicURL is the externally reachable prefix for stored objects; when empty
// it falls back to the endpoint itself.
func NewStore(ctx context.Context, endpoint, accessKey, secretKey, bucket, publicURL string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	if publicURL == "" {
		scheme := "http"
		if useSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s", scheme, endpoint)
	}

	return &Store{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

// Upload stores one photo under the pin it belongs to and returns its URL.
func (s *Store) Upload(ctx context.Context, pinID string, r io.Reader, size int64, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	objectName := fmt.Sprintf("achievements/%s/%s", pinID, util.NewID("photo"))

	if _, err := s.client.PutObject(ctx, s.bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("upload photo for pin %s: %w", pinID, err)
	}

	return fmt.Sprintf("%s/%s/%s", s.publicURL, s.bucket, objectName), nil
}

// Remove deletes a stored photo given the URL returned by Upload.
func (s *Store) Remove(ctx context.Context, photoURL string) error {
	prefix := s.publicURL + "/" + s.bucket + "/"
	objectName, ok := strings.CutPrefix(photoURL, prefix)
	if !ok {
		return fmt.Errorf("photo url %q not under this store", photoURL)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove photo %s: %w", objectName, err)
	}
	return nil
}
