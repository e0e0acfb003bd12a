// Package blob stores the original uploaded document files in S3-compatible
// object storage. The converted paragraph model lives in Postgres; the raw
// upload is kept so a document can be re-converted or audited later.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store wraps a minio client scoped to one bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
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

	return &Store{client: client, bucket: bucket}, nil
}

func uploadKey(documentID, filename string) string {
	return fmt.Sprintf("uploads/%s/%s", documentID, filename)
}

// ArchiveUpload stores the raw uploaded file for a document.
func (s *Store) ArchiveUpload(ctx context.Context, documentID, filename, contentType string, data []byte) error {
	key := uploadKey(documentID, filename)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"document-id": documentID,
			"archived-at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("archive upload %s: %w", key, err)
	}
	return nil
}

// FetchUpload retrieves a previously archived upload.
func (s *Store) FetchUpload(ctx context.Context, documentID, filename string) ([]byte, error) {
	key := uploadKey(documentID, filename)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetch upload %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read upload %s: %w", key, err)
	}
	return data, nil
}

// DeleteUploads removes all archived files for a document.
func (s *Store) DeleteUploads(ctx context.Context, documentID string) error {
	prefix := fmt.Sprintf("uploads/%s/", documentID)
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("list uploads %s: %w", prefix, obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove upload %s: %w", obj.Key, err)
		}
	}
	return nil
}
