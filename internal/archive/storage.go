// Package archive persists completed result sets to S3-compatible object
// storage so they survive job-row expiry and can be exported later.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"affiliatescout/internal/model"
)

// Storage wraps a MinIO client scoped to a single bucket.
type Storage struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	s := &Storage{client: client, bucket: bucket}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %q: %w", s.bucket, err)
	}
	return nil
}

type exportDocument struct {
	JobID      int64             `json:"jobId"`
	ArchivedAt time.Time         `json:"archivedAt"`
	Results    []model.Affiliate `json:"results"`
	Breakdown  map[string]int    `json:"breakdown"`
}

// UploadResults stores the final result set as a JSON document and returns
// the object key.
func (s *Storage) UploadResults(ctx context.Context, jobID int64, results []model.Affiliate, breakdown map[string]int) (string, error) {
	doc := exportDocument{
		JobID:      jobID,
		ArchivedAt: time.Now().UTC(),
		Results:    results,
		Breakdown:  breakdown,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode export document: %w", err)
	}
	key := fmt.Sprintf("searches/%d/results.json", jobID)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("upload results for job %d: %w", jobID, err)
	}
	return key, nil
}

// PresignExportURL returns a time-limited download link for an archived
// result set.
func (s *Storage) PresignExportURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %q: %w", key, err)
	}
	return u.String(), nil
}
