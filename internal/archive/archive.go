// Package archive copies finished analysis reports to S3-compatible object
// storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kiranshivaraju/codereview/internal/config"
	"github.com/kiranshivaraju/codereview/pkg/models"
)

// objectStore is the part of *minio.Client the archive uses.
type objectStore interface {
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (*minio.Object, error)
}

// Report is the archived document.
type Report struct {
	Result *models.AnalysisResult `json:"result"`
	Issues []models.Issue         `json:"issues"`
}

// Store writes reports to one bucket.
type Store struct {
	client objectStore
	bucket string
}

// New connects to the bucket in cfg, creating it when missing.
func New(ctx context.Context, cfg config.ArchiveConfig) (*Store, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("archive client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &Store{client: cli, bucket: cfg.Bucket}, nil
}

// ObjectKey is where the report of an analysis is stored. Reports are grouped by
// completion month.
func ObjectKey(result *models.AnalysisResult) string {
	return fmt.Sprintf("reports/%s/%s.json", result.CompletedAt.UTC().Format("2006/01"), result.AnalysisID)
}

// Archive uploads the report as JSON.
func (s *Store) Archive(ctx context.Context, result *models.AnalysisResult, issues []models.Issue) error {
	data, err := json.Marshal(Report{Result: result, Issues: issues})
	if err != nil {
		return fmt.Errorf("encode report %s: %w", result.AnalysisID, err)
	}
	key := ObjectKey(result)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"analysis-id": result.AnalysisID,
			"repository":  result.Repository,
		},
	})
	if err != nil {
		return fmt.Errorf("upload report %s: %w", key, err)
	}
	return nil
}

// Load reads an archived report back.
func (s *Store) Load(ctx context.Context, key string) (*Report, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("open report %s: %w", key, err)
	}
	defer obj.Close()

	var report Report
	if err := json.NewDecoder(obj).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", key, err)
	}
	return &report, nil
}
