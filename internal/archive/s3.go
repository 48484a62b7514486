// Package archive copies persisted autoship snapshots to S3 so that
// history survives retention pruning.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/exigo-bridge/internal/domain"
	"github.com/ignite/exigo-bridge/internal/pkg/logger"
)

// S3API is the subset of the S3 client the archiver uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config controls where snapshots land.
type Config struct {
	Bucket   string
	Prefix   string // defaults to "snapshots/"
	Compress bool
}

// S3Archiver writes one JSON object per snapshot.
type S3Archiver struct {
	client   S3API
	bucket   string
	prefix   string
	compress bool
}

// NewS3Archiver returns an archiver writing to cfg.Bucket.
func NewS3Archiver(client S3API, cfg Config) *S3Archiver {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "snapshots/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Archiver{client: client, bucket: cfg.Bucket, prefix: prefix, compress: cfg.Compress}
}

type archivedSnapshot struct {
	ID          string    `json:"id"`
	CompanyID   string    `json:"company_id"`
	CapturedAt  time.Time `json:"captured_at"`
	Count       int       `json:"count"`
	ExternalIDs []string  `json:"external_ids"`
}

// Key returns the object key for snap.
func (a *S3Archiver) Key(snap *domain.AutoshipSnapshot) string {
	name := snap.CapturedAt.UTC().Format("20060102T150405Z") + ".json"
	if a.compress {
		name += ".gz"
	}
	return path.Join(a.prefix, snap.CompanyID, name)
}

// ArchiveSnapshot uploads snap. Callers treat failures as non-fatal.
func (a *S3Archiver) ArchiveSnapshot(ctx context.Context, snap *domain.AutoshipSnapshot) error {
	if snap == nil {
		return nil
	}
	body, err := json.Marshal(archivedSnapshot{
		ID:          snap.ID,
		CompanyID:   snap.CompanyID,
		CapturedAt:  snap.CapturedAt.UTC(),
		Count:       len(snap.ExternalIDs),
		ExternalIDs: snap.ExternalIDs,
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	in := &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(snap)),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"snapshot-id": snap.ID,
			"company-id":  snap.CompanyID,
		},
	}
	if a.compress {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(body); err != nil {
			return fmt.Errorf("compress snapshot: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("compress snapshot: %w", err)
		}
		body = buf.Bytes()
		in.ContentEncoding = aws.String("gzip")
	}
	in.Body = bytes.NewReader(body)

	if _, err := a.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.bucket, *in.Key, err)
	}
	logger.Debug("snapshot archived", "company", snap.CompanyID, "key", *in.Key, "bytes", len(body))
	return nil
}
