package evidence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver cold-archives a snapshot's canonical payload, keyed by its
// sha256, to long-term object storage. Archiving is additive: the
// Postgres/SQLite row in evidence_snapshots remains the system of record
// for reads; the archive exists so operators can offload old payloads
// without losing them.
type Archiver interface {
	Archive(ctx context.Context, sha256 string, payload []byte) error
	Fetch(ctx context.Context, sha256 string) ([]byte, error)
}

// NoopArchiver is used when EVIDENCE_ARCHIVE_BACKEND is unset.
type NoopArchiver struct{}

func (NoopArchiver) Archive(ctx context.Context, sha256 string, payload []byte) error { return nil }
func (NoopArchiver) Fetch(ctx context.Context, sha256 string) ([]byte, error) {
	return nil, fmt.Errorf("evidence: archiver not configured")
}

// NewArchiver builds the configured backend, or NoopArchiver if backend is
// empty.
func NewArchiver(ctx context.Context, backend, bucket string) (Archiver, error) {
	switch backend {
	case "":
		return NoopArchiver{}, nil
	case "gcs":
		return NewGCSArchiver(ctx, bucket)
	case "s3":
		return NewS3Archiver(ctx, bucket)
	default:
		return nil, fmt.Errorf("evidence: unknown archive backend %q", backend)
	}
}

// S3Archiver archives evidence payloads to an S3 bucket, one object per
// sha256.
type S3Archiver struct {
	client *s3.Client
	bucket string
}

func NewS3Archiver(ctx context.Context, bucket string) (*S3Archiver, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("evidence: load aws config: %w", err)
	}
	return &S3Archiver{client: s3.NewFromConfig(awsCfg), bucket: bucket}, nil
}

func (a *S3Archiver) Archive(ctx context.Context, sha256 string, payload []byte) error {
	key := sha256 + ".json"

	if _, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket), Key: aws.String(key),
	}); err == nil {
		return nil // already archived
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("evidence: s3 archive %s: %w", sha256, err)
	}
	return nil
}

func (a *S3Archiver) Fetch(ctx context.Context, sha256 string) ([]byte, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket), Key: aws.String(sha256 + ".json"),
	})
	if err != nil {
		return nil, fmt.Errorf("evidence: s3 fetch %s: %w", sha256, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// GCSArchiver archives evidence payloads to a GCS bucket.
type GCSArchiver struct {
	client *storage.Client
	bucket string
}

func NewGCSArchiver(ctx context.Context, bucket string) (*GCSArchiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("evidence: create gcs client: %w", err)
	}
	return &GCSArchiver{client: client, bucket: bucket}, nil
}

func (a *GCSArchiver) Archive(ctx context.Context, sha256 string, payload []byte) error {
	obj := a.client.Bucket(a.bucket).Object(sha256 + ".json")
	if _, err := obj.Attrs(ctx); err == nil {
		return nil // already archived
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return fmt.Errorf("evidence: gcs write %s: %w", sha256, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("evidence: gcs close %s: %w", sha256, err)
	}
	return nil
}

func (a *GCSArchiver) Fetch(ctx context.Context, sha256 string) ([]byte, error) {
	reader, err := a.client.Bucket(a.bucket).Object(sha256 + ".json").NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("evidence: %s not archived", sha256)
		}
		return nil, fmt.Errorf("evidence: gcs fetch %s: %w", sha256, err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
