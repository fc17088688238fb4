// Package blobstore is the BlobStore capability (spec.md §1, §6): an
// S3-compatible object store holding raw ingestion blobs and per-job
// reject logs at the deterministic paths spec.md §6 defines. Backed by
// github.com/minio/minio-go/v7, which speaks the S3 API against MinIO in
// development and S3/GCS-interop in production (sourced from the wider
// example corpus's go.mod manifests, per the enrichment rule — the teacher
// itself has no object-storage dependency).
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/avesa-io/avesa/internal/avesaerr"
)

// BlobStore is the capability interface the Chunk Processor and Canonical
// Transformer depend on.
type BlobStore interface {
	// Put uploads contents at path, replacing any prior object there
	// (blobs are immutable by convention — callers never re-Put an
	// already-succeeded chunk's path).
	Put(ctx context.Context, path string, contents []byte) error
	// Get downloads the object at path.
	Get(ctx context.Context, path string) ([]byte, error)
	// Exists reports whether an object is present at path. The Tenant
	// Processor calls it to skip a succeeded chunk whose raw blob is missing
	// before submitting blobs to the Canonical Transformer.
	Exists(ctx context.Context, path string) (bool, error)
}

// MinioStore implements BlobStore against any S3-compatible endpoint.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// New connects to an S3-compatible endpoint and returns a ready MinioStore.
// It does not create the bucket; operators provision it out of band.
func New(endpoint, accessKey, secretKey, bucket string, useTLS bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: connecting to %s: %w", endpoint, err)
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

func (s *MinioStore) Put(ctx context.Context, path string, contents []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(contents), int64(len(contents)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return avesaerr.New("blobstore.Put", avesaerr.KindTransient, fmt.Errorf("path %s: %w", path, err))
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, avesaerr.New("blobstore.Get", avesaerr.KindTransient, fmt.Errorf("path %s: %w", path, err))
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, avesaerr.New("blobstore.Get", avesaerr.KindTransient, fmt.Errorf("path %s: %w", path, err))
	}
	return data, nil
}

func (s *MinioStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" {
		return false, nil
	}
	return false, avesaerr.New("blobstore.Exists", avesaerr.KindTransient, fmt.Errorf("path %s: %w", path, err))
}

// RawBlobPath returns the deterministic raw blob path (spec.md §6).
func RawBlobPath(tenantID, service, table, jobID, chunkID string) string {
	return fmt.Sprintf("%s/raw/%s/%s/%s/%s.parquet", tenantID, service, table, jobID, chunkID)
}

// RejectBlobPath returns the deterministic reject log path (spec.md §6).
func RejectBlobPath(tenantID, canonicalTable, jobID string) string {
	return fmt.Sprintf("%s/rejects/%s/%s.jsonl", tenantID, canonicalTable, jobID)
}
