package worm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// BackendType selects the WORM storage backend.
type BackendType string

const (
	BackendFS  BackendType = "fs"
	BackendS3  BackendType = "s3"
	BackendGCS BackendType = "gcs"
)

// NewStoreFromEnv creates a WORM store from environment variables.
//
//   - EVIDENCE_PAYLOAD_BACKEND: "fs" (default), "s3", or "gcs"
//   - DATA_DIR: base directory for the filesystem backend (default "data")
//   - EVIDENCE_S3_BUCKET / EVIDENCE_S3_REGION / EVIDENCE_S3_ENDPOINT /
//     EVIDENCE_S3_PREFIX for S3
//   - EVIDENCE_GCS_BUCKET / EVIDENCE_GCS_PREFIX for GCS (requires the gcp
//     build tag)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	backend := BackendType(os.Getenv("EVIDENCE_PAYLOAD_BACKEND"))
	if backend == "" {
		backend = BackendFS
	}

	switch backend {
	case BackendFS:
		dataDir := os.Getenv("DATA_DIR")
		if dataDir == "" {
			dataDir = "data"
		}
		return NewFileStore(filepath.Join(dataDir, "evidence-payloads"))
	case BackendS3:
		bucket := os.Getenv("EVIDENCE_S3_BUCKET")
		if bucket == "" {
			return nil, fmt.Errorf("worm: EVIDENCE_S3_BUCKET is required for the s3 backend")
		}
		region := os.Getenv("EVIDENCE_S3_REGION")
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		return NewS3Store(ctx, S3Config{
			Bucket:   bucket,
			Region:   region,
			Endpoint: os.Getenv("EVIDENCE_S3_ENDPOINT"),
			Prefix:   os.Getenv("EVIDENCE_S3_PREFIX"),
		})
	case BackendGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("worm: unsupported payload backend %q", backend)
	}
}
