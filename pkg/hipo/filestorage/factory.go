package filestorage

import (
	"context"
	"fmt"
)

// Config mirrors internal/config.FileStorageConfig without importing it, so
// this package never depends on the process config layer — only
// cmd/hipowriter bridges the two.
type Config struct {
	Type     string
	LocalDir string
	S3       S3Config
}

type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// NewSink builds the local RecordSink FileLifecycle writes through
// directly. An "s3" Type additionally returns an archival sink the caller
// can use to mirror closed files; nil when archival isn't configured.
func NewSink(ctx context.Context, cfg Config) (local RecordSink, archive *S3RecordSink, err error) {
	dir := cfg.LocalDir
	if dir == "" {
		dir = "."
	}
	local, err = NewLocalRecordSink(dir)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Type {
	case "", "local":
		return local, nil, nil
	case "s3":
		archive, err = NewS3RecordSink(ctx, cfg.S3.Endpoint, cfg.S3.Region, cfg.S3.Bucket, cfg.S3.AccessKeyID, cfg.S3.SecretAccessKey)
		if err != nil {
			return nil, nil, err
		}
		return local, archive, nil
	default:
		return nil, nil, fmt.Errorf("unknown file storage type: %s", cfg.Type)
	}
}
