// Package filestorage gives FileLifecycle (pkg/hipo) a place to open the
// random-access file handles the writer's pwrite/fsync/truncate protocol
// needs, and a secondary best-effort archival mirror once a file has been
// closed.
package filestorage

import (
	"context"
	"io"
)

// RecordSink opens named streams. A sink must hand back a handle
// FileLifecycle can pwrite/fsync/truncate directly against, since the
// split/force protocol in pkg/hipo/lifecycle.go needs POSIX semantics, not a
// one-shot upload.
type RecordSink interface {
	// OpenStream opens or creates name under this sink and returns a handle
	// FileLifecycle drives directly. flags follows os.O_* conventions.
	OpenStream(ctx context.Context, name string, flags int) (RecordFile, error)
	// Type identifies the sink ("local", "s3") for config/metrics labeling.
	Type() string
}

// RecordFile is the handle FileLifecycle writes records through and reads
// back from during an append scan.
type RecordFile interface {
	io.WriterAt
	io.ReaderAt
	// Truncate resizes the underlying file. FileLifecycle does not call it:
	// append mode overwrites a terminal trailer in place instead.
	Truncate(size int64) error
	// Sync forces previously written bytes to stable storage — the core of
	// EventWriter's force=true contract.
	Sync() error
	Close() error
}
