package filestorage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalRecordSink is the default sink: it owns the actual *os.File the
// writer worker pwrites/fsyncs/truncates against, adapted from the
// teacher's LocalStorage (which only exposed Save/GetURL/Delete around a
// whole io.Reader).
type LocalRecordSink struct {
	baseDir string
}

func NewLocalRecordSink(baseDir string) (*LocalRecordSink, error) {
	if baseDir == "" {
		baseDir = "."
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &LocalRecordSink{baseDir: baseDir}, nil
}

func (s *LocalRecordSink) OpenStream(ctx context.Context, name string, flags int) (RecordFile, error) {
	path := filepath.Join(s.baseDir, name)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &localRecordFile{f: f}, nil
}

func (s *LocalRecordSink) Type() string { return "local" }

// ResolvePath returns the real filesystem path name maps to under this
// sink's base directory, for callers (FileLifecycle's disk-space check and
// archival mirror) that need a path rather than a RecordFile handle.
func (s *LocalRecordSink) ResolvePath(name string) string {
	return filepath.Join(s.baseDir, name)
}

type localRecordFile struct {
	f *os.File
}

func (l *localRecordFile) WriteAt(p []byte, off int64) (int, error) { return l.f.WriteAt(p, off) }
func (l *localRecordFile) ReadAt(p []byte, off int64) (int, error)  { return l.f.ReadAt(p, off) }
func (l *localRecordFile) Truncate(size int64) error                { return l.f.Truncate(size) }
func (l *localRecordFile) Sync() error                              { return l.f.Sync() }
func (l *localRecordFile) Close() error                             { return l.f.Close() }
