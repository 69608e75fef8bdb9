package hipo

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/user/hipo/pkg/hipo/filestorage"
	"golang.org/x/sys/unix"
)

// trailerEntry records one data record's contribution to the trailer index:
// its total length in bytes and its event count.
type trailerEntry struct {
	lengthBytes uint32
	eventCount  uint32
}

// FileLifecycle owns a single open output file: header, write position,
// record-number sequencing, and the trailer index accumulated so far. It
// talks to the local sink's RecordFile directly for pwrite/fsync/truncate.
type FileLifecycle struct {
	cfg    WriterConfig
	sink   filestorage.RecordSink
	archive *filestorage.S3RecordSink
	name   string
	path   string

	file filestorage.RecordFile

	header          FileHeader
	writingPosition int64
	recordNumber    uint32
	records         []trailerEntry

	commonRecord *RecordBuffer

	mu      sync.Mutex
	closers sync.WaitGroup

	logger Logger
}

// OpenOptions bundles the inputs OpenNew/OpenAppend need beyond WriterConfig.
type OpenOptions struct {
	Sink         filestorage.RecordSink
	Archive      *filestorage.S3RecordSink
	Name         string
	CommonRecord *RecordBuffer // may be nil
	Logger       Logger
}

// OpenNew creates (or truncates, if OverWriteOK) name and writes the file
// header — including the embedded common record as its user header — at
// offset 0.
func OpenNew(ctx context.Context, cfg WriterConfig, opts OpenOptions) (*FileLifecycle, error) {
	logger := opts.Logger
	if logger == nil {
		logger = NopLogger
	}

	flags := os.O_RDWR | os.O_CREATE
	if cfg.OverWriteOK {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	f, err := opts.Sink.OpenStream(ctx, opts.Name, flags)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, opts.Name, err)
	}

	fl := &FileLifecycle{
		cfg:          cfg,
		sink:         opts.Sink,
		archive:      opts.Archive,
		name:         opts.Name,
		path:         resolvePath(opts.Sink, opts.Name),
		file:         f,
		recordNumber: 1,
		commonRecord: opts.CommonRecord,
		logger:       logger,
	}

	var userHeader []byte
	if opts.CommonRecord != nil {
		userHeader = opts.CommonRecord.GetBinaryBuffer()
	}
	fl.header = FileHeader{
		ByteOrder:        cfg.Order,
		FileSequence:     uint32(cfg.SplitNumber),
		UserHeaderLength: uint32(len(userHeader)),
	}
	if opts.CommonRecord != nil {
		fl.header.HasDictionary = opts.CommonRecord.HasDictionary
		fl.header.HasFirstEvent = opts.CommonRecord.HasFirstEvent
	}

	buf := make([]byte, HeaderBytes+len(userHeader))
	if err := fl.header.Encode(buf[:HeaderBytes]); err != nil {
		return nil, err
	}
	copy(buf[HeaderBytes:], userHeader)
	if _, err := fl.file.WriteAt(buf, 0); err != nil {
		return nil, fmt.Errorf("%w: write file header: %v", ErrIO, err)
	}
	fl.writingPosition = int64(len(buf))

	return fl, nil
}

// OpenAppend opens an existing file read+write, detects its byte order and
// header, and walks existing records to position fileWritingPosition past
// the last data record, disambiguating a clean EOF at a header boundary
// from a truncated trailing record.
func OpenAppend(ctx context.Context, cfg WriterConfig, opts OpenOptions) (*FileLifecycle, error) {
	logger := opts.Logger
	if logger == nil {
		logger = NopLogger
	}

	f, err := opts.Sink.OpenStream(ctx, opts.Name, os.O_RDWR)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s for append: %v", ErrIO, opts.Name, err)
	}

	headBuf := make([]byte, HeaderBytes)
	if _, err := f.ReadAt(headBuf, 0); err != nil {
		return nil, fmt.Errorf("%w: read file header: %v", ErrIO, err)
	}
	fh, err := DecodeFileHeader(headBuf)
	if err != nil {
		return nil, err
	}

	fl := &FileLifecycle{
		cfg:     cfg,
		sink:    opts.Sink,
		archive: opts.Archive,
		name:    opts.Name,
		path:    resolvePath(opts.Sink, opts.Name),
		file:    f,
		header:  *fh,
		logger:  logger,
	}

	pos := int64(HeaderBytes) + int64(fh.IndexArrayLength) + int64(fh.UserHeaderLength)
	if pad := pos % 4; pad != 0 {
		pos += 4 - pad
	}

	var lastRecNum uint32
	for {
		hdrBuf := make([]byte, HeaderBytes)
		n, err := f.ReadAt(hdrBuf, pos)
		if n == 0 && err != nil {
			// Clean EOF at a header boundary: normally terminated file with
			// no trailing empty record to back up over.
			break
		}
		if n < HeaderBytes {
			return nil, fmt.Errorf("%w: truncated record header during append scan", ErrFormat)
		}
		rh, err := DecodeRecordHeader(hdrBuf, fh.ByteOrder)
		if err != nil {
			return nil, err
		}
		if rh.IsTrailer {
			// Back up and overwrite the trailer on the next write.
			break
		}
		fl.records = append(fl.records, trailerEntry{
			lengthBytes: rh.RecordLengthWords * 4,
			eventCount:  rh.EventCount,
		})
		lastRecNum = rh.RecordNumber
		pos += int64(rh.RecordLengthWords) * 4
		if rh.IsLast {
			break
		}
	}

	fl.recordNumber = lastRecNum + 1
	fl.writingPosition = pos
	return fl, nil
}

// resolvePath returns the real filesystem path name maps to under sink, or
// name itself for sinks (e.g. S3) with no filesystem notion of a path.
func resolvePath(sink filestorage.RecordSink, name string) string {
	if local, ok := sink.(*filestorage.LocalRecordSink); ok {
		return local.ResolvePath(name)
	}
	return name
}

// HasSpace reports whether the sink's filesystem has at least minFree bytes
// available. It is best-effort: sinks that cannot report free space (e.g.
// S3) always report true.
func (fl *FileLifecycle) HasSpace(minFree int64) (bool, error) {
	if _, ok := fl.sink.(*filestorage.LocalRecordSink); !ok {
		return true, nil
	}
	var st unix.Statfs_t
	if err := unix.Statfs(fl.path, &st); err != nil {
		// Statfs wants a directory/existing path; fall back to "has space"
		// rather than block forever on a check we can't perform.
		return true, nil
	}
	free := int64(st.Bavail) * int64(st.Bsize)
	return free >= minFree, nil
}

// WriteRecord writes buf at the current write position and advances it.
// This reserves-then-writes in one call, which is only safe when the caller
// guarantees no other write can be in flight concurrently (the
// single-threaded write path, and the trailer/index writes issued after a
// drain). The async multi-threaded write path must instead call
// ReserveSpace synchronously at issue time and WriteRecordAt once the
// buffer is ready, so that two in-flight writes can never race for the
// lower offset.
func (fl *FileLifecycle) WriteRecord(buf []byte) error {
	pos := fl.ReserveSpace(int64(len(buf)))
	return fl.WriteRecordAt(buf, pos)
}

// ReserveSpace reserves n bytes at the current write position, advances the
// position, and returns the reserved offset. Safe to call from any
// goroutine; the reservation itself is synchronous so callers issuing
// overlapping async writes still land at strictly increasing, non-
// overlapping offsets in issue order.
func (fl *FileLifecycle) ReserveSpace(n int64) int64 {
	fl.mu.Lock()
	pos := fl.writingPosition
	fl.writingPosition += n
	fl.mu.Unlock()
	return pos
}

// WriteRecordAt writes buf at pos, previously obtained from ReserveSpace. It
// does not touch writingPosition, so it is safe to call from an async write
// goroutine after the offset has already been claimed.
func (fl *FileLifecycle) WriteRecordAt(buf []byte, pos int64) error {
	if _, err := fl.file.WriteAt(buf, pos); err != nil {
		return fmt.Errorf("%w: write record at %d: %v", ErrIO, pos, err)
	}
	return nil
}

// RecordWritten appends a trailer-index entry for a just-written record.
func (fl *FileLifecycle) RecordWritten(lengthBytes, eventCount uint32) {
	fl.mu.Lock()
	fl.records = append(fl.records, trailerEntry{lengthBytes: lengthBytes, eventCount: eventCount})
	fl.mu.Unlock()
}

// Sync forces the file to stable storage.
func (fl *FileLifecycle) Sync() error {
	if err := fl.file.Sync(); err != nil {
		return fmt.Errorf("%w: fsync: %v", ErrIO, err)
	}
	return nil
}

// WriteTrailer builds and writes the trailer record (event count 0, trailer
// bit set), optionally followed by the per-record index, then patches the
// file header's record-count and trailer-position words.
func (fl *FileLifecycle) WriteTrailer(codec Codec, withIndex bool) error {
	trailer := NewRecordBuffer(fl.cfg, codec)
	trailer.IsTrailer = true
	trailer.IsLast = true
	// The trailer's number is one past the last data record actually
	// written into this file, derived from the index rather than whichever
	// counter assigned data-record numbers — the multi-threaded write path
	// numbers records at claim time through a separate, split-aware
	// counter (see writerLifetime.nextRecordNum), not through fl.recordNumber.
	trailer.SetRecordNumber(uint32(len(fl.records)) + 1)
	if err := trailer.Build(); err != nil {
		return fmt.Errorf("trailer build: %w", err)
	}

	trailerPos := fl.writingPosition
	if err := fl.WriteRecord(trailer.GetBinaryBuffer()); err != nil {
		return err
	}

	if withIndex {
		idx := make([]byte, 8*len(fl.records))
		bo := fl.cfg.Order.binary()
		off := 0
		for _, e := range fl.records {
			bo.PutUint32(idx[off:off+4], e.lengthBytes)
			bo.PutUint32(idx[off+4:off+8], e.eventCount)
			off += 8
		}
		if err := fl.WriteRecord(idx); err != nil {
			return err
		}
	}

	fl.header.RecordCount = uint32(len(fl.records))
	fl.header.TrailerPosition = uint64(trailerPos)
	fl.header.HasTrailerWithIndex = withIndex
	buf := make([]byte, HeaderBytes)
	if err := fl.header.Encode(buf); err != nil {
		return err
	}
	if _, err := fl.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("%w: patch file header: %v", ErrIO, err)
	}
	return nil
}

// Close closes the underlying file and waits for any outstanding closer
// tasks spawned by Split.
func (fl *FileLifecycle) Close() error {
	fl.closers.Wait()
	if err := fl.file.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrIO, err)
	}
	if fl.archive != nil {
		go func() {
			_ = fl.archive.ArchiveFile(context.Background(), fl.path, fl.name)
		}()
	}
	return nil
}

// CloseForSplit hands this (now-finished) file off to a background closer
// task that first waits for the in-flight write (waitInFlight), then writes
// the trailer and closes. WaitClosers lets EventWriter.Close block until
// every split-close task has finished.
func (fl *FileLifecycle) CloseForSplit(codec Codec, withIndex bool, waitInFlight func() error) {
	fl.closers.Add(1)
	go func() {
		defer fl.closers.Done()
		var err error
		if waitInFlight != nil {
			err = waitInFlight()
		}
		if err == nil {
			err = fl.WriteTrailer(codec, withIndex)
		}
		if cerr := fl.file.Close(); err == nil {
			err = cerr
		}
		if fl.archive != nil && err == nil {
			_ = fl.archive.ArchiveFile(context.Background(), fl.path, fl.name)
		}
		if err != nil && fl.logger != nil {
			fl.logger.Error("split close failed", "file", fl.name, "err", err)
		}
	}()
}

// WaitClosers blocks until every outstanding split-closer task finishes.
func (fl *FileLifecycle) WaitClosers() {
	fl.closers.Wait()
}

// RecordNumber returns the next record number to assign.
func (fl *FileLifecycle) RecordNumber() uint32 {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.recordNumber
}

// NextRecordNumber returns the current record number and increments it. In
// single-threaded file mode the producer goroutine calls this once per
// record, in flushCurrentSingle, just before the record is built.
// Multi-threaded mode numbers records through writerLifetime.nextRecordNum
// instead (see EventWriter.publishAndClaim) and only reads the starting
// value here via RecordNumber.
func (fl *FileLifecycle) NextRecordNumber() uint32 {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	n := fl.recordNumber
	fl.recordNumber++
	return n
}

// WritingPosition returns the current file write offset.
func (fl *FileLifecycle) WritingPosition() int64 {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.writingPosition
}
