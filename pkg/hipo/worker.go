package hipo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/hipo/pkg/hipo/filestorage"
	"golang.org/x/sync/errgroup"
)

// diskPollInterval is how often the writer worker rechecks free space while
// parked in the disk-full holding protocol.
const diskPollInterval = 2 * time.Second

// minFreeMargin is added to the split threshold when checking free space:
// a simplified "split size + in-flight record bytes + headroom" safety
// margin.
const minFreeMargin = 10 << 20 // 10 MiB

// compressorWorker claims a slot, builds it (compressing per its
// configured type), and releases it.
type compressorWorker struct {
	id     int
	supply *RingSupply
	logger Logger
	stream string
}

func (w *compressorWorker) run(ctx context.Context) error {
	for {
		slot, err := w.supply.GetToCompress(ctx, w.id)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		compType := slot.Record.CompressionType()
		if err := slot.Record.Build(); err != nil {
			w.supply.ErrorAlert(err)
			return fmt.Errorf("compressor %d: %w", w.id, err)
		}
		RecordsCompressed.WithLabelValues(w.stream).Inc()
		if u := slot.Record.UncompressedLength(); u > 0 {
			CompressionRatio.WithLabelValues(compType.String()).
				Observe(float64(len(slot.Record.GetBinaryBuffer())) / float64(u))
		}
		w.supply.ReleaseCompressor(slot, w.id)
	}
}

// writerWorker consumes slots in order, handling disk-full / split / force,
// keeping at most one prior async write in flight, then releasing.
type writerWorker struct {
	supply   *RingSupply
	lifetime *writerLifetime
	codec    Codec
	logger   Logger
	stream   string
}

// pendingWrite is a future-style handle on an async file write: the writer
// issues the next write and then waits on the previous one before releasing
// the slot, so at most two are outstanding at once; split and close wait on
// the last one again. wait is idempotent and safe to call from
// more than one goroutine (a split's closer task and EventWriter.Close can
// both end up waiting on the same handle), since only the first caller
// actually receives from done — later callers get the cached result.
type pendingWrite struct {
	done chan error
	once sync.Once
	err  error
}

func (p *pendingWrite) wait() error {
	if p == nil {
		return nil
	}
	p.once.Do(func() { p.err = <-p.done })
	return p.err
}

// writerLifetime is the mutable per-writer state the writer worker and
// EventWriter.Close both need: the current output file, the holding area,
// and split/force bookkeeping. EventWriter owns one instance and hands it
// to the single writer worker goroutine.
type writerLifetime struct {
	mu sync.Mutex

	file           *FileLifecycle
	cfg            WriterConfig
	holding        *holdingArea
	nextName       func(splitNumber int) string
	splitNumber    int
	forcedID       int64
	bytesWritten   int64
	recordsWritten int64
	commonRecord   *RecordBuffer
	sink           filestorage.RecordSink
	archive        *filestorage.S3RecordSink
	logger         Logger
	stream         string

	// nextRecordNumber is the multi-threaded write path's claim-time record
	// counter. It is tracked here rather than read off the current
	// FileLifecycle because the producer claims slots (and must assign
	// their record numbers) far ahead of the writer worker actually
	// performing a split and swapping in the post-split FileLifecycle; the
	// producer is the one place that already knows, synchronously, exactly
	// which slot begins the next file (see EventWriter.publishAndClaim).
	nextRecordNumber uint32

	// lastWrite is the most recently issued async write, so Close can drain
	// it even though the writer loop only waits on the previous write
	// before issuing the next (see writerWorker.run).
	lastWrite atomic.Pointer[pendingWrite]
}

// nextRecordNum returns the next multi-threaded claim-time record number and
// increments it.
func (lt *writerLifetime) nextRecordNum() uint32 {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	n := lt.nextRecordNumber
	lt.nextRecordNumber++
	return n
}

// resetRecordNumbering rebinds the claim-time counter to start. Called the
// instant the producer decides the slot it is about to claim begins a new
// split file — before the writer worker has actually performed the split.
func (lt *writerLifetime) resetRecordNumbering(start uint32) {
	lt.mu.Lock()
	lt.nextRecordNumber = start
	lt.mu.Unlock()
}

// currentFile returns the file lineage's current FileLifecycle, safe to call
// concurrently with a split swapping it out from under the writer worker.
func (lt *writerLifetime) currentFile() *FileLifecycle {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.file
}

func (lt *writerLifetime) setFile(f *FileLifecycle) {
	lt.mu.Lock()
	lt.file = f
	lt.mu.Unlock()
}

func (w *writerWorker) run(ctx context.Context) error {
	var prev *pendingWrite

	for {
		slot, err := w.supply.GetToWrite(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		buf := slot.Record.GetBinaryBuffer()
		eventCount := uint32(slot.Record.EventCount())

		if slot.CheckDisk && !slot.ForceToDisk {
			needed := w.lifetime.cfg.Split + minFreeMargin
			if needed == minFreeMargin {
				needed = int64(w.lifetime.cfg.BufferSize) + minFreeMargin
			}
			ok, _ := w.lifetime.currentFile().HasSpace(needed)
			if !ok {
				w.lifetime.holding.Stash(buf, eventCount)
				w.supply.SetDiskFull(true)
				DiskFullEvents.WithLabelValues(w.stream).Inc()
				w.supply.ReleaseWriter(slot)

				for {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(diskPollInterval):
					}
					if ok, _ := w.lifetime.currentFile().HasSpace(needed); ok {
						break
					}
				}
				w.supply.SetDiskFull(false)

				for _, rec := range w.lifetime.holding.Drain() {
					cur := w.issueWrite(rec.buf, rec.eventCount)
					if err := cur.wait(); err != nil {
						w.supply.ErrorAlert(err)
						return err
					}
				}
				continue
			}
		}

		cur := w.issueWrite(buf, eventCount)

		if slot.SplitAfterWrite {
			if err := w.doSplit(cur); err != nil {
				w.supply.ErrorAlert(err)
				return err
			}
		} else if slot.ForceToDisk && slot.ForcedID == w.lifetime.forcedID {
			if err := cur.wait(); err != nil {
				w.supply.ErrorAlert(err)
				return err
			}
			if err := w.lifetime.currentFile().Sync(); err != nil {
				w.supply.ErrorAlert(err)
				return err
			}
		}

		if err := prev.wait(); err != nil {
			w.supply.ErrorAlert(err)
			return err
		}
		prev = cur

		w.supply.ReleaseWriter(slot)
	}
}

// issueWrite reserves this record's file offset synchronously — before
// spawning the write goroutine — so that two overlapping async writes for
// consecutive sequences can never race for the lower offset; the goroutine
// then only has to perform the pwrite at its already-fixed position.
func (w *writerWorker) issueWrite(buf []byte, eventCount uint32) *pendingWrite {
	pw := &pendingWrite{done: make(chan error, 1)}
	file := w.lifetime.currentFile()
	pos := file.ReserveSpace(int64(len(buf)))
	w.lifetime.lastWrite.Store(pw)
	go func() {
		err := file.WriteRecordAt(buf, pos)
		if err == nil {
			file.RecordWritten(uint32(len(buf)), eventCount)
			w.lifetime.mu.Lock()
			w.lifetime.bytesWritten += int64(len(buf))
			w.lifetime.recordsWritten++
			w.lifetime.mu.Unlock()
			RecordsWritten.WithLabelValues(w.stream).Inc()
			BytesWritten.WithLabelValues(w.stream).Add(float64(len(buf)))
		}
		pw.done <- err
	}()
	return pw
}

// doSplit hands the current file, together with the in-flight write (cur),
// to a background closer task that waits for that write before writing the
// trailer, and opens the next file without waiting for either.
func (w *writerWorker) doSplit(cur *pendingWrite) error {
	old := w.lifetime.currentFile()
	old.CloseForSplit(w.codec, w.lifetime.cfg.AddTrailerWithIndex, cur.wait)

	w.lifetime.splitNumber += w.lifetime.cfg.SplitIncrement
	name := w.lifetime.nextName(w.lifetime.splitNumber)

	newCfg := w.lifetime.cfg
	newCfg.SplitNumber = w.lifetime.splitNumber

	nf, err := OpenNew(context.Background(), newCfg, OpenOptions{
		Sink:         w.lifetime.sink,
		Archive:      w.lifetime.archive,
		Name:         name,
		CommonRecord: w.lifetime.commonRecord,
		Logger:       w.lifetime.logger,
	})
	if err != nil {
		return fmt.Errorf("split open %s: %w", name, err)
	}
	w.lifetime.setFile(nf)
	SplitEvents.WithLabelValues(w.stream).Inc()
	return nil
}

// runWorkers launches the fixed compressor pool and single writer worker
// under an errgroup.Group rather than ad hoc WaitGroup+error-channel
// plumbing.
func runWorkers(ctx context.Context, supply *RingSupply, lifetime *writerLifetime, codec Codec, logger Logger, stream string, compressorCount int) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < compressorCount; i++ {
		cw := &compressorWorker{id: i, supply: supply, logger: logger, stream: stream}
		g.Go(func() error { return cw.run(gctx) })
	}
	ww := &writerWorker{supply: supply, lifetime: lifetime, codec: codec, logger: logger, stream: stream}
	g.Go(func() error { return ww.run(gctx) })
	return g, gctx
}

func streamLabel(id int) string {
	return strconv.Itoa(id)
}
