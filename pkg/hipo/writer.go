package hipo

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/user/hipo/pkg/hipo/filestorage"
)

// EventWriter is the public entrypoint a producer calls. It holds the
// current record being filled, the common record (dictionary
// + first event), and configuration, and internally picks between
// to-buffer, to-file single-threaded, and to-file multi-threaded
// compression modes.
type EventWriter struct {
	cfg    WriterConfig
	codec  Codec
	logger Logger
	stream string

	mode writerMode

	mu     sync.Mutex
	closed bool

	// to-buffer mode
	bufRecord *RecordBuffer

	// to-file single-threaded mode
	current *RecordBuffer

	// to-file multi-threaded mode
	supply    *RingSupply
	lifetime  *writerLifetime
	group     *errgroup.Group
	groupCtx  context.Context
	cancel    context.CancelFunc
	curSlot   *RingItem
	forceSeq  atomic.Int64

	commonRecord *RecordBuffer
	firstEvent   []byte
	dictionary   []byte

	diskKnownFull atomic.Bool
}

type writerMode int

const (
	modeToBuffer writerMode = iota
	modeToFileSingle
	modeToFileMulti
)

// NewEventWriterToBuffer constructs a to-buffer EventWriter writing into buf
// (caller-owned, fixed capacity).
func NewEventWriterToBuffer(cfg WriterConfig, codec Codec, logger Logger, buf []byte) (*EventWriter, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = NopLogger
	}
	w := &EventWriter{cfg: cfg, codec: codec, logger: logger, mode: modeToBuffer, stream: streamLabel(cfg.StreamID)}
	w.bufRecord = NewFixedRecordBuffer(cfg, codec, len(buf))
	w.bufRecord.output = buf
	return w, nil
}

// NewEventWriterToFile constructs a to-file EventWriter. If cfg has more
// than one compression thread it runs the full RingSupply pipeline;
// otherwise compression happens inline on the producer goroutine.
func NewEventWriterToFile(ctx context.Context, cfg WriterConfig, codec Codec, logger Logger, sink filestorage.RecordSink, archive *filestorage.S3RecordSink, name string, dictionary, firstEvent []byte) (*EventWriter, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = NopLogger
	}
	if cfg.Append && (dictionary != nil || firstEvent != nil || cfg.Split != 0) {
		return nil, fmt.Errorf("%w: append is incompatible with dictionary, first event, or split", ErrConfig)
	}

	w := &EventWriter{
		cfg:        cfg,
		codec:      codec,
		logger:     logger,
		stream:     streamLabel(cfg.StreamID),
		dictionary: dictionary,
		firstEvent: firstEvent,
	}
	if cfg.CompressionThreads > 1 {
		w.mode = modeToFileMulti
	} else {
		w.mode = modeToFileSingle
	}

	var common *RecordBuffer
	if dictionary != nil || firstEvent != nil {
		common, err = BuildCommonRecord(cfg.Order, codec, dictionary, firstEvent)
		if err != nil {
			return nil, err
		}
		w.commonRecord = common
	}

	var file *FileLifecycle
	if cfg.Append {
		file, err = OpenAppend(ctx, cfg, OpenOptions{Sink: sink, Archive: archive, Name: name, Logger: logger})
	} else {
		file, err = OpenNew(ctx, cfg, OpenOptions{Sink: sink, Archive: archive, Name: name, CommonRecord: common, Logger: logger})
	}
	if err != nil {
		return nil, err
	}

	if w.mode == modeToFileSingle {
		w.current = NewRecordBuffer(cfg, codec)
		w.current.SetRecordNumber(file.RecordNumber())
		w.lifetime = &writerLifetime{
			file: file, cfg: cfg, holding: newHoldingArea(),
			nextName: defaultSplitNamer(name), sink: sink, archive: archive,
			commonRecord: common, logger: logger, stream: w.stream,
		}
		return w, nil
	}

	gctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.supply = NewRingSupply(cfg, codec)
	w.lifetime = &writerLifetime{
		file: file, cfg: cfg, holding: newHoldingArea(),
		nextName: defaultSplitNamer(name), sink: sink, archive: archive,
		commonRecord: common, logger: logger, stream: w.stream,
	}
	w.lifetime.nextRecordNumber = file.RecordNumber()
	g, runCtx := runWorkers(gctx, w.supply, w.lifetime, codec, logger, w.stream, cfg.CompressionThreads)
	w.group = g
	w.groupCtx = runCtx

	slot, err := w.supply.Get(ctx)
	if err != nil {
		return nil, err
	}
	slot.Record.SetRecordNumber(w.lifetime.nextRecordNum())
	slot.CheckDisk = true
	w.curSlot = slot

	return w, nil
}

func defaultSplitNamer(base string) func(int) string {
	return func(splitNumber int) string {
		return fmt.Sprintf("%s.%d", base, splitNumber)
	}
}

// WriteEvent writes event. ownRecord packs event alone, never with
// neighbors. force asks for the event to be synced to disk: in
// single-threaded file mode the record is written and fsynced before
// WriteEvent returns; in multi-threaded mode the slot is tagged and published,
// the writer worker fsyncs after writing it, and WriteEvent returns without
// waiting for that sync.
func (w *EventWriter) WriteEvent(ctx context.Context, event []byte, force, ownRecord bool) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false, fmt.Errorf("%w: writeEvent after close", ErrState)
	}
	if err := w.checkWorkerError(); err != nil {
		return false, err
	}

	switch w.mode {
	case modeToBuffer:
		return w.writeToBuffer(event)
	case modeToFileSingle:
		return w.writeToFileSingle(ctx, event, force, ownRecord)
	default:
		return w.writeToFileMulti(ctx, event, force, ownRecord)
	}
}

// WriteEventToFile behaves like WriteEvent but additionally returns false
// without writing when the disk is known full and force is not set.
func (w *EventWriter) WriteEventToFile(ctx context.Context, event []byte, force, ownRecord bool) (bool, error) {
	w.mu.Lock()
	if !force && (w.diskKnownFull.Load() || (w.supply != nil && w.supply.IsDiskFull())) {
		w.mu.Unlock()
		return false, nil
	}
	w.mu.Unlock()
	return w.WriteEvent(ctx, event, force, ownRecord)
}

func (w *EventWriter) checkWorkerError() error {
	if w.supply == nil {
		return nil
	}
	if have, msg := w.supply.HaveError(); have {
		return fmt.Errorf("%w: %s", ErrAsync, msg)
	}
	return nil
}

func (w *EventWriter) writeToBuffer(event []byte) (bool, error) {
	empty := w.bufRecord.EventCount() == 0
	if w.bufRecord.AddEvent(event) {
		return true, nil
	}
	if empty {
		return false, fmt.Errorf("%w: event does not fit destination buffer", ErrCapacity)
	}
	return false, nil
}

func (w *EventWriter) writeToFileSingle(ctx context.Context, event []byte, force, ownRecord bool) (bool, error) {
	if ownRecord && w.current.EventCount() > 0 {
		if err := w.flushCurrentSingle(ctx); err != nil {
			return false, err
		}
	}

	for !w.current.AddEvent(event) {
		if w.current.EventCount() == 0 {
			// Single event too big for the internal buffer: grow ×1.2 and retry.
			grown := make([]byte, 0, int(float64(cap(w.current.data))*1.2)+len(event))
			w.current.data = grown
			continue
		}
		if err := w.flushCurrentSingle(ctx); err != nil {
			return false, err
		}
	}

	if ownRecord {
		if err := w.flushCurrentSingle(ctx); err != nil {
			return false, err
		}
	}
	if force {
		if w.current.EventCount() > 0 {
			if err := w.flushCurrentSingle(ctx); err != nil {
				return false, err
			}
		}
		if err := w.lifetime.file.Sync(); err != nil {
			return false, fmt.Errorf("%w: force sync: %v", ErrIO, err)
		}
	}
	return true, nil
}

// flushCurrentSingle builds and writes the current record synchronously on
// the producer goroutine (single-threaded compression mode), handling split
// before building the next record.
func (w *EventWriter) flushCurrentSingle(ctx context.Context) error {
	if w.current.EventCount() == 0 {
		return nil
	}
	w.current.SetRecordNumber(w.lifetime.file.NextRecordNumber())
	if err := w.current.Build(); err != nil {
		return err
	}
	buf := w.current.GetBinaryBuffer()
	if err := w.lifetime.file.WriteRecord(buf); err != nil {
		return err
	}
	w.lifetime.file.RecordWritten(uint32(len(buf)), uint32(w.current.EventCount()))
	w.lifetime.mu.Lock()
	w.lifetime.bytesWritten += int64(len(buf))
	w.lifetime.recordsWritten++
	w.lifetime.mu.Unlock()
	RecordsWritten.WithLabelValues(w.stream).Inc()
	BytesWritten.WithLabelValues(w.stream).Add(float64(len(buf)))

	if w.shouldSplit(int64(len(buf))) {
		if err := w.splitSingle(ctx); err != nil {
			return err
		}
	}
	w.current.Reset()
	return nil
}

func (w *EventWriter) shouldSplit(justWrote int64) bool {
	if w.cfg.Split == 0 {
		return false
	}
	if w.lifetime.file.WritingPosition() <= int64(HeaderBytes)+int64(w.lifetime.file.header.UserHeaderLength)+justWrote {
		// The very first event after file creation cannot trigger a split.
		return false
	}
	return w.lifetime.file.WritingPosition() >= w.cfg.Split
}

func (w *EventWriter) splitSingle(ctx context.Context) error {
	old := w.lifetime.file
	old.CloseForSplit(w.codec, w.cfg.AddTrailerWithIndex, nil)

	w.lifetime.splitNumber += w.cfg.SplitIncrement
	name := w.lifetime.nextName(w.lifetime.splitNumber)
	newCfg := w.cfg
	newCfg.SplitNumber = w.lifetime.splitNumber

	nf, err := OpenNew(ctx, newCfg, OpenOptions{
		Sink: w.lifetime.sink, Archive: w.lifetime.archive, Name: name,
		CommonRecord: w.lifetime.commonRecord, Logger: w.logger,
	})
	if err != nil {
		return fmt.Errorf("split open %s: %w", name, err)
	}
	w.lifetime.file = nf
	SplitEvents.WithLabelValues(w.stream).Inc()
	return nil
}

func (w *EventWriter) writeToFileMulti(ctx context.Context, event []byte, force, ownRecord bool) (bool, error) {
	if ownRecord && w.curSlot.Record.EventCount() > 0 {
		if err := w.publishAndClaim(ctx); err != nil {
			return false, err
		}
	}

	for !w.curSlot.Record.AddEvent(event) {
		if err := w.publishAndClaim(ctx); err != nil {
			return false, err
		}
	}

	if ownRecord {
		if err := w.publishAndClaim(ctx); err != nil {
			return false, err
		}
	}

	if force {
		id := w.forceSeq.Add(1)
		w.lifetime.mu.Lock()
		w.lifetime.forcedID = id
		w.lifetime.mu.Unlock()
		w.curSlot.ForceToDisk = true
		w.curSlot.ForcedID = id
		if err := w.publishAndClaim(ctx); err != nil {
			return false, err
		}
	}

	return true, nil
}

// publishAndClaim publishes the current slot (computing split eligibility
// first) and claims a fresh one — the event is guaranteed to fit in a
// fresh record regardless of size.
//
// Record numbers are assigned here, at claim time, from
// writerLifetime.nextRecordNumber rather than from the current
// FileLifecycle's own counter: the producer runs up to ringSize slots ahead
// of the writer worker, which is the one that actually performs a flagged
// split (see doSplit), so by the time the writer worker opens the post-split
// file the producer may already have claimed many more slots. The producer
// is nonetheless the only place that knows, synchronously, exactly which
// slot is the first to belong to the next file — this slot, the one it is
// about to claim right after flagging splitAfterWrite — so it rebinds the
// counter to 1 right here rather than waiting for the asynchronous file
// swap to do it.
func (w *EventWriter) publishAndClaim(ctx context.Context) error {
	slot := w.curSlot
	file := w.lifetime.currentFile()
	pos := file.WritingPosition()
	splitting := w.cfg.Split != 0 && pos > int64(HeaderBytes) && pos >= w.cfg.Split
	if splitting {
		slot.SplitAfterWrite = true
	}
	if pos == 0 {
		slot.CheckDisk = true
	}
	w.supply.Publish(slot)

	next, err := w.supply.Get(ctx)
	if err != nil {
		return err
	}
	if splitting {
		w.lifetime.resetRecordNumbering(1)
	}
	next.Record.SetRecordNumber(w.lifetime.nextRecordNum())
	w.curSlot = next
	return nil
}

// SetFirstEvent rebuilds the common record: if no events have yet been
// written into the current file, it becomes part of this file's header user
// header and every future split; otherwise it's written immediately as a
// normal event in this file, and becomes part of the next split's header.
func (w *EventWriter) SetFirstEvent(ctx context.Context, event []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("%w: setFirstEvent after close", ErrState)
	}

	file := w.lifetime.currentFile()
	noEventsYet := file.WritingPosition() <= int64(HeaderBytes)+int64(file.header.UserHeaderLength)
	common, err := BuildCommonRecord(w.cfg.Order, w.codec, w.dictionary, event)
	if err != nil {
		return err
	}
	w.firstEvent = event
	w.commonRecord = common
	w.lifetime.commonRecord = common

	if !noEventsYet {
		switch w.mode {
		case modeToFileSingle:
			w.current.AddEvent(event)
		case modeToFileMulti:
			for !w.curSlot.Record.AddEvent(event) {
				if err := w.publishAndClaim(ctx); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// SetBuffer re-arms a to-buffer writer against a new caller buffer. Only
// legal in to-buffer mode, only after Close.
func (w *EventWriter) SetBuffer(buf []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mode != modeToBuffer {
		return fmt.Errorf("%w: setBuffer only valid in to-buffer mode", ErrState)
	}
	if !w.closed {
		return fmt.Errorf("%w: setBuffer while open", ErrState)
	}
	w.bufRecord = NewFixedRecordBuffer(w.cfg, w.codec, len(buf))
	w.bufRecord.output = buf
	w.closed = false
	return nil
}

// Flush publishes and writes any partially-filled current record without
// closing the writer.
func (w *EventWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

func (w *EventWriter) flushLocked(ctx context.Context) error {
	switch w.mode {
	case modeToBuffer:
		if w.bufRecord.EventCount() == 0 {
			return nil
		}
		return w.bufRecord.Build()
	case modeToFileSingle:
		return w.flushCurrentSingle(ctx)
	case modeToFileMulti:
		if w.curSlot.Record.EventCount() == 0 {
			return nil
		}
		return w.publishAndClaim(ctx)
	}
	return nil
}

// Close is idempotent; each mode runs its own shutdown sequence below.
func (w *EventWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	switch w.mode {
	case modeToBuffer:
		w.bufRecord.IsTrailer = true
		w.bufRecord.IsLast = true
		record(w.bufRecord.Build())

	case modeToFileSingle:
		record(w.flushCurrentSingle(ctx))
		record(w.lifetime.file.WriteTrailer(w.codec, w.cfg.AddTrailerWithIndex))
		w.lifetime.file.WaitClosers()
		record(w.lifetime.file.Close())

	case modeToFileMulti:
		// The freshly-claimed current slot was never published: leave it
		// untouched so the ring's sequence bookkeeping reflects only
		// records that actually entered the pipeline.
		if w.curSlot.Record.EventCount() > 0 {
			w.supply.Publish(w.curSlot)
		}
		w.waitForDrain(ctx)
		if w.cancel != nil {
			w.cancel()
		}
		if w.group != nil {
			_ = w.group.Wait()
		}
		// waitForDrain only confirms every published sequence has been
		// released, which happens one write behind issuance (the writer
		// loop waits on the previous write before releasing the next slot);
		// the very last issued write is never released-after-waited on its
		// own, so it must be drained explicitly before the trailer claims
		// the file's write position.
		if last := w.lifetime.lastWrite.Load(); last != nil {
			record(last.wait())
		}
		record(w.lifetime.currentFile().WriteTrailer(w.codec, w.cfg.AddTrailerWithIndex))
		w.lifetime.currentFile().WaitClosers()
		record(w.lifetime.currentFile().Close())
	}

	w.closed = true
	return firstErr
}

// waitForDrain polls until the writer has released every published
// sequence.
func (w *EventWriter) waitForDrain(ctx context.Context) {
	if w.supply == nil {
		return
	}
	for {
		have, _ := w.supply.HaveError()
		if have {
			return
		}
		s := w.supply
		s.mu.Lock()
		drained := s.writerReleasedSeq >= s.publishedSeq
		s.mu.Unlock()
		if drained {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Millisecond):
		}
	}
}

// BytesWritten returns the running total of bytes written to the current
// file lineage.
func (w *EventWriter) BytesWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lifetime == nil {
		return 0
	}
	w.lifetime.mu.Lock()
	defer w.lifetime.mu.Unlock()
	return w.lifetime.bytesWritten
}

// RecordsWritten returns the running count of data records written.
func (w *EventWriter) RecordsWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lifetime == nil {
		return 0
	}
	w.lifetime.mu.Lock()
	defer w.lifetime.mu.Unlock()
	return w.lifetime.recordsWritten
}

// newCorrelationID returns a fresh uuid string. Nothing in this package
// calls it; cmd/hipowriter stamps its synthetic events with uuid.NewString
// directly.
func newCorrelationID() string {
	return uuid.NewString()
}
