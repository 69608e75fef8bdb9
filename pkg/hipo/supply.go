package hipo

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// RingItem is a single ring slot: the record it carries plus the flags the
// writer worker consults when it comes up for consumption.
type RingItem struct {
	Record *RecordBuffer

	sequence int64

	// SplitAfterWrite asks the writer worker to close the current file and
	// open the next one immediately after this slot's write completes.
	SplitAfterWrite bool
	// ForceToDisk asks the writer worker to fsync after writing this slot,
	// tagged by ForcedID so a stale force request from an older slot never
	// fires twice.
	ForceToDisk bool
	ForcedID    int64
	// CheckDisk asks the writer worker to verify free space before writing,
	// used on the first slot written into a newly opened file.
	CheckDisk bool
}

// RingSupply coordinates one producer, N compressor workers, and one writer
// worker around a fixed, power-of-two ring of RecordBuffers using explicit,
// Disruptor-style sequence barriers: each compressor worker k owns every
// Nth sequence (k, k+N, k+2N, …), and the writer consumes strictly in
// order. Rather than track each worker's "available sequence" in a
// separate array, the writer barrier exploits that a sequence s is always
// produced by worker s%N, so it waits directly on that worker's progress
// counter.
type RingSupply struct {
	mu   sync.Mutex
	cond *sync.Cond

	slots    []*RingItem
	ringSize int64

	workerCount int

	nextClaim         int64 // next sequence the producer will claim
	publishedSeq      int64 // highest sequence published by the producer (-1 = none)
	compressedSeq     []int64
	nextWriteSeq      int64 // next sequence the writer expects
	writerReleasedSeq int64 // highest contiguously-released sequence
	pendingReleased   map[int64]struct{}

	errored atomic.Bool
	errMu   sync.Mutex
	errMsg  string

	diskFull atomic.Bool

	stream string
}

// NewRingSupply builds a ring of cfg.RingSize slots. It uses the size as
// given; WriterConfig.Normalize is what rounds it up to a power of two no
// smaller than max(16, CompressionThreads+2).
func NewRingSupply(cfg WriterConfig, codec Codec) *RingSupply {
	size := int64(cfg.RingSize)
	s := &RingSupply{
		slots:             make([]*RingItem, size),
		ringSize:          size,
		workerCount:       cfg.CompressionThreads,
		publishedSeq:      -1,
		writerReleasedSeq: -1,
		pendingReleased:   make(map[int64]struct{}),
		compressedSeq:     make([]int64, cfg.CompressionThreads),
		stream:            streamLabel(cfg.StreamID),
	}
	for i := range s.compressedSeq {
		s.compressedSeq[i] = -1
	}
	for i := range s.slots {
		s.slots[i] = &RingItem{Record: NewRecordBuffer(cfg, codec)}
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// watchCtx wakes every Cond.Wait()er when ctx is cancelled, so blocking
// calls respect caller deadlines without needing a context-aware condition
// variable primitive.
func (s *RingSupply) watchCtx(ctx context.Context) (stop func()) {
	if ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// Get claims the next free slot for the producer, resetting its record.
func (s *RingSupply) Get(ctx context.Context) (*RingItem, error) {
	stop := s.watchCtx(ctx)
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextClaim
	needed := seq - s.ringSize
	for s.writerReleasedSeq < needed {
		if err := s.waitLocked(ctx); err != nil {
			return nil, err
		}
	}
	item := s.slots[seq%s.ringSize]
	item.sequence = seq
	item.SplitAfterWrite = false
	item.ForceToDisk = false
	item.CheckDisk = false
	item.Record.Reset()
	s.nextClaim++
	return item, nil
}

// Publish marks item ready for compression.
func (s *RingSupply) Publish(item *RingItem) {
	s.mu.Lock()
	s.publishedSeq = item.sequence
	fill := float64(s.publishedSeq - s.writerReleasedSeq)
	s.cond.Broadcast()
	s.mu.Unlock()
	RingFillLevel.WithLabelValues(s.stream).Set(fill)
}

// GetToCompress waits on the compression barrier for the next sequence
// assigned to workerID (of workerCount total), returning it to the caller.
func (s *RingSupply) GetToCompress(ctx context.Context, workerID int) (*RingItem, error) {
	stop := s.watchCtx(ctx)
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextCompressSeq(workerID)
	for s.publishedSeq < seq {
		if err := s.waitLocked(ctx); err != nil {
			return nil, err
		}
	}
	return s.slots[seq%s.ringSize], nil
}

// nextCompressSeq lazily derives worker workerID's next assigned sequence
// from its last completed one.
func (s *RingSupply) nextCompressSeq(workerID int) int64 {
	last := s.compressedSeq[workerID]
	if last < 0 {
		return int64(workerID)
	}
	return last + int64(s.workerCount)
}

// ReleaseCompressor records that this worker finished item and wakes the
// writer barrier.
func (s *RingSupply) ReleaseCompressor(item *RingItem, workerID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compressedSeq[workerID] = item.sequence
	s.cond.Broadcast()
}

// GetToWrite waits on the write barrier for the next sequence in strict
// order: sequence s is always produced by compressor worker s%N.
func (s *RingSupply) GetToWrite(ctx context.Context) (*RingItem, error) {
	stop := s.watchCtx(ctx)
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextWriteSeq
	owner := int(seq % int64(s.workerCount))
	for s.compressedSeq[owner] < seq {
		if err := s.waitLocked(ctx); err != nil {
			return nil, err
		}
	}
	s.nextWriteSeq++
	return s.slots[seq%s.ringSize], nil
}

// ReleaseWriter releases item back to the producer. Because the writer may
// keep up to two asynchronous writes in flight, releases can arrive out of
// issue order; a small pending set closes the gap and advances the
// contiguous release point exactly once the run of sequences is complete.
func (s *RingSupply) ReleaseWriter(item *RingItem) {
	s.mu.Lock()

	seq := item.sequence
	if seq == s.writerReleasedSeq+1 {
		s.writerReleasedSeq++
		for {
			if _, ok := s.pendingReleased[s.writerReleasedSeq+1]; ok {
				delete(s.pendingReleased, s.writerReleasedSeq+1)
				s.writerReleasedSeq++
				continue
			}
			break
		}
	} else {
		s.pendingReleased[seq] = struct{}{}
	}
	fill := float64(s.publishedSeq - s.writerReleasedSeq)
	s.cond.Broadcast()
	s.mu.Unlock()
	RingFillLevel.WithLabelValues(s.stream).Set(fill)
}

// waitLocked blocks on the condition variable, returning the alert or
// context error if one is pending, under s.mu already held.
func (s *RingSupply) waitLocked(ctx context.Context) error {
	if s.errored.Load() {
		return s.errorLocked()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.cond.Wait()
	if s.errored.Load() {
		return s.errorLocked()
	}
	return ctx.Err()
}

func (s *RingSupply) errorLocked() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return fmt.Errorf("%w: %s", ErrAsync, s.errMsg)
}

// ErrorAlert signals every barrier; any worker blocked in a Get* call wakes
// and observes the error.
func (s *RingSupply) ErrorAlert(err error) {
	s.errMu.Lock()
	s.errMsg = err.Error()
	s.errMu.Unlock()
	s.errored.Store(true)

	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// HaveError reports the supply's error condition, the way the producer
// polls it on every WriteEvent call. Reading it does not clear it: once
// ErrorAlert has fired, every later call reports the same error.
func (s *RingSupply) HaveError() (bool, string) {
	if !s.errored.Load() {
		return false, ""
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return true, s.errMsg
}

// IsDiskFull reports the atomic disk-full flag.
func (s *RingSupply) IsDiskFull() bool { return s.diskFull.Load() }

// SetDiskFull sets or clears the atomic disk-full flag.
func (s *RingSupply) SetDiskFull(full bool) { s.diskFull.Store(full) }

// FillLevel returns an approximate occupancy (published-but-not-released
// count), used for the RingFillLevel gauge.
func (s *RingSupply) FillLevel() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishedSeq - s.writerReleasedSeq
}
