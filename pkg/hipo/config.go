package hipo

import "fmt"

// WriterConfig holds every tunable named in the external interface: target
// sizes, compression, ring sizing, split/append mode, and filename
// templating inputs.
type WriterConfig struct {
	// Split is the target file size in bytes; 0 disables splitting.
	Split int64
	// MaxRecordSize is the soft target record size in bytes.
	MaxRecordSize int
	// MaxEventCount caps events per record.
	MaxEventCount int
	// Order is the byte order every multi-byte field is written in.
	Order ByteOrder
	// Compression selects the codec applied to each record's payload.
	Compression CompressionType
	// CompressionThreads is the compressor worker pool size. A value of 1
	// runs compression on the producer goroutine with no ring at all.
	CompressionThreads int
	// RingSize is the requested in-flight record count; it is rounded up to
	// a power of two no smaller than max(16, CompressionThreads+2).
	RingSize int
	// BufferSize is each record's internal byte capacity, minimum 1 MiB,
	// default 9 MiB when zero.
	BufferSize int
	// OverWriteOK permits truncating an existing file when not appending.
	OverWriteOK bool
	// Append opens an existing file and positions past its last record.
	Append bool
	// AddTrailerWithIndex makes the trailer carry the per-record index.
	AddTrailerWithIndex bool

	// StreamID, SplitNumber, SplitIncrement, StreamCount feed filename
	// templating; StreamID is also stamped into RecordHeader.UserRegister1
	// for every record this writer mints.
	StreamID       int
	SplitNumber    int
	SplitIncrement int
	StreamCount    int
}

const (
	minBufferSize     = 1 << 20 // 1 MiB
	defaultBufferSize = 9 << 20 // 9 MiB
	minRingSize       = 16
)

// Normalize fills in defaults and validates mutually-constrained options,
// returning a copy safe to use. It never mutates the receiver.
func (c WriterConfig) Normalize() (WriterConfig, error) {
	out := c

	if out.BufferSize == 0 {
		out.BufferSize = defaultBufferSize
	}
	if out.BufferSize < minBufferSize {
		out.BufferSize = minBufferSize
	}
	if out.MaxRecordSize <= 0 {
		out.MaxRecordSize = out.BufferSize
	}
	if out.MaxEventCount <= 0 {
		out.MaxEventCount = 1_000_000
	}
	if out.CompressionThreads <= 0 {
		out.CompressionThreads = 1
	}
	if out.SplitIncrement <= 0 {
		out.SplitIncrement = 1
	}
	if out.StreamCount <= 0 {
		out.StreamCount = 1
	}

	minRing := out.CompressionThreads + 2
	if minRing < minRingSize {
		minRing = minRingSize
	}
	requested := out.RingSize
	if requested <= 0 {
		requested = minRing
	}
	out.RingSize = nextPowerOfTwo(requested)
	if out.RingSize < nextPowerOfTwo(minRing) {
		out.RingSize = nextPowerOfTwo(minRing)
	}

	if out.Append {
		if out.Split != 0 {
			return out, fmt.Errorf("%w: append is incompatible with split", ErrConfig)
		}
	}
	if out.Append && out.OverWriteOK {
		return out, fmt.Errorf("%w: append is incompatible with overWriteOK", ErrConfig)
	}

	return out, nil
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
