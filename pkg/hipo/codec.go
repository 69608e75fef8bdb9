package hipo

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
)

// fixedWriter writes directly into a caller-owned, fixed-capacity buffer,
// erroring rather than reallocating on overflow — unlike bytes.Buffer, which
// would silently detach its backing array from dst on growth.
type fixedWriter struct {
	buf []byte
	n   int
}

func (w *fixedWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > len(w.buf) {
		return 0, io.ErrShortBuffer
	}
	copy(w.buf[w.n:], p)
	w.n += len(p)
	return len(p), nil
}

// CompressionType enumerates the codecs a record's payload may be packed
// with. It is stored in the upper 4 bits of a RecordHeader's compressed-data
// word.
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionLZ4
	CompressionLZ4Best
	CompressionGZIP
)

func (t CompressionType) String() string {
	switch t {
	case CompressionNone:
		return "NONE"
	case CompressionLZ4:
		return "LZ4"
	case CompressionLZ4Best:
		return "LZ4_BEST"
	case CompressionGZIP:
		return "GZIP"
	default:
		return fmt.Sprintf("CompressionType(%d)", uint8(t))
	}
}

// Codec compresses and decompresses a record's payload from src into a
// caller-owned dst. Unlike a one-shot ([]byte, error) compressor, it
// never allocates its output buffer — RecordBuffer.Build is a hot path
// called once per record and owns dst's backing array across its lifetime.
type Codec interface {
	// Compress packs src into dst, returning the number of bytes written.
	// dst must be large enough; callers size it with MaxCompressedLen.
	Compress(src []byte, dst []byte, typ CompressionType) (n int, err error)
	// Decompress unpacks src (compressed with typ) into dst, returning the
	// number of bytes written.
	Decompress(src []byte, dst []byte, typ CompressionType) (n int, err error)
	// MaxCompressedLen returns a safe upper bound on the compressed size of
	// srcLen bytes of input under typ.
	MaxCompressedLen(srcLen int, typ CompressionType) int
}

// defaultCodec is grounded on pkg/compression/compression.go's per-algorithm
// Compressor implementations, adapted from an allocating API to the
// buffer-reuse contract RecordBuffer needs.
type defaultCodec struct{}

// NewCodec returns the Codec used by every RecordBuffer and compressor
// worker unless a test substitutes its own.
func NewCodec() Codec {
	return defaultCodec{}
}

func (defaultCodec) MaxCompressedLen(srcLen int, typ CompressionType) int {
	switch typ {
	case CompressionNone:
		return srcLen
	case CompressionLZ4, CompressionLZ4Best:
		return lz4.CompressBlockBound(srcLen)
	case CompressionGZIP:
		// gzip has no tight bound API; worst case is input plus framing
		// overhead, which in practice never approaches this margin.
		return srcLen + srcLen/2 + 256
	default:
		return srcLen
	}
}

func (defaultCodec) Compress(src []byte, dst []byte, typ CompressionType) (int, error) {
	switch typ {
	case CompressionNone:
		n := copy(dst, src)
		return n, nil
	case CompressionLZ4, CompressionLZ4Best:
		var w lz4.Compressor
		if typ == CompressionLZ4Best {
			hc := lz4.CompressorHC{Level: lz4.Level9}
			n, err := hc.CompressBlock(src, dst)
			if err != nil {
				return 0, fmt.Errorf("lz4 best compress: %w", err)
			}
			return n, nil
		}
		n, err := w.CompressBlock(src, dst)
		if err != nil {
			return 0, fmt.Errorf("lz4 compress: %w", err)
		}
		return n, nil
	case CompressionGZIP:
		fw := &fixedWriter{buf: dst}
		zw := gzip.NewWriter(fw)
		if _, err := zw.Write(src); err != nil {
			return 0, fmt.Errorf("gzip compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return 0, fmt.Errorf("gzip compress: %w", err)
		}
		return fw.n, nil
	default:
		return 0, fmt.Errorf("%w: unknown compression type %v", ErrConfig, typ)
	}
}

func (defaultCodec) Decompress(src []byte, dst []byte, typ CompressionType) (int, error) {
	switch typ {
	case CompressionNone:
		n := copy(dst, src)
		return n, nil
	case CompressionLZ4, CompressionLZ4Best:
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return 0, fmt.Errorf("lz4 decompress: %w", err)
		}
		return n, nil
	case CompressionGZIP:
		zr, err := gzip.NewReader(bytes.NewReader(src))
		if err != nil {
			return 0, fmt.Errorf("gzip decompress: %w", err)
		}
		defer zr.Close()
		n := 0
		for {
			m, err := zr.Read(dst[n:])
			n += m
			if err == io.EOF {
				break
			}
			if err != nil {
				return 0, fmt.Errorf("gzip decompress: %w", err)
			}
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: unknown compression type %v", ErrConfig, typ)
	}
}
