package hipo

import (
	"bytes"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	codec := NewCodec()
	src := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 4096)

	for _, typ := range []CompressionType{CompressionNone, CompressionLZ4, CompressionLZ4Best, CompressionGZIP} {
		t.Run(typ.String(), func(t *testing.T) {
			dst := make([]byte, codec.MaxCompressedLen(len(src), typ))
			n, err := codec.Compress(src, dst, typ)
			if err != nil {
				t.Fatalf("compress: %v", err)
			}
			if typ != CompressionNone && n >= len(src) {
				t.Fatalf("compressed length %d not smaller than input %d for highly repetitive input", n, len(src))
			}

			out := make([]byte, len(src))
			m, err := codec.Decompress(dst[:n], out, typ)
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			if m != len(src) {
				t.Fatalf("decompressed length %d, want %d", m, len(src))
			}
			if !bytes.Equal(out, src) {
				t.Fatalf("round trip mismatch for %s", typ)
			}
		})
	}
}

func TestGzipCompressDoesNotOverflowDst(t *testing.T) {
	// Regresses a bug where writing through bytes.NewBuffer(dst[:0]) could
	// silently reallocate on growth, detaching the written bytes from dst.
	codec := NewCodec()
	src := make([]byte, 1<<20)
	for i := range src {
		src[i] = byte(i)
	}
	need := codec.MaxCompressedLen(len(src), CompressionGZIP)
	dst := make([]byte, need)
	n, err := codec.Compress(src, dst, CompressionGZIP)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}

	out := make([]byte, len(src))
	m, err := codec.Decompress(dst[:n], out, CompressionGZIP)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if m != len(src) || !bytes.Equal(out, src) {
		t.Fatalf("gzip round trip failed after in-place compress")
	}
}
