package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/hipo/pkg/hipo"
	"github.com/user/hipo/pkg/hipo/filestorage"
)

func TestParseCompression(t *testing.T) {
	cases := map[string]hipo.CompressionType{
		"NONE":     hipo.CompressionNone,
		"lz4":      hipo.CompressionLZ4,
		"LZ4_BEST": hipo.CompressionLZ4Best,
		"gzip":     hipo.CompressionGZIP,
	}
	for in, want := range cases {
		got, err := parseCompression(in)
		if err != nil {
			t.Fatalf("parseCompression(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("parseCompression(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := parseCompression("bogus"); err == nil {
		t.Fatal("expected error for unknown compression type")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("a", "b"); got != "a" {
		t.Fatalf("firstNonEmpty(a,b) = %q, want a", got)
	}
	if got := firstNonEmpty("", "b"); got != "b" {
		t.Fatalf("firstNonEmpty(\"\",b) = %q, want b", got)
	}
}

func TestRunReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	replayPath := filepath.Join(dir, "events.bin")

	var buf bytes.Buffer
	events := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}
	for _, e := range events {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(e)))
		buf.Write(lenBuf[:])
		buf.Write(e)
	}
	if err := os.WriteFile(replayPath, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write replay file: %v", err)
	}

	sink, err := filestorage.NewLocalRecordSink(dir)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	ctx := context.Background()
	cfg := hipo.WriterConfig{OverWriteOK: true}
	w, err := hipo.NewEventWriterToFile(ctx, cfg, hipo.NewCodec(), nil, sink, nil, "replay-out.hipo", nil, nil)
	if err != nil {
		t.Fatalf("new event writer: %v", err)
	}

	if err := runReplay(ctx, w, replayPath, hipo.NopLogger); err != nil {
		t.Fatalf("runReplay: %v", err)
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := w.RecordsWritten(); got == 0 {
		t.Fatalf("expected at least one record written, got %d", got)
	}
}
