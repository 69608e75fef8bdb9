package hipo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/hipo/pkg/hipo/filestorage"
)

func lifecycleTestConfig() WriterConfig {
	cfg, err := WriterConfig{Order: LittleEndian, Compression: CompressionNone, OverWriteOK: true}.Normalize()
	if err != nil {
		panic(err)
	}
	return cfg
}

func TestOpenNewWritesHeaderAtOffsetZero(t *testing.T) {
	dir := t.TempDir()
	sink, err := filestorage.NewLocalRecordSink(dir)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	ctx := context.Background()
	fl, err := OpenNew(ctx, lifecycleTestConfig(), OpenOptions{Sink: sink, Name: "new.hipo"})
	if err != nil {
		t.Fatalf("open new: %v", err)
	}
	if fl.RecordNumber() != 1 {
		t.Fatalf("initial record number = %d, want 1", fl.RecordNumber())
	}
	if fl.WritingPosition() != HeaderBytes {
		t.Fatalf("writing position after open = %d, want %d", fl.WritingPosition(), HeaderBytes)
	}

	path := filepath.Join(dir, "new.hipo")
	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if len(buf) < HeaderBytes {
		t.Fatalf("file too short: %d bytes", len(buf))
	}
	if _, err := DecodeFileHeader(buf[:HeaderBytes]); err != nil {
		t.Fatalf("decode file header: %v", err)
	}
}

func TestNextRecordNumberIncrements(t *testing.T) {
	dir := t.TempDir()
	sink, err := filestorage.NewLocalRecordSink(dir)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	ctx := context.Background()
	fl, err := OpenNew(ctx, lifecycleTestConfig(), OpenOptions{Sink: sink, Name: "seq.hipo"})
	if err != nil {
		t.Fatalf("open new: %v", err)
	}
	for i := uint32(1); i <= 5; i++ {
		if got := fl.NextRecordNumber(); got != i {
			t.Fatalf("NextRecordNumber() = %d, want %d", got, i)
		}
	}
	if fl.RecordNumber() != 6 {
		t.Fatalf("RecordNumber() after 5 increments = %d, want 6", fl.RecordNumber())
	}
}

func TestWriteTrailerPatchesFileHeader(t *testing.T) {
	dir := t.TempDir()
	sink, err := filestorage.NewLocalRecordSink(dir)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	ctx := context.Background()
	cfg := lifecycleTestConfig()
	fl, err := OpenNew(ctx, cfg, OpenOptions{Sink: sink, Name: "trailer.hipo"})
	if err != nil {
		t.Fatalf("open new: %v", err)
	}

	rb := NewRecordBuffer(cfg, NewCodec())
	rb.SetRecordNumber(fl.NextRecordNumber())
	rb.AddEvent([]byte("hello"))
	if err := rb.Build(); err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := fl.WriteRecord(rb.GetBinaryBuffer()); err != nil {
		t.Fatalf("write record: %v", err)
	}
	fl.RecordWritten(uint32(len(rb.GetBinaryBuffer())), 1)

	if err := fl.WriteTrailer(NewCodec(), true); err != nil {
		t.Fatalf("write trailer: %v", err)
	}
	if err := fl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	buf, err := os.ReadFile(filepath.Join(dir, "trailer.hipo"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	fh, err := DecodeFileHeader(buf[:HeaderBytes])
	if err != nil {
		t.Fatalf("decode file header: %v", err)
	}
	if fh.RecordCount != 1 {
		t.Fatalf("RecordCount = %d, want 1", fh.RecordCount)
	}
	if !fh.HasTrailerWithIndex {
		t.Fatal("HasTrailerWithIndex should be set when withIndex=true")
	}
	if int(fh.TrailerPosition) >= len(buf) {
		t.Fatalf("TrailerPosition %d out of bounds (file is %d bytes)", fh.TrailerPosition, len(buf))
	}

	trailerHdr, err := DecodeRecordHeader(buf[fh.TrailerPosition:fh.TrailerPosition+HeaderBytes], fh.ByteOrder)
	if err != nil {
		t.Fatalf("decode trailer record header: %v", err)
	}
	if !trailerHdr.IsTrailer || !trailerHdr.IsLast {
		t.Fatal("record at TrailerPosition is not marked as trailer/last")
	}
}

func TestOpenAppendPositionsPastLastRecord(t *testing.T) {
	dir := t.TempDir()
	sink, err := filestorage.NewLocalRecordSink(dir)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	ctx := context.Background()
	cfg := lifecycleTestConfig()

	fl, err := OpenNew(ctx, cfg, OpenOptions{Sink: sink, Name: "append.hipo"})
	if err != nil {
		t.Fatalf("open new: %v", err)
	}
	rb := NewRecordBuffer(cfg, NewCodec())
	rb.SetRecordNumber(fl.NextRecordNumber())
	rb.AddEvent([]byte("one"))
	if err := rb.Build(); err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := fl.WriteRecord(rb.GetBinaryBuffer()); err != nil {
		t.Fatalf("write record: %v", err)
	}
	fl.RecordWritten(uint32(len(rb.GetBinaryBuffer())), 1)
	if err := fl.WriteTrailer(NewCodec(), false); err != nil {
		t.Fatalf("write trailer: %v", err)
	}
	if err := fl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	appendCfg := cfg
	appendCfg.OverWriteOK = false
	appendCfg.Append = true
	afl, err := OpenAppend(ctx, appendCfg, OpenOptions{Sink: sink, Name: "append.hipo"})
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if afl.RecordNumber() != 2 {
		t.Fatalf("record number after append-open = %d, want 2 (continues past existing record 1)", afl.RecordNumber())
	}
	if afl.WritingPosition() <= HeaderBytes {
		t.Fatalf("writing position after append-open = %d, expected to be past the existing data record", afl.WritingPosition())
	}
}

func TestCloseForSplitWritesTrailerInBackground(t *testing.T) {
	dir := t.TempDir()
	sink, err := filestorage.NewLocalRecordSink(dir)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	ctx := context.Background()
	cfg := lifecycleTestConfig()
	fl, err := OpenNew(ctx, cfg, OpenOptions{Sink: sink, Name: "split-close.hipo"})
	if err != nil {
		t.Fatalf("open new: %v", err)
	}

	fl.CloseForSplit(NewCodec(), false, nil)
	fl.WaitClosers()

	buf, err := os.ReadFile(filepath.Join(dir, "split-close.hipo"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	fh, err := DecodeFileHeader(buf[:HeaderBytes])
	if err != nil {
		t.Fatalf("decode file header: %v", err)
	}
	if fh.RecordCount != 0 {
		t.Fatalf("RecordCount = %d, want 0 (no data records were written before split)", fh.RecordCount)
	}
	if int(fh.TrailerPosition) != HeaderBytes {
		t.Fatalf("TrailerPosition = %d, want %d", fh.TrailerPosition, HeaderBytes)
	}
}
