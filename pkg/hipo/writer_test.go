package hipo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/hipo/pkg/hipo/filestorage"
)

func newLocalSink(t *testing.T) (*filestorage.LocalRecordSink, string) {
	t.Helper()
	dir := t.TempDir()
	sink, err := filestorage.NewLocalRecordSink(dir)
	if err != nil {
		t.Fatalf("new local sink: %v", err)
	}
	return sink, dir
}

// S1: to-buffer mode accepts events until the caller-owned buffer is full,
// and Build produces a well-formed record.
func TestScenarioWriteToBuffer(t *testing.T) {
	cfg := WriterConfig{Order: LittleEndian, Compression: CompressionNone}
	buf := make([]byte, 4096)
	w, err := NewEventWriterToBuffer(cfg, NewCodec(), nil, buf)
	if err != nil {
		t.Fatalf("new event writer to buffer: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		ok, err := w.WriteEvent(ctx, []byte{byte(i), byte(i), byte(i)}, false, false)
		if err != nil || !ok {
			t.Fatalf("write event %d: ok=%v err=%v", i, ok, err)
		}
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	h, err := DecodeRecordHeader(buf[:HeaderBytes], LittleEndian)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if h.EventCount != 5 {
		t.Fatalf("event count = %d, want 5", h.EventCount)
	}
	if !h.IsTrailer || !h.IsLast {
		t.Fatal("closed to-buffer record should be marked trailer/last")
	}
}

// S2: writing past the split threshold rolls over to a new file, and both
// files are well-formed and independently readable.
func TestScenarioSplit(t *testing.T) {
	sink, dir := newLocalSink(t)
	ctx := context.Background()
	cfg := WriterConfig{
		Order:         LittleEndian,
		Compression:   CompressionNone,
		Split:         HeaderBytes + 64, // force a split after a couple of small records
		MaxEventCount: 1,                // one event per record, so split boundary is crossed deterministically
		OverWriteOK:   true,
	}
	w, err := NewEventWriterToFile(ctx, cfg, NewCodec(), nil, sink, nil, "split-test.hipo", nil, nil)
	if err != nil {
		t.Fatalf("new event writer: %v", err)
	}
	for i := 0; i < 20; i++ {
		if _, err := w.WriteEvent(ctx, make([]byte, 16), false, true); err != nil {
			t.Fatalf("write event %d: %v", i, err)
		}
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected at least 2 split files, got %d: %v", len(entries), entries)
	}
	for _, e := range entries {
		verifyFileWellFormed(t, filepath.Join(dir, e.Name()))
	}
}

// S3: force=true synchronously persists the current record before returning.
func TestScenarioForceToDisk(t *testing.T) {
	sink, dir := newLocalSink(t)
	ctx := context.Background()
	cfg := WriterConfig{Order: LittleEndian, Compression: CompressionNone, OverWriteOK: true}
	w, err := NewEventWriterToFile(ctx, cfg, NewCodec(), nil, sink, nil, "force-test.hipo", nil, nil)
	if err != nil {
		t.Fatalf("new event writer: %v", err)
	}
	if _, err := w.WriteEvent(ctx, []byte("force me"), true, false); err != nil {
		t.Fatalf("write event with force: %v", err)
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	verifyFileWellFormed(t, filepath.Join(dir, "force-test.hipo"))
}

// S4: every codec round-trips through a real file: what's written decodes
// and decompresses back to the original event bytes.
func TestScenarioCompressionRoundTrip(t *testing.T) {
	for _, typ := range []CompressionType{CompressionNone, CompressionLZ4, CompressionLZ4Best, CompressionGZIP} {
		t.Run(typ.String(), func(t *testing.T) {
			sink, dir := newLocalSink(t)
			ctx := context.Background()
			cfg := WriterConfig{Order: LittleEndian, Compression: typ, OverWriteOK: true}
			w, err := NewEventWriterToFile(ctx, cfg, NewCodec(), nil, sink, nil, "compressed.hipo", nil, nil)
			if err != nil {
				t.Fatalf("new event writer: %v", err)
			}
			want := []byte("the quick brown fox jumps over the lazy dog, the quick brown fox jumps over the lazy dog")
			if _, err := w.WriteEvent(ctx, want, false, true); err != nil {
				t.Fatalf("write event: %v", err)
			}
			if err := w.Close(ctx); err != nil {
				t.Fatalf("close: %v", err)
			}

			got := readFirstEventPayload(t, filepath.Join(dir, "compressed.hipo"))
			if string(got) != string(want) {
				t.Fatalf("round trip mismatch for %s: got %q, want %q", typ, got, want)
			}
		})
	}
}

// S5: a writer re-opened in append mode continues record numbering and
// appends new records after the existing ones.
func TestScenarioAppend(t *testing.T) {
	sink, dir := newLocalSink(t)
	ctx := context.Background()
	cfg := WriterConfig{Order: LittleEndian, Compression: CompressionNone, OverWriteOK: true}
	w, err := NewEventWriterToFile(ctx, cfg, NewCodec(), nil, sink, nil, "append-test.hipo", nil, nil)
	if err != nil {
		t.Fatalf("new event writer: %v", err)
	}
	if _, err := w.WriteEvent(ctx, []byte("first"), false, true); err != nil {
		t.Fatalf("write event: %v", err)
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	appendCfg := WriterConfig{Order: LittleEndian, Compression: CompressionNone, Append: true}
	aw, err := NewEventWriterToFile(ctx, appendCfg, NewCodec(), nil, sink, nil, "append-test.hipo", nil, nil)
	if err != nil {
		t.Fatalf("reopen for append: %v", err)
	}
	if _, err := aw.WriteEvent(ctx, []byte("second"), false, true); err != nil {
		t.Fatalf("write appended event: %v", err)
	}
	if err := aw.Close(ctx); err != nil {
		t.Fatalf("close appended writer: %v", err)
	}

	recordCount, lastRecNum := verifyFileWellFormed(t, filepath.Join(dir, "append-test.hipo"))
	if recordCount != 2 {
		t.Fatalf("expected 2 data records after append, got %d", recordCount)
	}
	if lastRecNum != 2 {
		t.Fatalf("expected last data record number 2, got %d", lastRecNum)
	}
}

// S6: multithreaded compression still emits records to disk in strict
// ascending record-number order.
func TestScenarioMultithreadedOrdering(t *testing.T) {
	sink, dir := newLocalSink(t)
	ctx := context.Background()
	cfg := WriterConfig{
		Order:              LittleEndian,
		Compression:        CompressionLZ4,
		CompressionThreads: 4,
		MaxEventCount:      1,
		OverWriteOK:        true,
	}
	w, err := NewEventWriterToFile(ctx, cfg, NewCodec(), nil, sink, nil, "multi-test.hipo", nil, nil)
	if err != nil {
		t.Fatalf("new event writer: %v", err)
	}
	const n = 64
	for i := 0; i < n; i++ {
		if _, err := w.WriteEvent(ctx, []byte{byte(i)}, false, true); err != nil {
			t.Fatalf("write event %d: %v", i, err)
		}
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	recordCount, lastRecNum := verifyFileWellFormed(t, filepath.Join(dir, "multi-test.hipo"))
	if recordCount != uint32(n) {
		t.Fatalf("expected %d data records, got %d", n, recordCount)
	}
	if lastRecNum != uint32(n) {
		t.Fatalf("expected last record number %d, got %d", n, lastRecNum)
	}
}

// Splitting in multi-threaded mode must still reset record numbers to 1 in
// the post-split file, even though the producer claims slots well ahead of
// the writer worker actually performing the split.
func TestScenarioMultithreadedSplit(t *testing.T) {
	sink, dir := newLocalSink(t)
	ctx := context.Background()
	cfg := WriterConfig{
		Order:              LittleEndian,
		Compression:        CompressionLZ4,
		CompressionThreads: 4,
		MaxEventCount:      1,
		Split:              HeaderBytes + 64,
		OverWriteOK:        true,
	}
	w, err := NewEventWriterToFile(ctx, cfg, NewCodec(), nil, sink, nil, "multi-split-test.hipo", nil, nil)
	if err != nil {
		t.Fatalf("new event writer: %v", err)
	}
	const n = 64
	for i := 0; i < n; i++ {
		if _, err := w.WriteEvent(ctx, make([]byte, 16), false, true); err != nil {
			t.Fatalf("write event %d: %v", i, err)
		}
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected at least 2 split files, got %d: %v", len(entries), entries)
	}
	var total uint32
	for _, e := range entries {
		recordCount, _ := verifyFileWellFormed(t, filepath.Join(dir, e.Name()))
		total += recordCount
	}
	if total != uint32(n) {
		t.Fatalf("expected %d data records across all split files, got %d", n, total)
	}
}

// verifyFileWellFormed walks every record in path, checking record-number
// contiguity and that RecordLengthWords matches actual stepping distance,
// returning the data record count and the last data record's number.
func verifyFileWellFormed(t *testing.T, path string) (dataRecords uint32, lastRecordNumber uint32) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	headBuf := make([]byte, HeaderBytes)
	if _, err := f.ReadAt(headBuf, 0); err != nil {
		t.Fatalf("read file header: %v", err)
	}
	fh, err := DecodeFileHeader(headBuf)
	if err != nil {
		t.Fatalf("decode file header: %v", err)
	}

	pos := int64(HeaderBytes) + int64(fh.IndexArrayLength) + int64(fh.UserHeaderLength)
	if pad := pos % 4; pad != 0 {
		pos += 4 - pad
	}

	var expectedNum uint32 = 1
	for {
		hdrBuf := make([]byte, HeaderBytes)
		n, err := f.ReadAt(hdrBuf, pos)
		if n < HeaderBytes {
			if err != nil {
				break
			}
			t.Fatalf("short header read at %d", pos)
		}
		rh, err := DecodeRecordHeader(hdrBuf, fh.ByteOrder)
		if err != nil {
			t.Fatalf("decode record header at %d: %v", pos, err)
		}
		if rh.IsTrailer {
			break
		}
		if rh.RecordNumber != expectedNum {
			t.Fatalf("record number %d at offset %d, want %d (contiguity)", rh.RecordNumber, pos, expectedNum)
		}
		dataRecords++
		lastRecordNumber = rh.RecordNumber
		expectedNum++
		pos += int64(rh.RecordLengthWords) * 4
		if rh.IsLast {
			break
		}
	}
	return dataRecords, lastRecordNumber
}

// readFirstEventPayload walks to the first data record of path, decompresses
// its payload, and returns the first event's raw bytes per the record's
// index array.
func readFirstEventPayload(t *testing.T, path string) []byte {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	headBuf := make([]byte, HeaderBytes)
	if _, err := f.ReadAt(headBuf, 0); err != nil {
		t.Fatalf("read file header: %v", err)
	}
	fh, err := DecodeFileHeader(headBuf)
	if err != nil {
		t.Fatalf("decode file header: %v", err)
	}

	pos := int64(HeaderBytes) + int64(fh.IndexArrayLength) + int64(fh.UserHeaderLength)
	if pad := pos % 4; pad != 0 {
		pos += 4 - pad
	}

	hdrBuf := make([]byte, HeaderBytes)
	if _, err := f.ReadAt(hdrBuf, pos); err != nil {
		t.Fatalf("read record header: %v", err)
	}
	rh, err := DecodeRecordHeader(hdrBuf, fh.ByteOrder)
	if err != nil {
		t.Fatalf("decode record header: %v", err)
	}

	idxOff := pos + int64(HeaderBytes)
	idxBuf := make([]byte, rh.IndexArrayLength)
	if _, err := f.ReadAt(idxBuf, idxOff); err != nil {
		t.Fatalf("read index array: %v", err)
	}
	bo := fh.ByteOrder.binary()
	firstEventLen := bo.Uint32(idxBuf[0:4])

	_, paddedUserHeader := Pad4(int(rh.UserHeaderLength))
	payloadOff := idxOff + int64(rh.IndexArrayLength) + int64(paddedUserHeader)
	payload := make([]byte, rh.CompressedLength)
	if _, err := f.ReadAt(payload, payloadOff); err != nil {
		t.Fatalf("read payload: %v", err)
	}

	codec := NewCodec()
	out := make([]byte, rh.UncompressedLength)
	n, err := codec.Decompress(payload, out, rh.CompressionType)
	if err != nil {
		t.Fatalf("decompress payload: %v", err)
	}
	out = out[:n]
	return out[:firstEventLen]
}

// Property 9: Close is idempotent — calling it twice leaves the file exactly
// as the first call did.
func TestCloseIsIdempotent(t *testing.T) {
	sink, dir := newLocalSink(t)
	ctx := context.Background()
	cfg := WriterConfig{Order: LittleEndian, Compression: CompressionNone, OverWriteOK: true}
	w, err := NewEventWriterToFile(ctx, cfg, NewCodec(), nil, sink, nil, "idempotent-close.hipo", nil, nil)
	if err != nil {
		t.Fatalf("new event writer: %v", err)
	}
	if _, err := w.WriteEvent(ctx, []byte("only event"), false, true); err != nil {
		t.Fatalf("write event: %v", err)
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("first close: %v", err)
	}
	path := filepath.Join(dir, "idempotent-close.hipo")
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file after first close: %v", err)
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file after second close: %v", err)
	}
	if len(before) != len(after) || string(before) != string(after) {
		t.Fatalf("second Close mutated file state: before=%d bytes after=%d bytes", len(before), len(after))
	}
}

// Property 8: writing with BIG instead of LITTLE byte order still round-trips
// event payload bytes; a reader derives the order from the magic word alone.
func TestEndianRoundTrip(t *testing.T) {
	for _, order := range []ByteOrder{LittleEndian, BigEndian} {
		t.Run(map[ByteOrder]string{LittleEndian: "little", BigEndian: "big"}[order], func(t *testing.T) {
			sink, dir := newLocalSink(t)
			ctx := context.Background()
			cfg := WriterConfig{Order: order, Compression: CompressionNone, OverWriteOK: true}
			w, err := NewEventWriterToFile(ctx, cfg, NewCodec(), nil, sink, nil, "endian.hipo", nil, nil)
			if err != nil {
				t.Fatalf("new event writer: %v", err)
			}
			want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
			if _, err := w.WriteEvent(ctx, want, false, true); err != nil {
				t.Fatalf("write event: %v", err)
			}
			if err := w.Close(ctx); err != nil {
				t.Fatalf("close: %v", err)
			}
			got := readFirstEventPayload(t, filepath.Join(dir, "endian.hipo"))
			if string(got) != string(want) {
				t.Fatalf("endian round trip mismatch for order %v: got %v, want %v", order, got, want)
			}
		})
	}
}

// Property 2: summing every data record's event count across a file equals
// the number of WriteEvent calls that returned true.
func TestEventCountSumMatchesWrites(t *testing.T) {
	sink, dir := newLocalSink(t)
	ctx := context.Background()
	cfg := WriterConfig{Order: LittleEndian, Compression: CompressionNone, MaxEventCount: 4, OverWriteOK: true}
	w, err := NewEventWriterToFile(ctx, cfg, NewCodec(), nil, sink, nil, "event-sum.hipo", nil, nil)
	if err != nil {
		t.Fatalf("new event writer: %v", err)
	}
	const n = 37
	written := 0
	for i := 0; i < n; i++ {
		ok, err := w.WriteEvent(ctx, []byte{byte(i)}, false, false)
		if err != nil {
			t.Fatalf("write event %d: %v", i, err)
		}
		if ok {
			written++
		}
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if written != n {
		t.Fatalf("expected all %d writes to succeed, got %d", n, written)
	}

	sum := sumEventCounts(t, filepath.Join(dir, "event-sum.hipo"))
	if sum != uint32(written) {
		t.Fatalf("sum of record event counts = %d, want %d", sum, written)
	}
}

// Property 10: successive file splitNumbers are start, start+inc, start+2*inc…
func TestSplitNumberMonotonic(t *testing.T) {
	sink, dir := newLocalSink(t)
	ctx := context.Background()
	cfg := WriterConfig{
		Order:          LittleEndian,
		Compression:    CompressionNone,
		Split:          HeaderBytes + 64,
		MaxEventCount:  1,
		SplitIncrement: 2,
		OverWriteOK:    true,
	}
	w, err := NewEventWriterToFile(ctx, cfg, NewCodec(), nil, sink, nil, "split-seq.hipo", nil, nil)
	if err != nil {
		t.Fatalf("new event writer: %v", err)
	}
	for i := 0; i < 20; i++ {
		if _, err := w.WriteEvent(ctx, make([]byte, 16), false, true); err != nil {
			t.Fatalf("write event %d: %v", i, err)
		}
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "split-seq.hipo")); err != nil {
		t.Fatalf("expected base file to exist: %v", err)
	}
	for _, splitNumber := range []int{2, 4} {
		name := filepath.Join(dir, fmt.Sprintf("split-seq.hipo.%d", splitNumber))
		if _, err := os.Stat(name); err != nil {
			t.Fatalf("expected split file %s to exist (increment=2): %v", name, err)
		}
	}
}

// sumEventCounts walks every data record in path and returns the sum of
// their event counts.
func sumEventCounts(t *testing.T, path string) uint32 {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	headBuf := make([]byte, HeaderBytes)
	if _, err := f.ReadAt(headBuf, 0); err != nil {
		t.Fatalf("read file header: %v", err)
	}
	fh, err := DecodeFileHeader(headBuf)
	if err != nil {
		t.Fatalf("decode file header: %v", err)
	}

	pos := int64(HeaderBytes) + int64(fh.IndexArrayLength) + int64(fh.UserHeaderLength)
	if pad := pos % 4; pad != 0 {
		pos += 4 - pad
	}

	var sum uint32
	for {
		hdrBuf := make([]byte, HeaderBytes)
		n, err := f.ReadAt(hdrBuf, pos)
		if n < HeaderBytes {
			if err != nil {
				break
			}
			t.Fatalf("short header read at %d", pos)
		}
		rh, err := DecodeRecordHeader(hdrBuf, fh.ByteOrder)
		if err != nil {
			t.Fatalf("decode record header at %d: %v", pos, err)
		}
		if rh.IsTrailer {
			break
		}
		sum += rh.EventCount
		pos += int64(rh.RecordLengthWords) * 4
		if rh.IsLast {
			break
		}
	}
	return sum
}
