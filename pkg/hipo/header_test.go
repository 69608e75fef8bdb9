package hipo

import "testing"

func TestFileHeaderRoundTrip(t *testing.T) {
	for _, order := range []ByteOrder{LittleEndian, BigEndian} {
		h := &FileHeader{
			FileID:              7,
			FileSequence:        3,
			IndexArrayLength:    16,
			UserHeaderLength:    128,
			RecordCount:         5,
			HasDictionary:       true,
			HasFirstEvent:       true,
			HasTrailerWithIndex: true,
			ByteOrder:           order,
			TrailerPosition:     4096,
			UserRegister1:       0xdeadbeef,
			UserRegister2:       0xcafebabe,
		}
		buf := make([]byte, HeaderBytes)
		if err := h.Encode(buf); err != nil {
			t.Fatalf("encode: %v", err)
		}

		got, err := DecodeFileHeader(buf)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.ByteOrder != order {
			t.Fatalf("detected byte order %v, want %v", got.ByteOrder, order)
		}
		if *got != *h {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
		}
	}
}

func TestFileHeaderMagicNeverByteSwapped(t *testing.T) {
	// The magic word is written in the header's own ByteOrder, so reading
	// the word at offset 28 in that order must yield MagicWord for both
	// orders; a reader derives endianness from which order matches.
	var little, big FileHeader
	little.ByteOrder = LittleEndian
	big.ByteOrder = BigEndian

	lbuf := make([]byte, HeaderBytes)
	bbuf := make([]byte, HeaderBytes)
	if err := little.Encode(lbuf); err != nil {
		t.Fatal(err)
	}
	if err := big.Encode(bbuf); err != nil {
		t.Fatal(err)
	}

	lm := LittleEndian.binary().Uint32(lbuf[28:32])
	bm := BigEndian.binary().Uint32(bbuf[28:32])
	if lm != MagicWord || bm != MagicWord {
		t.Fatalf("magic word not preserved: little=%x big=%x want %x", lm, bm, MagicWord)
	}
}

func TestDecodeFileHeaderRejectsBadMagic(t *testing.T) {
	buf := make([]byte, HeaderBytes)
	if _, err := DecodeFileHeader(buf); err == nil {
		t.Fatal("expected error decoding all-zero header")
	}
}

func TestRecordHeaderRoundTrip(t *testing.T) {
	h := &RecordHeader{
		RecordLengthWords:  29,
		RecordNumber:       12,
		EventCount:         3,
		IndexArrayLength:   12,
		Type:               HeaderTypeData,
		HasDictionary:      true,
		IsLast:             false,
		IsTrailer:          false,
		UserHeaderPad:      2,
		DataPad:            1,
		UserHeaderLength:   40,
		UncompressedLength: 4096,
		CompressedLength:   2048,
		CompressionType:    CompressionLZ4Best,
		UserRegister1:      11,
		UserRegister2:      22,
	}
	buf := make([]byte, HeaderBytes)
	if err := h.Encode(buf, BigEndian); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeRecordHeader(buf, BigEndian)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *got != *h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestRecordHeaderTrailerBit(t *testing.T) {
	h := &RecordHeader{Type: HeaderTypeTrailer, IsTrailer: true, IsLast: true}
	buf := make([]byte, HeaderBytes)
	if err := h.Encode(buf, LittleEndian); err != nil {
		t.Fatal(err)
	}
	got, err := DecodeRecordHeader(buf, LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsTrailer || got.Type != HeaderTypeTrailer {
		t.Fatalf("trailer bit/type not preserved: %+v", got)
	}
}

func TestPad4(t *testing.T) {
	cases := []struct {
		n, pad, padded int
	}{
		{0, 0, 0},
		{1, 3, 4},
		{2, 2, 4},
		{3, 1, 4},
		{4, 0, 4},
		{5, 3, 8},
	}
	for _, c := range cases {
		pad, padded := Pad4(c.n)
		if pad != c.pad || padded != c.padded {
			t.Fatalf("Pad4(%d) = (%d,%d), want (%d,%d)", c.n, pad, padded, c.pad, c.padded)
		}
	}
}
