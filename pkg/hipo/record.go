package hipo

import "fmt"

// RecordBuffer accumulates events plus a per-event index and, on Build,
// emits a self-contained record byte block: header, index array, optional
// user header, and a (possibly compressed) payload, each section padded to
// a 4-byte boundary.
type RecordBuffer struct {
	order       ByteOrder
	compression CompressionType
	codec       Codec

	maxEventCount int
	maxRecordSize int
	capacity      int // >0 in to-buffer mode: refuse growth past this many bytes

	recordNumber  uint32
	userRegister1 uint64
	userHeader    []byte

	eventLengths []uint32
	data         []byte
	dataLen      int

	scratch []byte // compression scratch, sized by MaxCompressedLen
	output  []byte // final binary buffer returned by GetBinaryBuffer
	built   int    // length of the valid prefix of output after Build

	HasDictionary bool
	HasFirstEvent bool
	IsTrailer     bool
	IsLast        bool
}

// NewRecordBuffer constructs a RecordBuffer for in-file/in-ring use, with a
// growable internal buffer (producer mode).
func NewRecordBuffer(cfg WriterConfig, codec Codec) *RecordBuffer {
	return &RecordBuffer{
		order:         cfg.Order,
		compression:   cfg.Compression,
		codec:         codec,
		maxEventCount: cfg.MaxEventCount,
		maxRecordSize: cfg.MaxRecordSize,
		data:          make([]byte, 0, cfg.BufferSize),
		userRegister1: uint64(cfg.StreamID),
	}
}

// NewFixedRecordBuffer constructs a RecordBuffer that refuses to grow past
// capacity bytes of final binary output — the to-buffer mode, where the
// caller owns the destination buffer.
func NewFixedRecordBuffer(cfg WriterConfig, codec Codec, capacity int) *RecordBuffer {
	rb := NewRecordBuffer(cfg, codec)
	rb.capacity = capacity
	return rb
}

// Reset clears entry count, index, and data length while preserving
// compression type, byte order, and target limits.
func (r *RecordBuffer) Reset() {
	r.eventLengths = r.eventLengths[:0]
	r.data = r.data[:0]
	r.dataLen = 0
	r.built = 0
	r.HasDictionary = false
	r.HasFirstEvent = false
	r.IsTrailer = false
	r.IsLast = false
}

// SetUserHeader installs the (already-built) common record bytes that will
// occupy this record's user-header section. Only meaningful on the first
// record of a file.
func (r *RecordBuffer) SetUserHeader(b []byte) {
	r.userHeader = b
}

// EventCount returns the number of events currently accumulated.
func (r *RecordBuffer) EventCount() int {
	return len(r.eventLengths)
}

// UncompressedLength returns the total uncompressed byte length of events
// accumulated so far.
func (r *RecordBuffer) UncompressedLength() int {
	return r.dataLen
}

// CompressionType returns the codec this record was configured with.
func (r *RecordBuffer) CompressionType() CompressionType {
	return r.compression
}

// estimatedBinaryLength projects the final binary buffer length assuming
// event were added, used only to enforce to-buffer capacity ahead of time.
func (r *RecordBuffer) estimatedBinaryLength(extra int) int {
	_, paddedUserHeader := Pad4(len(r.userHeader))
	payloadLen := r.dataLen + extra
	if r.compression != CompressionNone {
		payloadLen = r.codec.MaxCompressedLen(payloadLen, r.compression)
	}
	_, paddedPayload := Pad4(payloadLen)
	indexBytes := 4 * (len(r.eventLengths) + 1)
	return HeaderBytes + indexBytes + paddedUserHeader + paddedPayload
}

// AddEvent appends event to the record. It returns false, leaving the
// record unmodified, if doing so would exceed the configured max event
// count or target byte size and the record already holds at least one
// event — a record always accepts its first event regardless of size. In
// to-buffer mode (capacity > 0) it also refuses when growth would overflow
// the caller-supplied destination.
func (r *RecordBuffer) AddEvent(event []byte) bool {
	if len(r.eventLengths) > 0 {
		if len(r.eventLengths) >= r.maxEventCount {
			return false
		}
		if r.dataLen+len(event) > r.maxRecordSize {
			return false
		}
	}
	if r.capacity > 0 && r.estimatedBinaryLength(len(event)) > r.capacity {
		return false
	}
	if r.capacity == 0 && cap(r.data) < r.dataLen+len(event) {
		grown := make([]byte, r.dataLen, growCapacity(cap(r.data), r.dataLen+len(event)))
		copy(grown, r.data)
		r.data = grown
	}
	r.data = append(r.data, event...)
	r.eventLengths = append(r.eventLengths, uint32(len(event)))
	r.dataLen += len(event)
	return true
}

func growCapacity(current, need int) int {
	c := current
	if c == 0 {
		c = 4096
	}
	for c < need {
		c = c + c/5 + c // x2.2, comfortably above the spec's x1.2 single-event growth floor
	}
	return c
}

// Build computes the index array, compresses the payload (unless
// CompressionNone, which leaves data in place), and fills the RecordHeader.
// The ready binary buffer is retrieved with GetBinaryBuffer.
func (r *RecordBuffer) Build() error {
	indexBytes := 4 * len(r.eventLengths)
	userHeaderPad, paddedUserHeader := Pad4(len(r.userHeader))

	var compressedLen int
	var payload []byte
	if r.compression == CompressionNone {
		compressedLen = r.dataLen
		payload = r.data[:r.dataLen]
	} else {
		need := r.codec.MaxCompressedLen(r.dataLen, r.compression)
		if cap(r.scratch) < need {
			r.scratch = make([]byte, need)
		}
		n, err := r.codec.Compress(r.data[:r.dataLen], r.scratch[:need], r.compression)
		if err != nil {
			return fmt.Errorf("record build: %w", err)
		}
		compressedLen = n
		payload = r.scratch[:n]
	}
	dataPad, paddedPayload := Pad4(compressedLen)

	total := HeaderBytes + indexBytes + paddedUserHeader + paddedPayload
	if r.capacity > 0 && total > r.capacity {
		return fmt.Errorf("%w: record binary buffer needs %d bytes, capacity is %d", ErrCapacity, total, r.capacity)
	}
	if cap(r.output) < total {
		r.output = make([]byte, total)
	} else {
		r.output = r.output[:total]
	}

	headerType := HeaderTypeData
	if r.IsTrailer {
		headerType = HeaderTypeTrailer
	}
	h := RecordHeader{
		RecordLengthWords:  uint32(total / 4),
		RecordNumber:       r.recordNumber,
		EventCount:         uint32(len(r.eventLengths)),
		IndexArrayLength:   uint32(indexBytes),
		Type:               headerType,
		HasDictionary:      r.HasDictionary,
		HasFirstEvent:      r.HasFirstEvent,
		IsLast:             r.IsLast,
		IsTrailer:          r.IsTrailer,
		UserHeaderPad:      uint8(userHeaderPad),
		DataPad:            uint8(dataPad),
		UserHeaderLength:   uint32(len(r.userHeader)),
		UncompressedLength: uint32(r.dataLen),
		CompressedLength:   uint32(compressedLen),
		CompressionType:    r.compression,
		UserRegister1:      r.userRegister1,
	}
	if err := h.Encode(r.output[:HeaderBytes], r.order); err != nil {
		return err
	}

	off := HeaderBytes
	bo := r.order.binary()
	for _, l := range r.eventLengths {
		bo.PutUint32(r.output[off:off+4], l)
		off += 4
	}
	off += 0 // index has no trailing pad of its own; userHeader section starts here
	copy(r.output[off:off+len(r.userHeader)], r.userHeader)
	for i := len(r.userHeader); i < len(r.userHeader)+userHeaderPad; i++ {
		r.output[off+i] = 0
	}
	off += paddedUserHeader
	copy(r.output[off:off+compressedLen], payload)
	for i := compressedLen; i < compressedLen+dataPad; i++ {
		r.output[off+i] = 0
	}

	r.built = total
	return nil
}

// GetBinaryBuffer returns the ready-to-write region produced by the most
// recent Build call: [header | indexArray | userHeader | payload], with
// 4-byte padding between sections.
func (r *RecordBuffer) GetBinaryBuffer() []byte {
	return r.output[:r.built]
}

// SetRecordNumber assigns the record number written at the next Build.
func (r *RecordBuffer) SetRecordNumber(n uint32) {
	r.recordNumber = n
}

// RecordNumber returns the record number currently assigned.
func (r *RecordBuffer) RecordNumber() uint32 {
	return r.recordNumber
}

// BuildCommonRecord constructs the uncompressed RecordBuffer embedded as a
// file's user header: an optional XML dictionary (ASCII) followed by an
// optional first event. Either argument may be nil; at least one non-nil
// argument is expected by callers but this function itself places no such
// restriction — dictionary-only and first-event-only common records are
// both legal.
func BuildCommonRecord(order ByteOrder, codec Codec, dictionary []byte, firstEvent []byte) (*RecordBuffer, error) {
	cfg := WriterConfig{
		Order:         order,
		Compression:   CompressionNone,
		MaxEventCount: 2,
		MaxRecordSize: len(dictionary) + len(firstEvent) + 64,
		BufferSize:    minBufferSize,
	}
	rb := NewRecordBuffer(cfg, codec)
	if dictionary != nil {
		if !rb.AddEvent(dictionary) {
			return nil, fmt.Errorf("%w: dictionary does not fit common record", ErrCapacity)
		}
		rb.HasDictionary = true
	}
	if firstEvent != nil {
		if !rb.AddEvent(firstEvent) {
			return nil, fmt.Errorf("%w: first event does not fit common record", ErrCapacity)
		}
		rb.HasFirstEvent = true
	}
	if err := rb.Build(); err != nil {
		return nil, err
	}
	return rb, nil
}
