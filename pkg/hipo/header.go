package hipo

import (
	"encoding/binary"
	"fmt"
)

// MagicWord is written verbatim, in the writer's chosen byte order, at a
// fixed word offset in both the FileHeader and every RecordHeader. A reader
// derives endianness by noticing which byte pattern matches this constant.
const MagicWord uint32 = 0xc0da0100

// HeaderVersion is the container format version this writer emits.
const HeaderVersion uint8 = 6

// HeaderWords is the fixed size, in 4-byte words, of both FileHeader and
// RecordHeader.
const HeaderWords = 14

// HeaderBytes is HeaderWords * 4.
const HeaderBytes = HeaderWords * 4

// ByteOrder selects the endianness a writer encodes multi-byte integers in.
// MagicWord is written in this same order, so its byte pattern differs
// between LittleEndian and BigEndian files — that is what lets a reader
// detect the order from it.
type ByteOrder uint8

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

func (o ByteOrder) binary() binary.ByteOrder {
	if o == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// HeaderType distinguishes an ordinary data record from the trailer.
type HeaderType uint8

const (
	HeaderTypeData HeaderType = iota
	HeaderTypeTrailer
)

// FileHeader is the fixed 56-byte block written exactly once at offset 0.
type FileHeader struct {
	FileID              uint32
	FileSequence        uint32
	IndexArrayLength    uint32
	UserHeaderLength    uint32
	RecordCount         uint32
	HasDictionary       bool
	HasFirstEvent       bool
	HasTrailerWithIndex bool
	ByteOrder           ByteOrder
	TrailerPosition     uint64
	UserRegister1       uint64
	UserRegister2       uint64
}

// Encode writes the 56-byte FileHeader into dst (which must be at least
// HeaderBytes long) in h.ByteOrder.
func (h *FileHeader) Encode(dst []byte) error {
	if len(dst) < HeaderBytes {
		return fmt.Errorf("%w: file header needs %d bytes, got %d", ErrCapacity, HeaderBytes, len(dst))
	}
	bo := h.ByteOrder.binary()
	bo.PutUint32(dst[0:4], h.FileID)
	bo.PutUint32(dst[4:8], h.FileSequence)
	bo.PutUint32(dst[8:12], HeaderWords)
	bo.PutUint32(dst[12:16], h.RecordCount)
	bo.PutUint32(dst[16:20], h.IndexArrayLength)
	bo.PutUint32(dst[20:24], h.UserHeaderLength)
	bo.PutUint32(dst[24:28], h.encodeBitInfo())
	bo.PutUint32(dst[28:32], MagicWord)
	bo.PutUint64(dst[32:40], h.TrailerPosition)
	bo.PutUint64(dst[40:48], h.UserRegister1)
	bo.PutUint64(dst[48:56], h.UserRegister2)
	return nil
}

func (h *FileHeader) encodeBitInfo() uint32 {
	v := uint32(HeaderVersion)
	if h.HasDictionary {
		v |= 1 << 8
	}
	if h.HasFirstEvent {
		v |= 1 << 9
	}
	if h.HasTrailerWithIndex {
		v |= 1 << 10
	}
	if h.ByteOrder == BigEndian {
		v |= 1 << 11
	}
	return v
}

// DecodeFileHeader reads a FileHeader from src, auto-detecting byte order
// from the magic word at word offset 7 (byte offset 28).
func DecodeFileHeader(src []byte) (*FileHeader, error) {
	if len(src) < HeaderBytes {
		return nil, fmt.Errorf("%w: file header needs %d bytes, got %d", ErrFormat, HeaderBytes, len(src))
	}
	order, err := detectByteOrder(src[28:32])
	if err != nil {
		return nil, err
	}
	bo := order.binary()

	headerWords := bo.Uint32(src[8:12])
	if headerWords != HeaderWords {
		return nil, fmt.Errorf("%w: file header length %d words, want %d", ErrFormat, headerWords, HeaderWords)
	}

	bitInfo := bo.Uint32(src[24:28])
	version := uint8(bitInfo & 0xff)
	if version != HeaderVersion {
		return nil, fmt.Errorf("%w: file header version %d, want %d", ErrFormat, version, HeaderVersion)
	}

	h := &FileHeader{
		FileID:              bo.Uint32(src[0:4]),
		FileSequence:        bo.Uint32(src[4:8]),
		RecordCount:         bo.Uint32(src[12:16]),
		IndexArrayLength:    bo.Uint32(src[16:20]),
		UserHeaderLength:    bo.Uint32(src[20:24]),
		HasDictionary:       bitInfo&(1<<8) != 0,
		HasFirstEvent:       bitInfo&(1<<9) != 0,
		HasTrailerWithIndex: bitInfo&(1<<10) != 0,
		ByteOrder:           order,
		TrailerPosition:     bo.Uint64(src[32:40]),
		UserRegister1:       bo.Uint64(src[40:48]),
		UserRegister2:       bo.Uint64(src[48:56]),
	}
	return h, nil
}

func detectByteOrder(magicBytes []byte) (ByteOrder, error) {
	if binary.LittleEndian.Uint32(magicBytes) == MagicWord {
		return LittleEndian, nil
	}
	if binary.BigEndian.Uint32(magicBytes) == MagicWord {
		return BigEndian, nil
	}
	return 0, fmt.Errorf("%w: magic word mismatch", ErrFormat)
}

// RecordHeader is the fixed 56-byte block prefixed to every record
// (including the trailer) in the container.
type RecordHeader struct {
	RecordLengthWords  uint32
	RecordNumber       uint32
	EventCount         uint32
	IndexArrayLength   uint32
	Type               HeaderType
	HasDictionary      bool
	HasFirstEvent      bool
	IsLast             bool
	IsTrailer          bool
	EventType          uint8
	UserHeaderPad      uint8
	DataPad            uint8
	UserHeaderLength   uint32
	UncompressedLength uint32
	CompressedLength   uint32
	CompressionType    CompressionType
	UserRegister1      uint64
	UserRegister2      uint64
}

// Encode writes the 56-byte RecordHeader into dst in the given byte order.
func (h *RecordHeader) Encode(dst []byte, order ByteOrder) error {
	if len(dst) < HeaderBytes {
		return fmt.Errorf("%w: record header needs %d bytes, got %d", ErrCapacity, HeaderBytes, len(dst))
	}
	bo := order.binary()
	bo.PutUint32(dst[0:4], h.RecordLengthWords)
	bo.PutUint32(dst[4:8], h.RecordNumber)
	bo.PutUint32(dst[8:12], HeaderWords)
	bo.PutUint32(dst[12:16], h.EventCount)
	bo.PutUint32(dst[16:20], h.IndexArrayLength)
	bo.PutUint32(dst[20:24], h.encodeBitInfo())
	bo.PutUint32(dst[24:28], h.UserHeaderLength)
	bo.PutUint32(dst[28:32], MagicWord)
	bo.PutUint32(dst[32:36], h.UncompressedLength)
	bo.PutUint32(dst[36:40], h.CompressedLength&0x0fffffff|uint32(h.CompressionType)<<28)
	bo.PutUint64(dst[40:48], h.UserRegister1)
	bo.PutUint64(dst[48:56], h.UserRegister2)
	return nil
}

func (h *RecordHeader) encodeBitInfo() uint32 {
	v := uint32(HeaderVersion)
	v |= uint32(h.Type&0xf) << 8
	if h.HasDictionary {
		v |= 1 << 12
	}
	if h.HasFirstEvent {
		v |= 1 << 13
	}
	if h.IsLast {
		v |= 1 << 14
	}
	if h.IsTrailer {
		v |= 1 << 15
	}
	v |= uint32(h.EventType&0xf) << 16
	v |= uint32(h.UserHeaderPad&0x3) << 20
	v |= uint32(h.DataPad&0x3) << 22
	return v
}

// DecodeRecordHeader reads a RecordHeader from src using the given byte
// order (the order is known from the enclosing FileHeader, not rediscovered
// per record).
func DecodeRecordHeader(src []byte, order ByteOrder) (*RecordHeader, error) {
	if len(src) < HeaderBytes {
		return nil, fmt.Errorf("%w: record header needs %d bytes, got %d", ErrFormat, HeaderBytes, len(src))
	}
	bo := order.binary()

	magic := bo.Uint32(src[28:32])
	if magic != MagicWord {
		return nil, fmt.Errorf("%w: record header magic mismatch", ErrFormat)
	}
	headerWords := bo.Uint32(src[8:12])
	if headerWords != HeaderWords {
		return nil, fmt.Errorf("%w: record header length %d words, want %d", ErrFormat, headerWords, HeaderWords)
	}

	bitInfo := bo.Uint32(src[20:24])
	version := uint8(bitInfo & 0xff)
	if version != HeaderVersion {
		return nil, fmt.Errorf("%w: record header version %d, want %d", ErrFormat, version, HeaderVersion)
	}

	compWord := bo.Uint32(src[36:40])

	h := &RecordHeader{
		RecordLengthWords:  bo.Uint32(src[0:4]),
		RecordNumber:       bo.Uint32(src[4:8]),
		EventCount:         bo.Uint32(src[12:16]),
		IndexArrayLength:   bo.Uint32(src[16:20]),
		Type:               HeaderType((bitInfo >> 8) & 0xf),
		HasDictionary:      bitInfo&(1<<12) != 0,
		HasFirstEvent:      bitInfo&(1<<13) != 0,
		IsLast:             bitInfo&(1<<14) != 0,
		IsTrailer:          bitInfo&(1<<15) != 0,
		EventType:          uint8((bitInfo >> 16) & 0xf),
		UserHeaderPad:      uint8((bitInfo >> 20) & 0x3),
		DataPad:            uint8((bitInfo >> 22) & 0x3),
		UserHeaderLength:   bo.Uint32(src[24:28]),
		UncompressedLength: bo.Uint32(src[32:36]),
		CompressedLength:   compWord & 0x0fffffff,
		CompressionType:    CompressionType(compWord >> 28),
		UserRegister1:      bo.Uint64(src[40:48]),
		UserRegister2:      bo.Uint64(src[48:56]),
	}
	return h, nil
}

// Pad4 returns the number of zero bytes needed to round n up to a multiple
// of 4, and the padded length.
func Pad4(n int) (pad int, padded int) {
	pad = (4 - n%4) % 4
	return pad, n + pad
}
