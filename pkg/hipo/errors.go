package hipo

import "errors"

// Error kind sentinels. Concrete errors wrap one of these with fmt.Errorf so
// callers can classify a failure with errors.Is without string matching.
var (
	// ErrConfig marks incompatible or invalid WriterConfig combinations.
	ErrConfig = errors.New("hipo: config error")
	// ErrIO marks an open/read/write/seek/truncate failure.
	ErrIO = errors.New("hipo: io error")
	// ErrFormat marks a magic/version/length mismatch in on-disk data.
	ErrFormat = errors.New("hipo: format error")
	// ErrCapacity marks a caller buffer too small to hold a record or trailer.
	ErrCapacity = errors.New("hipo: capacity error")
	// ErrState marks an operation invoked in an illegal writer state
	// (after Close, or SetBuffer while still open).
	ErrState = errors.New("hipo: state error")
	// ErrAsync marks an error surfaced from a compressor or writer worker.
	ErrAsync = errors.New("hipo: async worker error")
)

// ErrDiskFull classifies a disk-exhaustion condition for callers that want
// to test a wrapped I/O error with errors.Is. The disk-full protocol itself
// is signaled through EventWriter.WriteEventToFile's boolean return and
// RingSupply.IsDiskFull, not by returning this error directly — disk-full
// is flow control, not failure.
var ErrDiskFull = errors.New("hipo: disk full")
