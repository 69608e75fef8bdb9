package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/hipo/pkg/hipo"
)

func init() {
	rootCmd.AddCommand(verifyCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify <file>",
	Short: "Check a hipo container file against the testable properties of the format",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerify(args[0])
	},
}

// runVerify checks: record-length word-count consistency (property 1),
// record-number contiguity (property 5), that the file header's
// trailer-position word points at a real trailer (property 3), and that
// recordCount matches the number of data records actually on disk
// (property 4).
func runVerify(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	headBuf := make([]byte, hipo.HeaderBytes)
	if _, err := f.ReadAt(headBuf, 0); err != nil {
		return fmt.Errorf("read file header: %w", err)
	}
	fh, err := hipo.DecodeFileHeader(headBuf)
	if err != nil {
		return fmt.Errorf("decode file header: %w", err)
	}

	pos := int64(hipo.HeaderBytes) + int64(fh.IndexArrayLength) + int64(fh.UserHeaderLength)
	if pad := pos % 4; pad != 0 {
		pos += 4 - pad
	}

	var dataRecords uint32
	var expectRecordNumber uint32 = 1
	var trailerSeen bool
	var trailerOffset int64

	for {
		hdrBuf := make([]byte, hipo.HeaderBytes)
		if _, err := f.ReadAt(hdrBuf, pos); err != nil {
			break
		}
		rh, err := hipo.DecodeRecordHeader(hdrBuf, fh.ByteOrder)
		if err != nil {
			return fmt.Errorf("record at %d: %w", pos, err)
		}

		_, paddedUserHeader := hipo.Pad4(int(rh.UserHeaderLength))
		_, paddedPayload := hipo.Pad4(int(rh.CompressedLength))
		wantWords := (hipo.HeaderBytes + int(rh.IndexArrayLength) + paddedUserHeader + paddedPayload) / 4
		if int(rh.RecordLengthWords) != wantWords {
			return fmt.Errorf("property 1 violated at record %d (@%d): recordLengthWords=%d, computed=%d",
				rh.RecordNumber, pos, rh.RecordLengthWords, wantWords)
		}

		if rh.IsTrailer {
			trailerSeen = true
			trailerOffset = pos
			break
		}

		if rh.RecordNumber != expectRecordNumber {
			return fmt.Errorf("property 5 violated: expected record number %d at offset %d, got %d",
				expectRecordNumber, pos, rh.RecordNumber)
		}
		expectRecordNumber++
		dataRecords++

		pos += int64(rh.RecordLengthWords) * 4
		if rh.IsLast {
			break
		}
	}

	if !trailerSeen {
		return fmt.Errorf("no trailer record found")
	}
	if int64(fh.TrailerPosition) != trailerOffset {
		return fmt.Errorf("property 3 violated: fileHeader.trailerPosition=%d, actual trailer offset=%d",
			fh.TrailerPosition, trailerOffset)
	}
	if fh.RecordCount != dataRecords {
		return fmt.Errorf("property 4 violated: fileHeader.recordCount=%d, actual data records=%d",
			fh.RecordCount, dataRecords)
	}

	fmt.Printf("OK: %s — %d data records, trailer at %d, recordCount=%d\n", path, dataRecords, trailerOffset, fh.RecordCount)
	return nil
}
