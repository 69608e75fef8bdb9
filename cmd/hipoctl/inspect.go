package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/hipo/pkg/hipo"
)

func init() {
	rootCmd.AddCommand(inspectCmd)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Dump the file header and every record header in a hipo container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

func runInspect(path string) error {
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
	fmt.Printf("file header: order=%v recordCount=%d indexLen=%d userHeaderLen=%d trailerPos=%d hasDict=%v hasFirstEvent=%v hasTrailerIndex=%v\n",
		orderName(fh.ByteOrder), fh.RecordCount, fh.IndexArrayLength, fh.UserHeaderLength, fh.TrailerPosition,
		fh.HasDictionary, fh.HasFirstEvent, fh.HasTrailerWithIndex)

	pos := int64(hipo.HeaderBytes) + int64(fh.IndexArrayLength) + int64(fh.UserHeaderLength)
	if pad := pos % 4; pad != 0 {
		pos += 4 - pad
	}

	n := 0
	for {
		hdrBuf := make([]byte, hipo.HeaderBytes)
		if _, err := f.ReadAt(hdrBuf, pos); err != nil {
			break
		}
		rh, err := hipo.DecodeRecordHeader(hdrBuf, fh.ByteOrder)
		if err != nil {
			return fmt.Errorf("decode record header at %d: %w", pos, err)
		}
		kind := "data"
		if rh.IsTrailer {
			kind = "trailer"
		}
		fmt.Printf("  record[%d] @%d: type=%s number=%d events=%d lengthWords=%d compressed=%d/%d (%s) last=%v\n",
			n, pos, kind, rh.RecordNumber, rh.EventCount, rh.RecordLengthWords,
			rh.CompressedLength, rh.UncompressedLength, rh.CompressionType, rh.IsLast)
		n++
		if rh.IsTrailer || rh.IsLast {
			break
		}
		pos += int64(rh.RecordLengthWords) * 4
	}
	return nil
}

func orderName(o hipo.ByteOrder) string {
	if o == hipo.BigEndian {
		return "BIG"
	}
	return "LITTLE"
}
