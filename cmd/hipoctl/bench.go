package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/hipo/pkg/hipo"
	"github.com/user/hipo/pkg/hipo/filestorage"
)

var (
	benchDuration   int
	benchEventBytes int
	benchThreads    int
	benchDir        string
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Drive an EventWriter under synthetic load and report throughput",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBench()
	},
}

func init() {
	benchCmd.Flags().IntVarP(&benchDuration, "duration", "d", 5, "duration of the benchmark in seconds")
	benchCmd.Flags().IntVarP(&benchEventBytes, "event-bytes", "e", 256, "synthetic event payload size in bytes")
	benchCmd.Flags().IntVarP(&benchThreads, "threads", "t", 4, "compressor thread count")
	benchCmd.Flags().StringVar(&benchDir, "dir", ".", "directory to write the benchmark file into")
	rootCmd.AddCommand(benchCmd)
}

func runBench() error {
	ctx := context.Background()
	sink, err := filestorage.NewLocalRecordSink(benchDir)
	if err != nil {
		return fmt.Errorf("create sink: %w", err)
	}

	cfg := hipo.WriterConfig{
		Compression:        hipo.CompressionLZ4,
		CompressionThreads: benchThreads,
		OverWriteOK:        true,
	}
	codec := hipo.NewCodec()

	w, err := hipo.NewEventWriterToFile(ctx, cfg, codec, nil, sink, nil, "hipoctl-bench.hipo", nil, nil)
	if err != nil {
		return fmt.Errorf("open writer: %w", err)
	}

	event := make([]byte, benchEventBytes)
	for i := range event {
		event[i] = byte(i)
	}

	fmt.Printf("Benchmarking writer for %d seconds (%d compressor threads, %d byte events)...\n",
		benchDuration, benchThreads, benchEventBytes)

	deadline := time.Now().Add(time.Duration(benchDuration) * time.Second)
	var count int64
	start := time.Now()
	for time.Now().Before(deadline) {
		ok, err := w.WriteEvent(ctx, event, false, false)
		if err != nil {
			_ = w.Close(ctx)
			return fmt.Errorf("write event %d: %w", count, err)
		}
		if ok {
			count++
		}
	}
	elapsed := time.Since(start)

	if err := w.Close(ctx); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}

	fmt.Printf("\nBenchmark Results:\n")
	fmt.Printf("  Events written: %d\n", count)
	fmt.Printf("  Bytes written:  %d\n", w.BytesWritten())
	fmt.Printf("  Duration:       %v\n", elapsed)
	fmt.Printf("  Throughput:     %.0f events/s\n", float64(count)/elapsed.Seconds())
	return nil
}
