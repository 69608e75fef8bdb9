// Command hipowriter drives a pkg/hipo.EventWriter against either a
// synthetic event generator or a replay source read from a flat file of
// length-prefixed event blobs.
package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/user/hipo/internal/config"
	"github.com/user/hipo/internal/observability"
	"github.com/user/hipo/internal/version"
	"github.com/user/hipo/pkg/hipo"
	"github.com/user/hipo/pkg/hipo/filestorage"
	"github.com/user/hipo/pkg/hipo/hipolog"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config file; only its file_storage and observability sections are used, and file_storage.local_dir takes precedence over -out-dir")
	mode := flag.String("mode", "synthetic", "event source: synthetic or replay")
	replayPath := flag.String("replay-file", "", "length-prefixed event file to replay (mode=replay)")
	outDir := flag.String("out-dir", ".", "output directory for the container file(s)")
	outName := flag.String("out-name", "hipowriter-out.hipo", "base output file name")
	eventCount := flag.Int("events", 1000, "number of synthetic events to write (mode=synthetic, 0 = run for -duration)")
	eventBytes := flag.Int("event-bytes", 256, "synthetic event payload size in bytes")
	duration := flag.Duration("duration", 0, "if >0, write synthetic events until this duration elapses instead of -events")
	compressionFlag := flag.String("compression", "LZ4", "NONE, LZ4, LZ4_BEST, or GZIP")
	threads := flag.Int("compression-threads", 4, "compressor worker count; 1 runs compression inline")
	split := flag.Int64("split", 0, "target file size in bytes before splitting; 0 disables splitting")
	streamID := flag.Int("stream-id", 0, "stream identity stamped into each record's first user register")
	versionFlag := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("hipowriter %s\n", version.Version)
		return
	}

	if v := os.Getenv("HIPO_CONFIG"); v != "" && *configPath == "" {
		*configPath = v
	}
	if v := os.Getenv("HIPO_MODE"); v != "" && *mode == "synthetic" {
		*mode = v
	}
	if v := os.Getenv("HIPO_OUT_DIR"); v != "" && *outDir == "." {
		*outDir = v
	}
	if v := os.Getenv("HIPO_COMPRESSION"); v != "" && *compressionFlag == "LZ4" {
		*compressionFlag = v
	}
	if v := os.Getenv("HIPO_COMPRESSION_THREADS"); v != "" && *threads == 4 {
		if n, err := strconv.Atoi(v); err == nil {
			*threads = n
		}
	}
	if v := os.Getenv("HIPO_STREAM_ID"); v != "" && *streamID == 0 {
		if n, err := strconv.Atoi(v); err == nil {
			*streamID = n
		}
	}

	logger := hipolog.New()

	cfg := &config.Config{}
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config %s: %v", *configPath, err)
		}
		cfg = loaded
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nreceived signal, shutting down gracefully...")
		cancel()
	}()

	if cfg.Observability.OTLP.Endpoint != "" {
		if cfg.Observability.OTLP.ServiceName == "" {
			cfg.Observability.OTLP.ServiceName = "hipowriter"
		}
		shutdown, err := observability.InitOTLP(ctx, cfg.Observability.OTLP)
		if err != nil {
			logger.Warn("failed to initialize OTLP", "err", err)
		} else {
			defer shutdown(context.Background())
		}
	}

	compType, err := parseCompression(*compressionFlag)
	if err != nil {
		log.Fatal(err)
	}

	sink, archive, err := filestorage.NewSink(ctx, filestorage.Config{
		Type:     cfg.FileStorage.Type,
		LocalDir: firstNonEmpty(cfg.FileStorage.LocalDir, *outDir),
		S3: filestorage.S3Config{
			Endpoint:        cfg.FileStorage.S3.Endpoint,
			Region:          cfg.FileStorage.S3.Region,
			Bucket:          cfg.FileStorage.S3.Bucket,
			AccessKeyID:     cfg.FileStorage.S3.AccessKeyID,
			SecretAccessKey: cfg.FileStorage.S3.SecretAccessKey,
		},
	})
	if err != nil {
		log.Fatalf("failed to initialize file storage: %v", err)
	}

	writerCfg := hipo.WriterConfig{
		Split:              *split,
		Compression:        compType,
		CompressionThreads: *threads,
		StreamID:           *streamID,
		OverWriteOK:        true,
	}

	w, err := hipo.NewEventWriterToFile(ctx, writerCfg, hipo.NewCodec(), logger, sink, archive, *outName, nil, nil)
	if err != nil {
		log.Fatalf("failed to open event writer: %v", err)
	}

	var runErr error
	switch *mode {
	case "synthetic":
		runErr = runSynthetic(ctx, w, *eventCount, *eventBytes, *duration, logger)
	case "replay":
		if *replayPath == "" {
			log.Fatal("mode=replay requires -replay-file")
		}
		runErr = runReplay(ctx, w, *replayPath, logger)
	default:
		log.Fatalf("unknown mode %q: supported modes are synthetic, replay", *mode)
	}

	if closeErr := w.Close(context.Background()); closeErr != nil && runErr == nil {
		runErr = closeErr
	}
	if runErr != nil {
		log.Fatalf("hipowriter failed: %v", runErr)
	}

	fmt.Printf("wrote %d records, %d bytes to %s\n", w.RecordsWritten(), w.BytesWritten(), *outName)
}

// runSynthetic generates count fixed-size events (or runs until dur
// elapses when dur > 0), each stamped with a uuid correlation id, and
// writes them through w.
func runSynthetic(ctx context.Context, w *hipo.EventWriter, count, eventBytes int, dur time.Duration, logger hipo.Logger) error {
	event := make([]byte, eventBytes)
	deadline := time.Time{}
	if dur > 0 {
		deadline = time.Now().Add(dur)
	}

	written := 0
	for {
		if dur > 0 {
			if time.Now().After(deadline) {
				break
			}
		} else if written >= count {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		id := uuid.NewString()
		copy(event, id)
		for i := len(id); i < len(event); i++ {
			event[i] = byte(i)
		}

		ok, err := w.WriteEvent(ctx, event, false, false)
		if err != nil {
			return fmt.Errorf("write synthetic event %d: %w", written, err)
		}
		if ok {
			written++
		}
	}
	logger.Info("synthetic run complete", "events", written)
	return nil
}

// runReplay streams events from a flat file of (uint32 length, payload)
// pairs — the harness format produced alongside this tool for round-trip
// testing — and writes each through w in order.
func runReplay(ctx context.Context, w *hipo.EventWriter, path string, logger hipo.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open replay file %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var lenBuf [4]byte
	written := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("read event length: %w", err)
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])
		event := make([]byte, n)
		if _, err := io.ReadFull(r, event); err != nil {
			return fmt.Errorf("read event payload: %w", err)
		}
		if _, err := w.WriteEvent(ctx, event, false, false); err != nil {
			return fmt.Errorf("write replayed event %d: %w", written, err)
		}
		written++
	}
	logger.Info("replay complete", "events", written)
	return nil
}

func parseCompression(s string) (hipo.CompressionType, error) {
	switch strings.ToUpper(s) {
	case "NONE":
		return hipo.CompressionNone, nil
	case "LZ4":
		return hipo.CompressionLZ4, nil
	case "LZ4_BEST":
		return hipo.CompressionLZ4Best, nil
	case "GZIP":
		return hipo.CompressionGZIP, nil
	default:
		return 0, fmt.Errorf("unknown compression type %q", s)
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
