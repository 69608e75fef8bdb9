package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root process configuration for cmd/hipowriter.
type Config struct {
	Writer        WriterProcessConfig `json:"writer" yaml:"writer"`
	FileStorage   FileStorageConfig   `json:"file_storage" yaml:"file_storage"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// WriterProcessConfig mirrors pkg/hipo.WriterConfig field-for-field, plus the
// process-level identity inputs (stream/split numbering) the core leaves to
// its caller.
type WriterProcessConfig struct {
	Split               int64  `json:"split" yaml:"split"`
	MaxRecordSize       int    `json:"max_record_size" yaml:"max_record_size"`
	MaxEventCount       int    `json:"max_event_count" yaml:"max_event_count"`
	ByteOrder           string `json:"byte_order" yaml:"byte_order"` // LITTLE or BIG
	CompressionType     string `json:"compression_type" yaml:"compression_type"`
	CompressionThreads  int    `json:"compression_threads" yaml:"compression_threads"`
	RingSize            int    `json:"ring_size" yaml:"ring_size"`
	BufferSize          int    `json:"buffer_size" yaml:"buffer_size"`
	OverWriteOK         bool   `json:"overwrite_ok" yaml:"overwrite_ok"`
	Append              bool   `json:"append" yaml:"append"`
	AddTrailerWithIndex bool   `json:"add_trailer_with_index" yaml:"add_trailer_with_index"`
	StreamID            int    `json:"stream_id" yaml:"stream_id"`
	SplitNumber         int    `json:"split_number" yaml:"split_number"`
	SplitIncrement      int    `json:"split_increment" yaml:"split_increment"`
	StreamCount         int    `json:"stream_count" yaml:"stream_count"`
	BaseFileName        string `json:"base_file_name" yaml:"base_file_name"`
}

type ObservabilityConfig struct {
	OTLP OTLPConfig `json:"otlp" yaml:"otlp"`
}

type OTLPConfig struct {
	Endpoint    string            `json:"endpoint" yaml:"endpoint"`
	Protocol    string            `json:"protocol" yaml:"protocol"` // grpc or http
	Insecure    bool              `json:"insecure" yaml:"insecure"`
	Headers     map[string]string `json:"headers" yaml:"headers"`
	ServiceName string            `json:"service_name" yaml:"service_name"`
}

type FileStorageConfig struct {
	Type     string   `json:"type" yaml:"type"` // local, s3
	LocalDir string   `json:"local_dir" yaml:"local_dir"`
	S3       S3Config `json:"s3" yaml:"s3"`
}

type S3Config struct {
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
	Region          string `json:"region" yaml:"region"`
	Bucket          string `json:"bucket" yaml:"bucket"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
	UseSSL          bool   `json:"use_ssl" yaml:"use_ssl"`
}

// RetryConfig holds retry/backoff settings. No Config section embeds it and
// no command reads it; pkg/hipo never retries a write itself.
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries" yaml:"max_retries"`
	RetryInterval time.Duration `json:"retry_interval" yaml:"retry_interval"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	content := SubstituteEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		// Try JSON if YAML fails
		if err := json.Unmarshal([]byte(content), &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file (tried YAML and JSON): %w", err)
		}
	}

	return &cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

var envRegex = regexp.MustCompile(`\${(\w+)(?::-([^}]*))?}`)

func SubstituteEnvVars(input string) string {
	return envRegex.ReplaceAllStringFunc(input, func(m string) string {
		matches := envRegex.FindStringSubmatch(m)
		if len(matches) < 2 {
			return m
		}
		envVar := matches[1]
		if val, ok := os.LookupEnv(envVar); ok {
			return val
		}
		if len(matches) > 2 && strings.Contains(m, ":-") {
			return matches[2]
		}
		return m
	})
}
