package processor

import (
	"fmt"
	"time"
)

// Config is the processing section of the app config (PROCESSING_*
// environment variables).
type Config struct {
	WorkerThreads       int           `yaml:"worker_threads"`
	MessageBufferSize   int           `yaml:"message_buffer_size"`
	BatchProcessingSize int           `yaml:"batch_processing_size"`
	FlushInterval       time.Duration `yaml:"flush_interval"`

	// MaxParallelDevices is accepted for configuration parity with the
	// decoder fleet but unused: the batch loop is serial to preserve
	// per-device ordering.
	MaxParallelDevices int `yaml:"max_parallel_devices"`
}

func (cfg *Config) Validate() error {
	if cfg.BatchProcessingSize <= 0 {
		return fmt.Errorf("processing batch_processing_size must be greater than 0, got %d", cfg.BatchProcessingSize)
	}
	if cfg.MessageBufferSize <= 0 {
		return fmt.Errorf("processing message_buffer_size must be greater than 0, got %d", cfg.MessageBufferSize)
	}
	if cfg.FlushInterval <= 0 {
		return fmt.Errorf("processing flush_interval must be greater than 0, got %s", cfg.FlushInterval)
	}
	if cfg.WorkerThreads < 0 {
		return fmt.Errorf("processing worker_threads must not be negative, got %d", cfg.WorkerThreads)
	}
	return nil
}
