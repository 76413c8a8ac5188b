package core

import (
	"fmt"
	"strings"
	"time"
)

type CredentialConfig struct {
	RefreshMargin   time.Duration `koanf:"refresh_margin" mapstructure:"refresh_margin"`
	CacheTTL        time.Duration `koanf:"cache_ttl" mapstructure:"cache_ttl"`
	DurableAttempts int           `koanf:"durable_attempts" mapstructure:"durable_attempts"`
}

type UploadConfig struct {
	MaxChunkRetries int           `koanf:"max_chunk_retries" mapstructure:"max_chunk_retries"`
	InitialBackoff  time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff      time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
}

type PollingConfig struct {
	Interval time.Duration `koanf:"interval" mapstructure:"interval"`
	Timeout  time.Duration `koanf:"timeout" mapstructure:"timeout"`
}

type Config struct {
	ServiceName string           `koanf:"service_name" mapstructure:"service_name"`
	Credentials CredentialConfig `koanf:"credentials" mapstructure:"credentials"`
	Upload      UploadConfig     `koanf:"upload" mapstructure:"upload"`
	Polling     PollingConfig    `koanf:"polling" mapstructure:"polling"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "publisher",
		Credentials: CredentialConfig{
			RefreshMargin:   5 * time.Minute,
			CacheTTL:        time.Minute,
			DurableAttempts: 3,
		},
		Upload: UploadConfig{
			MaxChunkRetries: 3,
			InitialBackoff:  500 * time.Millisecond,
			MaxBackoff:      10 * time.Second,
		},
		Polling: PollingConfig{
			Interval: 5 * time.Second,
			Timeout:  5 * time.Minute,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Credentials.RefreshMargin < 0 {
		return fmt.Errorf("core: credentials.refresh_margin may not be negative")
	}
	if c.Upload.MaxChunkRetries < 0 {
		return fmt.Errorf("core: upload.max_chunk_retries may not be negative")
	}
	if c.Polling.Interval <= 0 {
		return fmt.Errorf("core: polling.interval must be positive")
	}
	if c.Polling.Timeout <= 0 {
		return fmt.Errorf("core: polling.timeout must be positive")
	}
	return nil
}
