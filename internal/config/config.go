package config

import (
	"fmt"
	"time"

	config_pkg "github.com/kumarabd/gokit/config"

	"github.com/bugrelay/bugrelay/internal/metrics"
	"github.com/bugrelay/bugrelay/pkg/dedupe"
	"github.com/bugrelay/bugrelay/pkg/delivery"
	"github.com/bugrelay/bugrelay/pkg/imaging"
	"github.com/bugrelay/bugrelay/pkg/pii"
	"github.com/bugrelay/bugrelay/pkg/pipeline"
	"github.com/bugrelay/bugrelay/pkg/queue"
	"github.com/bugrelay/bugrelay/pkg/server"
	"github.com/bugrelay/bugrelay/pkg/storage"
)

var (
	ApplicationName    = "default"
	ApplicationVersion = "dev"
)

type Config struct {
	Server   *server.Config   `json:"server,omitempty" yaml:"server,omitempty"`
	Pipeline *pipeline.Config `json:"pipeline" yaml:"pipeline"`
	Metrics  *metrics.Options `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// New creates a new config instance
func New() (*Config, error) {
	// Create default config object
	configObject := &Config{
		Server: &server.Config{
			HTTP: &server.HTTPConfig{
				Host:          "0.0.0.0",
				Port:          "8080",
				ReadTimeout:   30 * time.Second,
				WriteTimeout:  30 * time.Second,
				IdleTimeout:   60 * time.Second,
				MaxBodyBytes:  10 << 20, // 10MB, screenshots ride inline
				SubmitTimeout: 10 * time.Second,
			},
		},
		Pipeline: &pipeline.Config{
			Sanitizer: &pii.Config{},
			Image: &imaging.Config{
				Mode:       imaging.ModeFill,
				BlurRadius: 8,
			},
			Dedupe: &dedupe.Config{
				WindowHours: 24,
			},
			Queue: &queue.Config{
				MaxAttempts:   8,
				BackoffBaseMS: 500,
				BackoffMaxMS:  300000, // 5m cap
			},
			Delivery: &delivery.Config{
				Endpoint:            "http://localhost:9090/v1/reports",
				CompressionEnabled:  true,
				InlineMaxBytes:      65536,
				Timeout:             30 * time.Second,
				BreakerFailures:     5,
				BreakerResetSeconds: 30,
				Auth: delivery.AuthConfig{
					Header: "X-API-Key",
				},
			},
			Storage: &storage.Config{
				Backend: "file",
				Dir:     "./bugrelay-state",
			},
		},
		Metrics: &metrics.Options{},
	}

	// Load config using gokit config package
	finalConfig, err := config_pkg.New(configObject)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Safe type assertion
	if finalConfig == nil {
		return nil, fmt.Errorf("config is nil")
	}

	cfg, ok := finalConfig.(*Config)
	if !ok {
		return nil, fmt.Errorf("config type assertion failed: expected *Config, got %T", finalConfig)
	}

	return cfg, nil
}
