package server

import (
	"context"

	"github.com/kumarabd/gokit/logger"

	"github.com/bugrelay/bugrelay/internal/metrics"
	"github.com/bugrelay/bugrelay/pkg/pipeline"
)

// Config contains configuration for all server surfaces
type Config struct {
	HTTP *HTTPConfig `json:"http" yaml:"http"`
}

// Handler owns the process's server surfaces
type Handler struct {
	HTTP   *HTTP
	config *Config
	log    *logger.Handler
}

// New creates a new server handler
func New(l *logger.Handler, m *metrics.Handler, serverConfig *Config, p *pipeline.Handler) (*Handler, error) {
	var httpServer *HTTP
	if serverConfig.HTTP != nil {
		httpServer = NewHTTP(serverConfig.HTTP, p, l, m)
	}

	return &Handler{
		HTTP:   httpServer,
		config: serverConfig,
		log:    l,
	}, nil
}

// Start starts the configured servers; ch receives one signal per server exit
func (h *Handler) Start(ch chan struct{}) {
	if h.HTTP != nil {
		go func() {
			if err := h.HTTP.Start(); err != nil {
				h.log.Error().Err(err).Msg("HTTP server failed")
			}
			ch <- struct{}{}
		}()
	}
}

// Stop gracefully shuts down the configured servers
func (h *Handler) Stop(ctx context.Context) error {
	if h.HTTP != nil {
		return h.HTTP.Stop(ctx)
	}
	return nil
}
