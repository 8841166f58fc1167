package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kumarabd/gokit/logger"
	"github.com/spf13/cobra"

	"github.com/bugrelay/bugrelay/internal/config"
	"github.com/bugrelay/bugrelay/internal/metrics"
	"github.com/bugrelay/bugrelay/pkg/delivery"
	"github.com/bugrelay/bugrelay/pkg/pii"
	"github.com/bugrelay/bugrelay/pkg/pipeline"
	"github.com/bugrelay/bugrelay/pkg/queue"
	"github.com/bugrelay/bugrelay/pkg/reporttypes"
	"github.com/bugrelay/bugrelay/pkg/server"
	"github.com/bugrelay/bugrelay/pkg/storage"
)

var rootCmd = &cobra.Command{
	Use:   "bugrelay",
	Short: "Bug report sanitization and delivery pipeline",
	Long:  "Bugrelay sanitizes incoming bug reports, filters duplicates and reliably delivers them to a collector.",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print bugrelay version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(os.Stdout, "%s version %s\n", config.ApplicationName, config.ApplicationVersion)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the report intake server and delivery engine",
	RunE:  runServe,
}

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize",
	Short: "Sanitize text from stdin and print redaction counts",
	RunE:  runSanitize,
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List reports waiting in the delivery queue",
	RunE:  runQueue,
}

// main is the entry point of the application
func main() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sanitizeCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	// Initialize a new logger with the application name and syslog format
	log, err := logger.New(config.ApplicationName, logger.Options{
		Format: logger.SyslogLogFormat,
	})
	if err != nil {
		return err
	}

	// Initialize a new configuration handler
	configHandler, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("configuration failed")
		return err
	}

	// Initialize a new metrics handler with the application name
	metricsHandler, err := metrics.New(config.ApplicationName)
	if err != nil {
		return err
	}

	// Initialize the sanitization and delivery pipeline
	pipelineHandler, err := pipeline.New(configHandler.Pipeline, log, metricsHandler, delivery.Callbacks{
		OnDelivered: func(r *reporttypes.BugReport) {
			log.Info().Str("id", r.ID).Msg("report delivered")
		},
		OnPermanentFailure: func(r *reporttypes.BugReport, err error) {
			log.Error().Err(err).Str("id", r.ID).Msg("report permanently failed")
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("pipeline initialization failed")
		return err
	}

	if err := pipelineHandler.Start(); err != nil {
		log.Error().Err(err).Msg("pipeline start failed")
		return err
	}
	log.Info().Msg("pipeline initialized")

	// Create server instance
	srv, err := server.New(log, metricsHandler, configHandler.Server, pipelineHandler)
	if err != nil {
		log.Error().Err(err).Msg("server initialization failed")
		return err
	}
	log.Info().Msg("server initialized")

	// Run the server with graceful shutdown
	ch := make(chan struct{})
	srv.Start(ch)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-ch:
		log.Info().Msg("server stopped")
	case sig := <-signals:
		log.Info().Str("signal", sig.String()).Msg("shutdown requested")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			log.Error().Err(err).Msg("server shutdown failed")
		}
	}

	// Stop the pipeline gracefully; in-flight entries survive in storage
	if err := pipelineHandler.Stop(); err != nil {
		log.Error().Err(err).Msg("pipeline stop failed")
	}
	log.Info().Msg("pipeline stopped")
	return nil
}

func runSanitize(cmd *cobra.Command, args []string) error {
	text, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}

	sanitizer, err := pii.New(nil, nil)
	if err != nil {
		return err
	}

	out, report := sanitizer.Sanitize(string(text))
	fmt.Fprintln(os.Stdout, out)
	if report.TotalSpans > 0 {
		fmt.Fprintf(os.Stderr, "redacted %d span(s):\n", report.TotalSpans)
		for kind, count := range report.ByKind {
			fmt.Fprintf(os.Stderr, "  %s: %d\n", kind, count)
		}
	}
	return nil
}

func runQueue(cmd *cobra.Command, args []string) error {
	configHandler, err := config.New()
	if err != nil {
		return err
	}

	var storageConfig *storage.Config
	if configHandler.Pipeline != nil {
		storageConfig = configHandler.Pipeline.Storage
	}
	store, err := storage.New(storageConfig)
	if err != nil {
		return err
	}
	defer store.Close()

	var queueConfig *queue.Config
	if configHandler.Pipeline != nil {
		queueConfig = configHandler.Pipeline.Queue
	}
	q, err := queue.New(queueConfig, store, nil)
	if err != nil {
		return err
	}

	entries := q.Snapshot()
	if len(entries) == 0 {
		fmt.Fprintln(os.Stdout, "queue is empty")
		return nil
	}
	for _, entry := range entries {
		fmt.Fprintf(os.Stdout, "%d\t%s\t%s\tattempts=%d\tnext=%s\t%s\n",
			entry.Seq, entry.Report.ID, entry.State, entry.Attempts,
			entry.NextAttemptAt.Format(time.RFC3339), entry.Report.Title)
	}
	return nil
}
