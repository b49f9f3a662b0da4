package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fieldsync/opqueue/pkg/engine"
	"github.com/fieldsync/opqueue/pkg/log"
	"github.com/fieldsync/opqueue/pkg/metrics"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the queue daemon: execute, sync, and compact until stopped",
	Long: `serve runs the engine's three drivers continuously — the
scheduler executing ready operations, the sync coordinator reconciling
with the remote server, and the compactor reclaiming expired cache
entries — and exposes /health, /ready, /live, and /metrics over HTTP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		remoteURL, _ := cmd.Flags().GetString("remote-url")
		listenAddr, _ := cmd.Flags().GetString("listen")
		syncInterval, _ := cmd.Flags().GetDuration("sync-interval")
		schedulerInterval, _ := cmd.Flags().GetDuration("scheduler-interval")

		if remoteURL == "" {
			return fmt.Errorf("--remote-url is required")
		}

		transport := newHTTPTransport(remoteURL, &http.Client{Timeout: 30 * time.Second})

		e, store, err := openStoreAndEngine(cmd, transport, engine.Config{
			SyncInterval:      syncInterval,
			SchedulerInterval: schedulerInterval,
			HealthCheckURL:    strings.TrimRight(remoteURL, "/") + "/health",
		})
		if err != nil {
			return err
		}
		defer store.Close()

		metrics.RegisterComponent("storage", true, "")
		metrics.RegisterComponent("scheduler", true, "")
		metrics.RegisterComponent("sync", true, "")
		metrics.SetVersion(Version)

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())

		httpSrv := &http.Server{Addr: listenAddr, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Logger.Error().Err(err).Msg("http server failed")
			}
		}()

		e.Start()
		log.Logger.Info().Str("listen", listenAddr).Str("remote", remoteURL).Msg("opqueue serving, press Ctrl+C to stop")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		log.Logger.Info().Msg("shutting down")
		e.Shutdown()
		_ = httpSrv.Close()
		log.Logger.Info().Msg("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("remote-url", "", "Base URL of the remote server to sync with")
	serveCmd.Flags().String("listen", ":8090", "Address for the health/metrics HTTP server")
	serveCmd.Flags().Duration("sync-interval", 0, "Override the sync coordinator's tick interval")
	serveCmd.Flags().Duration("scheduler-interval", 0, "Override the scheduler's tick interval")
}
