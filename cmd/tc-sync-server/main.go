// Command tc-sync-server runs the HTTP sync server: the append-only,
// per-client version chain that replicas push to and pull from. It
// never decrypts anything it stores.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taskchampion/tc/pkg/config"
	"github.com/taskchampion/tc/pkg/metrics"
	"github.com/taskchampion/tc/pkg/syncserver"
	"github.com/taskchampion/tc/pkg/syncserver/httpapi"
	"github.com/taskchampion/tc/pkg/tclog"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "tc-sync-server",
	Short:   "tc-sync-server hosts the TaskChampion sync protocol over HTTP",
	Version: Version,
	RunE:    runServe,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("tc-sync-server version %s (%s)\n", Version, Commit))

	rootCmd.Flags().String("config", os.ExpandEnv("$HOME/.config/tc-sync-server/config.yaml"), "path to config.yaml")
	rootCmd.Flags().String("listen-addr", "0.0.0.0:8443", "address the sync API listens on")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "address the metrics/health endpoints listen on")
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", true, "output logs in JSON format")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	listenAddr, _ := cmd.Flags().GetString("listen-addr")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")

	tclog.Init(tclog.Config{Level: tclog.Level(logLevel), JSONOutput: logJSON})
	log := tclog.WithComponent("tc-sync-server")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := syncserver.Open(cfg.DataDir, syncserver.DefaultPolicy)
	if err != nil {
		return fmt.Errorf("opening server database: %w", err)
	}
	defer store.Close()

	metrics.RegisterComponent("storage", true, "ready")
	metrics.RegisterComponent("syncserver", true, "ready")

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	metricsServer := &http.Server{Addr: metricsAddr, Handler: mux}

	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("addr", metricsAddr).Msg("metrics and health endpoints listening")

	apiServer := &http.Server{Addr: listenAddr, Handler: httpapi.New(store)}
	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	log.Info().Str("addr", listenAddr).Msg("sync API listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("sync API server error")
	}

	_ = apiServer.Close()
	_ = metricsServer.Close()
	return nil
}
