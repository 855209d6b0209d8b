package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/luispineda/epu/pkg/log"
	"github.com/luispineda/epu/pkg/metrics"

	// Blank-imported so their init() registers with pkg/engine's named
	// registry; a domain definition picks one by engine_class.
	_ "github.com/luispineda/epu/pkg/engine"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "epu",
	Short: "EPU - elastic compute unit control plane",
	Long: `epu runs the elastic compute unit control plane: a Provisioner,
an EPU Controller with pluggable decision engines, EPU Management's
domain registry, and the OU Agent that reports node health.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"epu version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(agentCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// serveMetrics starts the Prometheus /metrics endpoint in a background
// goroutine and returns at once. A server error is logged rather than
// returned to the caller, the same non-fatal background pattern the teacher uses for its own metrics
// server.
func serveMetrics(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithComponent("epu").Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	log.WithComponent("epu").Info().Str("addr", addr).Msg("metrics endpoint listening")
}
