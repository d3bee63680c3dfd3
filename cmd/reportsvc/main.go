package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/codereport/internal/config"
	"github.com/ahrav/codereport/pkg/common/logger"
	"github.com/ahrav/codereport/pkg/common/otel"
)

var build = "develop"

const serviceType = "report-service"

// app carries the state shared by every command.
type app struct {
	configFile string
	cfg        config.Config
	log        *logger.Logger
	hostname   string
}

func main() {
	// Set the correct number of threads for the service
	_, _ = maxprocs.Set()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "reportsvc: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := new(app)

	root := &cobra.Command{
		Use:               "reportsvc",
		Short:             "Accepts code archives and generates analysis reports for them",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.init,
		RunE:              a.serve,
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "YAML config file; REPORTS_* environment variables take precedence")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API and the report workers (default)",
		RunE:  a.serve,
	}

	var down int
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations, or roll back with --down",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.migrate(cmd.Context(), down)
		},
	}
	migrateCmd.Flags().IntVar(&down, "down", 0, "number of migrations to roll back")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		// The version command needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd)
		},
	}

	root.AddCommand(serveCmd, migrateCmd, versionCmd)
	return root
}

// init loads the configuration and builds the logger.
func (a *app) init(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.Options{ConfigFile: a.configFile})
	if err != nil {
		return err
	}
	a.cfg = cfg

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get hostname: %w", err)
	}
	a.hostname = hostname
	a.log = newLogger(cfg, hostname)

	return nil
}

func newLogger(cfg config.Config, hostname string) *logger.Logger {
	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}

			// Add any error-specific attributes.
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			// Output the error event with valid JSON details.
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("REPORT-SERVICE-%s", hostname)
	metadata := map[string]string{
		"service":   svcName,
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
	}

	return logger.NewWithMetadata(os.Stdout, logger.ParseLevel(cfg.Log.Level), svcName, traceIDFn, logEvents, metadata)
}

func printVersion(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "build:  %s\n", build)

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	fmt.Fprintf(out, "go:     %s\n", info.GoVersion)
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			fmt.Fprintf(out, "commit: %s\n", s.Value)
		case "vcs.time":
			fmt.Fprintf(out, "date:   %s\n", s.Value)
		case "vcs.modified":
			fmt.Fprintf(out, "dirty:  %s\n", s.Value)
		}
	}
}
