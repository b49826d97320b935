package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/floodline/gaugewatch/internal/config"
)

const (
	appName = "gaugewatch"
	version = "v0.4.0"
)

var (
	flagConfig   string
	flagLogLevel string
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     "gaugewatch",
		Short:   "Sensor telemetry trend watcher",
		Version: version,
		Long: `GaugeWatch polls a sensor readings store, cleans the series, and serves
rolling-average trend classifications over HTTP with background refresh.

Run 'gaugewatch serve' for the long-running API, or 'gaugewatch fetch'
for a one-shot classification in the terminal.`,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "",
		"Path to YAML config (default "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "",
		"Override log level (trace|debug|info|warn|error)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the refresh loop and HTTP API",
		Long:  "Starts the background refresh scheduler, the configured snapshot sinks, and the HTTP API server",
		RunE:  runServe,
	}

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch, clean, and classify once",
		Long:  "Runs the pipeline a single time and prints the trend classification to stdout",
		RunE:  runFetch,
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Fetch once and write the cleaned series as CSV",
		RunE:  runExport,
	}
	exportCmd.Flags().String("out", "", "Output file (default derived from the query, use - for stdout)")

	for _, cmd := range []*cobra.Command{fetchCmd, exportCmd} {
		cmd.Flags().Var(new(modeValue), "mode", "Query mode")
		cmd.Flags().Int("limit", 0, "Row cap for recent mode")
		cmd.Flags().String("start", "", "Range start, RFC3339")
		cmd.Flags().String("end", "", "Range end, RFC3339")
		cmd.Flags().String("sensor", "", "Restrict to one sensor")
		cmd.Flags().Int("window", 0, "Rolling window size in readings")
		cmd.Flags().Var(new(alignValue), "align", "Window alignment")
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s (%s %s/%s)\n",
				appName, version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies the logging settings
// so every command logs consistently from the first line. CLI flags on
// query and trend sections are applied afterwards by the caller.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("bad log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)

	switch cfg.Log.Format {
	case "json":
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	case "console":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	// "auto" keeps the TTY detection from startup.

	return cfg, nil
}

// applyQueryFlags overlays explicit CLI flags on the config's query
// and trend sections. Unset flags leave the file values alone.
func applyQueryFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Query.Mode = flags.Lookup("mode").Value.String()
	}
	if flags.Changed("limit") {
		cfg.Query.Limit, _ = flags.GetInt("limit")
	}
	if flags.Changed("start") {
		cfg.Query.Start, _ = flags.GetString("start")
	}
	if flags.Changed("end") {
		cfg.Query.End, _ = flags.GetString("end")
	}
	if flags.Changed("sensor") {
		cfg.Query.Sensor, _ = flags.GetString("sensor")
	}
	if flags.Changed("window") {
		cfg.Trend.Window, _ = flags.GetInt("window")
	}
	if flags.Changed("align") {
		cfg.Trend.Align = flags.Lookup("align").Value.String()
	}
}
