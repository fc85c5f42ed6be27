package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"playdeck/internal/config"
	"playdeck/internal/logger"
	"playdeck/internal/processor"
	"playdeck/internal/reporter"
	"playdeck/internal/ui"
	"playdeck/internal/watcher"
)

var (
	cfgFile      string
	dryRun       bool
	pollInterval time.Duration
	logLevel     string
	noColor      bool

	// Version information (set via -ldflags during build)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

var titleCaser = cases.Title(language.English)

var rootCmd = &cobra.Command{
	Use:   "playdeck",
	Short: "Sports broadcast classifier and library linker",
	Long: "playdeck matches sports release files against per-sport filename patterns,\n" +
		"resolves them to catalog seasons and episodes, and links them into a\n" +
		"media-server friendly library layout.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process the source directory once, or continuously with --poll",
	RunE:  runRun,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the filesystem and process on changes",
	RunE:  runWatch,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and print the resolved sports",
	RunE:  runValidate,
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Forget processed files so the next run relinks everything",
	RunE:  runClearCache,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("playdeck %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/playdeck/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "log what would happen without touching the filesystem")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	runCmd.Flags().DurationVar(&pollInterval, "poll", 0, "rerun at this interval instead of exiting (e.g. 5m)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(clearCacheCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "playdeck.yaml"
	}
	return filepath.Join(home, ".config", "playdeck", "config.yaml")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}
	if dryRun {
		cfg.Settings.DryRun = true
	}
	if logLevel != "" {
		cfg.Settings.LogLevel = logLevel
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Settings.LogLevel, noColor)

	proc, err := processor.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	interval := pollInterval
	if interval == 0 {
		interval = cfg.Settings.PollInterval
	}

	stats := proc.RunOnce(ctx)
	printSummary(cfg, stats)
	writeReport(cfg, stats, log)
	if interval <= 0 {
		if len(stats.Errors) > 0 {
			os.Exit(1)
		}
		return nil
	}

	log.Info().Dur("interval", interval).Msg("polling for new files")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stats := proc.RunOnce(ctx)
			if stats.HasActivity() {
				printSummary(cfg, stats)
				writeReport(cfg, stats, log)
			}
		}
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Settings.LogLevel, noColor)

	proc, err := processor.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	// initial pass so a restart catches anything written while we were down
	stats := proc.RunOnce(ctx)
	printSummary(cfg, stats)
	writeReport(cfg, stats, log)

	w := watcher.New(cfg.Settings.Watcher, cfg.Settings.SourceDir, func(ctx context.Context) {
		stats := proc.RunOnce(ctx)
		if stats.HasActivity() {
			printSummary(cfg, stats)
			writeReport(cfg, stats, log)
		}
	}, log)
	return w.Run(ctx)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Println(ui.FormatHeading("Configuration OK"))
	fmt.Printf("  Source:      %s\n", cfg.Settings.SourceDir)
	fmt.Printf("  Destination: %s\n", cfg.Settings.DestinationDir)
	fmt.Printf("  Cache:       %s\n", cfg.Settings.CacheDir)
	fmt.Printf("  Link mode:   %s\n", cfg.Settings.LinkMode)

	enabled := cfg.EnabledSports()
	fmt.Printf("\n%s\n", ui.FormatHeading(fmt.Sprintf("Sports (%d enabled of %d)", len(enabled), len(cfg.Sports))))
	for _, sport := range cfg.Sports {
		state := "enabled"
		if !sport.Enabled {
			state = ui.MutedStyle.Render("disabled")
		}
		name := sport.Name
		if name == "" {
			name = titleCaser.String(sport.ID)
		}
		fmt.Printf("  %-24s %-10s %3d patterns  %s\n", name, state, len(sport.Patterns), sport.Metadata.URL)
	}
	return nil
}

func runClearCache(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Settings.LogLevel, noColor)

	proc, err := processor.New(cfg, log)
	if err != nil {
		return err
	}
	if err := proc.ClearProcessedCache(); err != nil {
		return err
	}
	fmt.Println("Processed file cache cleared.")
	return nil
}

func printSummary(cfg *config.Config, stats *processor.Stats) {
	fmt.Println(ui.FormatSummary(ui.Summary{
		DryRun:    cfg.Settings.DryRun,
		Processed: stats.Processed,
		Skipped:   stats.Skipped,
		Ignored:   stats.Ignored,
		Warnings:  stats.Warnings,
		Errors:    stats.Errors,
	}))
}

func writeReport(cfg *config.Config, stats *processor.Stats, log zerolog.Logger) {
	if cfg.Settings.DryRun || !stats.HasActivity() {
		return
	}
	path, err := reporter.Generate(filepath.Join(cfg.Settings.CacheDir, "reports"), reporter.Report{
		Timestamp:      time.Now(),
		SourceDir:      cfg.Settings.SourceDir,
		DestinationDir: cfg.Settings.DestinationDir,
		DryRun:         cfg.Settings.DryRun,
		Stats:          stats,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to write run report")
		return
	}
	log.Debug().Str("path", path).Msg("run report written")
}
