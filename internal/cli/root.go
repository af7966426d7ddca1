package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucidfs/davsync/internal/config"
	"github.com/lucidfs/davsync/internal/logging"
	"github.com/lucidfs/davsync/internal/service"
	"github.com/lucidfs/davsync/pkg/version"
)

var (
	globalFlags GlobalFlags
	logger      logging.Logger
	cfg         *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "davsync",
	Short: "davsync - client-side synchronization engine for a remote WebDAV-style file hierarchy",
	Long: `davsync drives a local cache of a remote WebDAV-style file tree: it
discovers remote changes, downloads stale bodies, and reports progress to
any subscriber.`,
	Version: version.Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if globalFlags.JSON {
			globalFlags.OutputFormat = OutputFormatJSON
		}
		if globalFlags.OutputFormat != OutputFormatJSON && globalFlags.OutputFormat != OutputFormatTable {
			return fmt.Errorf("invalid output format: %s", globalFlags.OutputFormat)
		}

		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if globalFlags.ConfigDir != "" {
			loaded.Directory = globalFlags.ConfigDir
		}
		cfg = loaded

		level := logging.INFO
		if globalFlags.Debug {
			level = logging.DEBUG
		} else if globalFlags.Verbose {
			level = logging.INFO
		}

		logConfig := logging.LogConfig{
			Level:           level,
			OutputFile:      globalFlags.LogFile,
			EnableConsole:   !globalFlags.Quiet,
			EnableDebug:     globalFlags.Debug,
			RedactSensitive: true,
			EnableColor:     cfg.ColorOutput,
			EnableTimestamp: true,
		}
		if globalFlags.OutputFormat == OutputFormatJSON && !globalFlags.Verbose && !globalFlags.Debug {
			logConfig.EnableConsole = false
		}

		logger, err = logging.NewLogger(logConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.ConfigDir, "directory", "", "Override the engine's persisted-state directory")
	rootCmd.PersistentFlags().StringVar((*string)(&globalFlags.OutputFormat), "output", "json", "Output format (json, table)")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.Debug, "debug", false, "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&globalFlags.LogFile, "log-file", "", "Path to log file")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format (alias for --output json)")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	if err := rootCmd.Execute(); err != nil {
		if !globalFlags.Quiet {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(ExitCode(err))
	}
	return nil
}

// GetGlobalFlags returns the global flags.
func GetGlobalFlags() GlobalFlags {
	return globalFlags
}

// GetLogger returns the process-wide logger.
func GetLogger() logging.Logger {
	return logger
}

var activeService *service.Service

// getService lazily constructs the process-wide Service Facade from the
// loaded configuration. Nothing closes it; it stays open until the process
// exits.
func getService() (*service.Service, error) {
	if activeService != nil {
		return activeService, nil
	}
	svc, err := service.New(service.Config{
		Directory:           cfg.Directory,
		BundleIdentifier:    cfg.BundleIdentifier,
		MaxRetries:          cfg.MaxRetries,
		RetryBaseDelay:      cfg.GetRetryBaseDelay(),
		TransferConcurrency: cfg.TransferConcurrency,
		RequestTimeout:      cfg.GetRequestTimeout(),
		Logger:              logger,
	})
	if err != nil {
		return nil, err
	}
	activeService = svc
	return svc, nil
}
