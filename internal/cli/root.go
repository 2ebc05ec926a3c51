// Package cli provides the command-line interface for the trading application.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"okx-trader/internal/config"
	"okx-trader/internal/exchange"
	"okx-trader/internal/logging"
	"okx-trader/internal/predictor"
	"okx-trader/internal/store"
	"okx-trader/pkg/utils"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2025-06-01"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Exchange  exchange.Client
	Store     store.DataStore
	LLMClient predictor.LLMClient
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// The OKX client serves public market data even without credentials;
	// paper mode wraps it so orders never reach the exchange.
	okxClient := exchange.NewOKXClient(cfg.Credentials.Exchange)
	if cfg.IsPaperMode() {
		app.Exchange = exchange.NewPaperExchange(okxClient, 0)
		logger.Debug().Msg("Paper exchange initialized")
	} else {
		app.Exchange = okxClient
		logger.Debug().Msg("Live OKX exchange initialized")
	}

	// Initialize SQLite journal store
	dbPath := config.DefaultConfigDir() + "/trader.db"
	dataStore, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize store, some features may be unavailable")
	} else {
		app.Store = dataStore
		logger.Debug().Msg("SQLite store initialized")
	}

	// Initialize LLM client if OpenAI API key is available
	if cfg.Credentials.OpenAI.APIKey != "" {
		app.LLMClient = predictor.NewOpenAIClient(cfg.Credentials.OpenAI.APIKey, cfg.Credentials.OpenAI.Model)
		logger.Debug().Str("model", cfg.Credentials.OpenAI.Model).Msg("OpenAI LLM client initialized")
	}

	rootCmd := &cobra.Command{
		Use:   "okx-trader",
		Short: "OKX Trader - multi-source signal fusion trading CLI",
		Long: `OKX Trader monitors perpetual swap instruments, fuses technical, AI and
model predictions into trading signals, and executes them with guarded
order placement and automated position risk management.

Use 'okx-trader help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/okx-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newMonitorCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newFuseCmd(app))
	rootCmd.AddCommand(newOrdersCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("OKX Trader v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Trading Configuration")
	output.Printf("  Mode:             %s\n", cfg.Trading.Mode)
	output.Printf("  Symbols:          %d\n", len(cfg.Trading.Symbols))
	output.Printf("  Leverage:         %.1fx\n", cfg.Trading.Leverage)
	output.Println()

	output.Bold("Fusion Configuration")
	output.Printf("  Min Confidence:   %.2f\n", cfg.Fusion.MinConfidence)
	output.Printf("  Consensus Thresh: %.2f\n", cfg.Fusion.ConsensusThreshold)
	output.Println()

	output.Bold("Risk Configuration")
	output.Printf("  Stop Loss Type:   %s\n", cfg.Risk.StopLossType)
	output.Printf("  Initial Stop:     %.1f%%\n", cfg.Risk.InitialStopPct*100)
	output.Printf("  Trailing Dist:    %.1f%%\n", cfg.Risk.TrailingDistance*100)
	output.Printf("  TP Targets:       %d rungs\n", len(cfg.Risk.TakeProfitTargets))
	output.Println()

	output.Bold("Execution Configuration")
	output.Printf("  Slippage Mode:    %s\n", cfg.Execution.SlippageMode)
	output.Printf("  Max Retries:      %d\n", cfg.Execution.MaxRetryAttempts)
	output.Printf("  Dedup Window:     %ds\n", cfg.Execution.DuplicateWindowSec)
	output.Println()

	output.Bold("Monitor Configuration")
	output.Printf("  Workers:          %d\n", cfg.Monitor.MaxWorkers)
	output.Printf("  Predictor Limit:  %d\n", cfg.Monitor.PredictorConcurrency)
	output.Printf("  Total Capital:    %s\n", utils.FormatUSD(cfg.Monitor.TotalCapital))
	output.Printf("  Max Position:     %.0f%%\n", cfg.Monitor.MaxPositionRatio*100)

	return nil
}
