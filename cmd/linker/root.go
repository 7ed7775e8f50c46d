package main

import (
	"time"

	"github.com/OFFIS-RIT/ctilinker/internal/app"
	"github.com/OFFIS-RIT/ctilinker/internal/config"
	"github.com/OFFIS-RIT/ctilinker/internal/util"
	"github.com/OFFIS-RIT/ctilinker/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	envFile  string
	cfg      *config.Config
	closeLog = func() {}
)

// Flags overriding the environment. Only flags set on the command line apply.
var (
	flagInput    string
	flagOutput   string
	flagModel    string
	flagAdapter  string
	flagPrices   string
	flagParallel int
	flagDelay    time.Duration
	flagDebug    bool
)

var rootCmd = &cobra.Command{
	Use:           "linker",
	Short:         "Predict links between the disconnected parts of CTI report graphs",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			util.LoadEnv(envFile)
		} else {
			util.LoadEnv()
		}

		cfg = config.FromEnv()
		applyFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		var err error
		closeLog, err = app.InitLogger(cfg)
		if err != nil {
			logger.Warn("Could not open log file", "path", cfg.LogFile, "err", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeLog()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&envFile, "env-file", "", "load environment from this file instead of .env")
	flags.StringVarP(&flagInput, "input", "i", "", "input root directory (INPUT_DIR)")
	flags.StringVarP(&flagOutput, "output", "o", "", "output root directory (OUTPUT_DIR)")
	flags.StringVarP(&flagModel, "model", "m", "", "chat model used as oracle (AI_CHAT_MODEL)")
	flags.StringVar(&flagAdapter, "adapter", "", "AI adapter, openai or ollama (AI_ADAPTER)")
	flags.StringVar(&flagPrices, "prices", "", "YAML price table overriding the built-in prices (PRICES_FILE)")
	flags.IntVarP(&flagParallel, "parallel", "p", 0, "files of one source processed at the same time (PARALLEL_FILES)")
	flags.DurationVar(&flagDelay, "delay", 0, "minimum spacing between oracle calls (ORACLE_DELAY)")
	flags.BoolVar(&flagDebug, "debug", false, "enable debug logging (DEBUG)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pendingCmd)
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("input") {
		cfg.InputDir = flagInput
	}
	if flags.Changed("output") {
		cfg.OutputDir = flagOutput
	}
	if flags.Changed("model") {
		cfg.Model = flagModel
	}
	if flags.Changed("adapter") {
		cfg.AIAdapter = flagAdapter
	}
	if flags.Changed("prices") {
		cfg.PricesFile = flagPrices
	}
	if flags.Changed("parallel") {
		cfg.ParallelFiles = flagParallel
	}
	if flags.Changed("delay") {
		cfg.OracleDelay = flagDelay
	}
	if flags.Changed("debug") {
		cfg.Debug = flagDebug
	}
}
