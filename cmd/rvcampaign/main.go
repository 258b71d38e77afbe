package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"rvcampaign/internal/campaign/service"
	appErr "rvcampaign/pkg/errors"
	"rvcampaign/pkg/utils/logger"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string

	appCfg *AppConfig
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "rvcampaign",
	Short: "Run RISC-V verification campaigns and aggregate their coverage",
	Long: `rvcampaign compiles a list of RISC-V assembly tests, runs each one on a
hardware simulator with a bounded number of parallel jobs, and merges and
ranks the coverage the run produced.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadAppConfig(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logger.Level = logLevel
		}
		if err := logger.Init(cfg.Logger); err != nil {
			return appErr.ConfigError(appErr.ConfigInvalid, "init logger: %v", err)
		}
		appCfg = cfg
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return appErr.ConfigError(appErr.ConfigInvalid, "%v", err)
	})

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(genCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "rvcampaign: %v\n", err)
	}
	os.Exit(service.ExitCode(err))
}
