package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/latchkey-labs/pileup/internal/common"
	"github.com/latchkey-labs/pileup/internal/config"
)

var (
	cfgFile string
	version = "dev"
	rootCmd = &cobra.Command{
		Use:   "pileup",
		Short: "Reorganize and deduplicate a pile of files into a clean tree",
		Long: `pileup scans a messy source tree, hashes its files and folders,
classifies every file and folder into a target category using a rules
engine backed by an optional AI classifier, and emits a deterministic
move plan. The plan skips non-canonical members of duplicate groups
already recorded in the catalog; no pipeline stage creates those groups.`,
		PersistentPreRunE: initConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.config/pileup/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(metadataCmd())
	rootCmd.AddCommand(fullCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("received interrupt signal, shutting down gracefully")
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)
	cancel()

	os.Exit(exitCode(err))
}

// exitCode maps the common error taxonomy onto spec.md section 6's exit
// codes: 0 success, 1 configuration error, 2 invariant violation, 3 AI
// unreachable in required mode.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, err)
	switch {
	case errors.Is(err, common.ErrInvariantViolation), errors.Is(err, common.ErrPlanConflict):
		return 2
	case errors.Is(err, common.ErrAIUnavailable):
		return 3
	case errors.Is(err, common.ErrConfig), errors.Is(err, common.ErrCatalog), errors.Is(err, common.ErrProbe):
		return 1
	default:
		return 1
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("%w: resolving home directory: %v", common.ErrConfig, err)
		}
		viper.AddConfigPath(fmt.Sprintf("%s/.config/pileup", home))
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PILEUP")
	viper.AutomaticEnv()

	if err := config.LoadDotEnv(""); err != nil {
		return err
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("%w: reading config: %v", common.ErrConfig, err)
		}
	}

	if err := common.SetupLogger(viper.GetString("logging.level"), viper.GetString("logging.format")); err != nil {
		return err
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			logrus.WithField("version", version).Info("pileup version")
		},
	}
}
