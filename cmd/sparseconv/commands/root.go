// Package commands implements the sparseconv command tree.
package commands

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/born-ml/sparseconv/internal/config"
	"github.com/born-ml/sparseconv/internal/logging"
)

var (
	cfgFile string
	verbose bool

	cfg = config.DefaultConfig()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sparseconv",
	Short: "Sparse 3D convolution toolkit",
	Long: `sparseconv generates, inspects and runs sparse 3D voxel tensors through
submanifold, strided and inverse sparse convolutions on the CPU backend.

Settings come from config.yaml (./ or ~/.sparseconv) and SPCONV_* environment
variables, e.g. SPCONV_ALGO=implicit_gemm or SPCONV_DEBUG=1.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or $HOME/.sparseconv/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging to stderr")
}

// initConfig loads configuration and sets up logging before any subcommand runs.
func initConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	level, console := cfg.Logging.Level, cfg.Logging.Console
	if verbose {
		level, console = logrus.DebugLevel.String(), true
	}
	if err := logging.Init(level, cfg.Logging.File, console); err != nil {
		return err
	}

	logging.WithComponent("cli").WithFields(logrus.Fields{
		"command": cmd.Name(),
		"algo":    cfg.Algo,
		"debug":   cfg.Debug,
	}).Debug("config loaded")
	return nil
}
