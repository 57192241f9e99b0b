// Package cli implements the sshfeeder command line.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/sshfeeder/internal/app"
	"github.com/telhawk-systems/sshfeeder/internal/config"
	"github.com/telhawk-systems/sshfeeder/internal/logging"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *logging.Logger

	// newApp builds the application; tests replace it to avoid real SSH.
	newApp = func(c *config.Config, l *slog.Logger) *app.App { return app.New(c, l) }
)

var rootCmd = &cobra.Command{
	Use:   "sshfeeder",
	Short: "Stream new measurements from collectors over SSH",
	Long: `sshfeeder watches the archive directory of each collector host over SSH,
downloads measurement files as they appear and streams their records to a
downstream sink (stdout, NATS JetStream or a Redis stream).`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/sshfeeder/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "override logging.level")
}

func initConfig() error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if lvl, _ := rootCmd.PersistentFlags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}

	logger = logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("sshfeeder"))
	logging.SetDefault(logger)
	return nil
}
