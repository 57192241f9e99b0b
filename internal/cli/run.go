package cli

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll all configured collectors until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runFeeder,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runFeeder(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Info("Starting sshfeeder",
		slog.Any("sources", cfg.Sources),
		slog.String("sink", cfg.Sink.Backend),
		slog.Bool("parallel", cfg.Poll.Parallel),
		slog.String("log_level", cfg.Logging.Level),
	)
	if cfgFile != "" {
		logger.Info("Loaded configuration", slog.String("config_path", cfgFile))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, logger.Logger)
	if err := a.Run(ctx, cmd.OutOrStdout()); err != nil {
		return err
	}

	logger.Info("sshfeeder stopped")
	return nil
}
