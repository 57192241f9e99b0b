package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/sshfeeder/internal/logging"
)

var scanCmd = &cobra.Command{
	Use:   "scan <host>",
	Short: "List the files a first scan of host would surface",
	Long: `scan connects to one collector, runs a single discovery listing over the
initial backlog window and prints the new filenames, one per line. Nothing is
fetched.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().Duration("backlog", 0, "lookback window (default: scan.initial_backlog)")
	scanCmd.Flags().StringP("output", "o", "text", "output format: text, json, yaml")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if backlog, _ := cmd.Flags().GetDuration("backlog"); backlog > 0 {
		cfg.Scan.InitialBacklog = backlog
	}

	start := time.Now()
	names, err := newApp(cfg, logger.Logger).ScanOnce(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("output")
	report := scanReport{
		Host:          args[0],
		WindowMinutes: int(cfg.Scan.InitialBacklog / time.Minute),
		Files:         names,
	}
	if err := writeReport(cmd.OutOrStdout(), format, report); err != nil {
		return err
	}
	logger.Info("scan finished",
		logging.Host(args[0]),
		logging.Count(len(names)),
		logging.Duration(time.Since(start)),
	)
	return nil
}
