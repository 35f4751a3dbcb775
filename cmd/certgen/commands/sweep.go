package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/certgen/internal/retention"
	"github.com/dyluth/certgen/internal/timespec"
)

var sweepMaxAge string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete old certificates and scratch directories",
	Long: `Delete generated certificates and abandoned scratch directories older
than the retention age.

--max-age accepts Go durations (720h), whole days or weeks (30d, 2w) or an
RFC3339 timestamp meaning "older than this moment".

Examples:
  certgen sweep
  certgen sweep --max-age 7d`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().StringVar(&sweepMaxAge, "max-age", "", "Retention age (default retention.max_age)")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	maxAge := cfg.Retention.MaxAge.Std()
	if sweepMaxAge != "" {
		maxAge, err = timespec.ParseAge(sweepMaxAge)
		if err != nil {
			return out.Error(
				"invalid --max-age",
				err.Error(),
				map[string]string{"max-age": sweepMaxAge},
				[]string{"Use a duration such as 720h, 30d or 2w"},
			)
		}
	}

	s := &retention.Sweeper{MaxAge: maxAge, ScratchGrace: cfg.Retention.ScratchGrace.Std()}
	report := s.Sweep(cfg.OutputDir, cfg.ScratchDir)

	for _, e := range report.Errors {
		out.Warning("%v", e)
	}
	out.Success("Deleted %d item(s), freed %s", report.DeletedCount, formatBytes(report.FreedBytes))
	if len(report.Errors) > 0 {
		return fmt.Errorf("%d item(s) could not be deleted", len(report.Errors))
	}
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
