package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/certgen/internal/config"
	"github.com/dyluth/certgen/internal/health"
	"github.com/dyluth/certgen/internal/printer"
)

var doctorJSON bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that certificates can be produced",
	Long: `Check the template, font, directories, external tools and (in async mode)
the Redis broker. A missing font is a warning; everything else is required.`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Print the report as JSON")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var redis health.Pinger
	if cfg.Queue.RedisURL != "" {
		client, err := newQueueClient(cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		redis = client
	}

	report := newChecker(cfg, redis).Check(cmd.Context())

	if doctorJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else if !out.Checklist(reportChecks(cfg, report)) {
		return out.Error(
			"certgen is not ready",
			strings.Join(report.Problems, "\n"),
			nil,
			[]string{"Install FFmpeg and ImageMagick", "Check template and directory paths in certgen.yml"},
		)
	}

	if !report.Healthy() {
		return fmt.Errorf("%d problem(s) found", len(report.Problems))
	}
	return nil
}

// reportChecks turns a health report into checklist lines.
func reportChecks(cfg *config.Config, r health.Report) []printer.Check {
	converter := r.Converter
	if !r.ConverterAvailable {
		converter = strings.Join(cfg.Tools.Converters, ", ")
	}

	checks := []printer.Check{
		{Name: "template", OK: r.TemplateExists, Detail: cfg.Template},
		{Name: "font", OK: r.FontExists, Soft: true, Detail: cfg.Font},
		{Name: "output directory", OK: r.OutputWritable, Detail: cfg.OutputDir},
		{Name: "scratch directory", OK: r.ScratchWritable, Detail: cfg.ScratchDir},
		{Name: "renderer", OK: r.RendererAvailable, Detail: cfg.Tools.FFmpeg},
		{Name: "converter", OK: r.ConverterAvailable, Detail: converter},
	}
	if r.RedisChecked {
		checks = append(checks, printer.Check{Name: "redis", OK: r.RedisReachable, Detail: cfg.Queue.RedisURL})
	}
	return checks
}
