package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/certgen/internal/hoard"
	"github.com/dyluth/certgen/internal/ledger"
	"github.com/dyluth/certgen/internal/timespec"
)

var (
	hoardOutput      string
	hoardSince       string
	hoardInstitution string
	hoardTopic       string
)

var hoardCmd = &cobra.Command{
	Use:   "hoard [CERT_ID]",
	Short: "List issued certificates",
	Long: `List the certificates recorded in the issuance ledger, or show one as JSON.

Filters:
  --since        issued within this age (1h, 7d) or after an RFC3339 time
  --institution  glob on institution, case-insensitive ("*College")
  --topic        glob on topic, case-insensitive

Requires ledger.path in certgen.yml.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHoard,
}

func init() {
	hoardCmd.Flags().StringVarP(&hoardOutput, "output", "o", "default", "Output format: default or jsonl")
	hoardCmd.Flags().StringVar(&hoardSince, "since", "", "Only certificates issued within this age")
	hoardCmd.Flags().StringVar(&hoardInstitution, "institution", "", "Glob on institution")
	hoardCmd.Flags().StringVar(&hoardTopic, "topic", "", "Glob on topic")
	rootCmd.AddCommand(hoardCmd)
}

func runHoard(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Ledger.Path == "" {
		return out.Error(
			"ledger disabled",
			"ledger.path is not set, so issued certificates are not recorded.",
			nil,
			[]string{"Set ledger.path in certgen.yml, e.g. ledger: {path: certgen.db}"},
		)
	}

	l, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer l.Close()

	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	if len(args) == 1 {
		err := hoard.GetCertificate(ctx, l, args[0], w)
		if hoard.IsNotFound(err) {
			return out.Error("certificate not found", err.Error(), map[string]string{"ledger": cfg.Ledger.Path}, nil)
		}
		return err
	}

	filters := &hoard.FilterCriteria{InstitutionGlob: hoardInstitution, TopicGlob: hoardTopic}
	if hoardSince != "" {
		age, err := timespec.ParseAge(hoardSince)
		if err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
		filters.Since = time.Now().Add(-age)
	}

	return hoard.ListCertificates(ctx, l, hoard.OutputFormat(hoardOutput), filters, w)
}
