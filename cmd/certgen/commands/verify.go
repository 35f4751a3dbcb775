package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/certgen/internal/ledger"
)

var verifyCmd = &cobra.Command{
	Use:   "verify CERT_ID",
	Short: "Check an issued certificate against the ledger",
	Long: `Look up a certificate in the issuance ledger and re-hash its PDF.

Requires ledger.path in certgen.yml. Exits non-zero when the certificate is
unknown, its file is missing, or the file no longer matches the recorded
SHA-256.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	certID := args[0]

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

	v, err := l.Verify(cmd.Context(), certID)
	if errors.Is(err, ledger.ErrNotFound) {
		return out.Error(
			"certificate not found",
			fmt.Sprintf("%s was never issued by this installation.", certID),
			map[string]string{"ledger": cfg.Ledger.Path},
			nil,
		)
	}
	if err != nil {
		return err
	}

	details := map[string]string{
		"recipient": v.Entry.RecipientName,
		"path":      v.Entry.OutputPath,
		"sha256":    v.Entry.SHA256,
	}
	switch {
	case !v.Exists:
		return out.Error("certificate file missing", "The ledger entry exists but the PDF was deleted.", details,
			[]string{"It may have been removed by the retention sweep; regenerate it with the same ID"})
	case !v.Matches:
		details["actual_sha256"] = v.SHA256
		return out.Error("certificate modified", "The PDF on disk does not match the recorded checksum.", details, nil)
	}

	out.Success("%s is authentic", certID)
	out.Printf("  Recipient:   %s\n", v.Entry.RecipientName)
	out.Printf("  Institution: %s\n", v.Entry.Institution)
	out.Printf("  Topic:       %s\n", v.Entry.Topic)
	out.Printf("  Issued:      %s\n", v.Entry.IssuedAt.Format("2006-01-02 15:04 MST"))
	out.Printf("  SHA-256:     %s\n", v.Entry.SHA256)
	return nil
}
