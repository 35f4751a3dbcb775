package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dyluth/certgen/internal/scaffold"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a certgen working directory",
	Long: `Initialize the current directory for certificate generation.

Creates:
  • certgen.yml - configuration with every setting and its default
  • records.example.jsonl - a sample batch for 'certgen generate --file'
  • templates/ fonts/ certificates/ temp/

Copy your background image to templates/certificate_template.jpg and your
font to fonts/ before generating.

Use --force to overwrite an existing certgen.yml.`,
	RunE: runInit,
}

func init() {
	// Note: no -f shorthand, generate uses it for --file
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing certgen.yml")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	if !forceInit {
		if err := scaffold.CheckExisting(dir); err != nil {
			return out.Error("already initialized", err.Error(), nil, nil)
		}
	}

	if err := scaffold.Initialize(dir, forceInit); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	out.Success("Initialized certgen in %s", dir)
	out.Printf("\nNext steps:\n")
	out.Printf("  1. Copy your template image to templates/certificate_template.jpg\n")
	out.Printf("  2. Copy your font to \"fonts/Open Sans Bold.ttf\" (or set font: in certgen.yml)\n")
	out.Printf("  3. Run 'certgen doctor' to check FFmpeg and ImageMagick\n")
	out.Printf("  4. Run 'certgen generate --file %s'\n", scaffold.ExampleRecords)
	return nil
}
