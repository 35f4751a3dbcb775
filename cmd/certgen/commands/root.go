package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dyluth/certgen/internal/config"
	"github.com/dyluth/certgen/internal/printer"
)

var (
	version string
	commit  string
	date    string

	configPath string
	out        = printer.Stdio()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "certgen",
	Short: "certgen - certificate production pipeline",
	Long: `certgen renders personalised PDF certificates from a template image.

Each certificate is validated, stamped with a verification QR code, composed
with FFmpeg, converted to PDF with ImageMagick and written to the output
directory as {certificate_id}.pdf. Work runs inline or through a Redis queue
consumed by 'certgen worker'.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command.
func Execute() error {
	// Errors are printed by the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to certgen.yml")
}

// loadConfig loads --config. When the flag was not given and the default
// file does not exist, built-in defaults plus environment overrides are used.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	explicit := cmd.Flags().Changed("config")

	if !explicit {
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			cfg := config.Default()
			if err := cfg.ApplyEnv(os.Getenv); err != nil {
				return nil, configError(err)
			}
			if err := cfg.Validate(); err != nil {
				return nil, configError(err)
			}
			return cfg, nil
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configError(err)
	}
	return cfg, nil
}

func configError(err error) error {
	return out.Error(
		"invalid configuration",
		err.Error(),
		map[string]string{"config": configPath},
		[]string{"Fix the reported setting in certgen.yml or the environment"},
	)
}
