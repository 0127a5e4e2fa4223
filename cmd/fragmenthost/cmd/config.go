package cmd

import (
	"github.com/GoCodeAlone/fragments/config"
	"github.com/spf13/cobra"
)

// NewConfigCommand creates the command that prints the effective configuration.
func NewConfigCommand() *cobra.Command {
	var configPath string
	var format string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the config file and FRAGMENTS_
environment overrides have been applied. The output is validated first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return config.Write(cmd.OutOrStdout(), cfg, config.Format(format))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML or TOML config file")
	cmd.Flags().StringVarP(&format, "format", "f", string(config.FormatYAML), "Output format: yaml or toml")
	return cmd
}
