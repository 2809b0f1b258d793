package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mercator-hq/turnpike/pkg/config"
	"mercator-hq/turnpike/pkg/telemetry/logging"
)

var configFlags struct {
	gateway bool
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Check and print configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file and environment",
	Long: `Load the configuration file, apply TURNPIKE_* environment overrides and
report every validation error.

With --gateway the settings only "turnpike run" needs (chain RPC URL and
private key) are required as well.

Examples:
  turnpike config validate --config turnpike.yaml
  turnpike config validate --config turnpike.yaml --gateway`,
	Args: cobra.NoArgs,
	RunE: validateConfig,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration after defaults and environment overrides. The
private key is masked.`,
	Args: cobra.NoArgs,
	RunE: showConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd, configShowCmd)

	configValidateCmd.Flags().BoolVar(&configFlags.gateway, "gateway", false, "also require gateway-only settings")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if configFlags.gateway {
		if err := config.ValidateGateway(cfg); err != nil {
			return err
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
	return nil
}

func showConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	shown := *cfg
	if shown.Chain.PrivateKey != "" {
		shown.Chain.PrivateKey = logging.Mask(shown.Chain.PrivateKey)
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(&shown)
}
