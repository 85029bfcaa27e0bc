package main

import (
	"fmt"

	"github.com/rcourtman/fritzmesh/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  `Print the configuration after applying the config file, environment and flags. The password is redacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewConfigLoader(opts).Resolve()
		if err != nil {
			return err
		}

		redacted := cfg.Redacted()
		out, err := yaml.Marshal(&redacted)
		if err != nil {
			return fmt.Errorf("failed to encode configuration: %w", err)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "# source: %s (hassio=%t)\n", cfg.ConfigFile, cfg.HassIO)
		_, err = w.Write(out)
		return err
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Load and validate the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK: router %s, listening on %s\n", cfg.Host, cfg.ListenAddress())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configCheckCmd)
}
