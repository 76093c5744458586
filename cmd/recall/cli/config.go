package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage stored settings such as provider API keys",
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value (keys ending in api_key are encrypted)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s, err := openSettings(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		vault, err := newVault(s)
		if err != nil {
			return err
		}
		if err := vault.Set(key, value); err != nil {
			return fmt.Errorf("failed to set config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved: %s\n", key)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a configuration value (secrets are masked)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s, err := openSettings(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		vault, err := newVault(s)
		if err != nil {
			return err
		}
		val, err := vault.Display(args[0])
		if err != nil {
			return err
		}
		if val == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "(not set)")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), val)
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
}
