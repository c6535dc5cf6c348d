package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/memorialsite/agentgw/internal/config"
	"github.com/memorialsite/agentgw/internal/identity"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage agentgw configuration",
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.ConfigPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		masked := *cfg
		masked.Gateway.AuthToken = mask(masked.Gateway.AuthToken)
		masked.Providers.OpenAI.APIKey = mask(masked.Providers.OpenAI.APIKey)
		masked.DataAPI.Token = mask(masked.DataAPI.Token)
		masked.DataAPI.Password = mask(masked.DataAPI.Password)
		masked.Session.DSN = mask(masked.Session.DSN)
		masked.Notify.SlackWebhookURL = mask(masked.Notify.SlackWebhookURL)
		out, err := json.MarshalIndent(masked, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.ConfigPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Save(config.DefaultConfig()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)

		dir, err := config.HomeDir()
		if err != nil {
			return err
		}
		wrote, err := identity.Scaffold(dir, configInitForce)
		if err != nil {
			return err
		}
		if wrote {
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", filepath.Join(dir, identity.FileName))
		}
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

// mask hides secret values, keeping whether they are set visible.
func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
