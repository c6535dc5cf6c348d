package cli

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/memorialsite/agentgw/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"                         _                    \n" +
		"   __ _  __ _  ___ _ __ | |_ __ ___      __   \n" +
		"  / _` |/ _` |/ _ \\ '_ \\| __/ _` \\ \\ /\\ / /   \n" +
		" | (_| | (_| |  __/ | | | || (_| |\\ V  V /    \n" +
		"  \\__,_|\\__, |\\___|_| |_|\\__\\__, | \\_/\\_/     \n" +
		"        |___/               |___/             \n"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "agentgw",
	Short: "agentgw - memorial site agent gateway",
	Long:  color.CyanString(logo) + "\nChat gateway that runs a tool-using site assistant in isolated worker processes.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if configFlag != "" {
			_ = os.Setenv("AGENTGW_CONFIG", configFlag)
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (JSON or YAML); defaults to ~/.agentgw/config.json")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(configCmd)
}
