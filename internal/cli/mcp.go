package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memorialsite/agentgw/internal/config"
	"github.com/memorialsite/agentgw/internal/mcpserver"
)

var mcpReadOnly bool

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the site tools over MCP stdio",
	Long:  "Serve the site tools over MCP stdio so an external agent CLI can be used as the worker command.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		// stdout is the protocol channel.
		setupLogging(cfg.Log, cmd.ErrOrStderr())
		registry, err := siteRegistry(cfg, mcpReadOnly)
		if err != nil {
			return err
		}
		return mcpserver.New("agentgw", version, registry).ServeStdio()
	},
}

func init() {
	mcpCmd.Flags().BoolVar(&mcpReadOnly, "read-only", false, "Only expose tools that do not modify site content")
}
