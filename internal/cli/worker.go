package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/memorialsite/agentgw/internal/agent"
	"github.com/memorialsite/agentgw/internal/config"
	"github.com/memorialsite/agentgw/internal/identity"
	"github.com/memorialsite/agentgw/internal/policy"
	"github.com/memorialsite/agentgw/internal/provider"
	"github.com/memorialsite/agentgw/internal/worker"
)

var workerPrompt string

var workerCmd = &cobra.Command{
	Use:          "worker",
	Short:        "Answer one prompt, streaming JSON events to stdout",
	SilenceUsage: true,
	RunE:         runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerPrompt, "prompt", "", "Prompt to answer")
}

func runWorker(cmd *cobra.Command, args []string) error {
	events := worker.NewEventWriter(cmd.OutOrStdout())
	if strings.TrimSpace(workerPrompt) == "" {
		err := errors.New("--prompt is required")
		_ = events.Error(err.Error())
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		_ = events.Error("configuration error")
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.Log, cmd.ErrOrStderr())

	registry, err := siteRegistry(cfg, false)
	if err != nil {
		_ = events.Error(err.Error())
		return err
	}
	systemPrompt := cfg.Model.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = loadIdentity()
	}
	prov := provider.NewOpenAIProvider(
		cfg.Providers.OpenAI.APIKey,
		cfg.Providers.OpenAI.APIBase,
		cfg.Model.Name,
		0,
	)
	loop := agent.NewLoop(agent.LoopOptions{
		Provider:      prov,
		Registry:      registry,
		Events:        events,
		Model:         cfg.Model.Name,
		MaxTokens:     cfg.Model.MaxTokens,
		Temperature:   cfg.Model.Temperature,
		MaxIterations: cfg.Model.MaxToolIterations,
		SystemPrompt:  systemPrompt,
		Policy:        policy.NewTierEngine(cfg.Tools.MaxTier, cfg.Tools.Deny),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	_, err = loop.Run(ctx, workerPrompt)
	return err
}

// loadIdentity reads IDENTITY.md from the agentgw home, falling back to the
// embedded prompt.
func loadIdentity() string {
	dir, err := config.HomeDir()
	if err != nil {
		return identity.Default()
	}
	prompt, err := identity.Load(filepath.Join(dir, identity.FileName))
	if err != nil {
		slog.Warn("Failed to read identity file, using default", "error", err)
		return identity.Default()
	}
	return prompt
}
