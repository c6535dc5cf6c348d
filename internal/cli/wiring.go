package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/memorialsite/agentgw/internal/config"
	"github.com/memorialsite/agentgw/internal/dataapi"
	"github.com/memorialsite/agentgw/internal/session"
	"github.com/memorialsite/agentgw/internal/tools"
	"github.com/memorialsite/agentgw/internal/worker"
)

func openStore(ctx context.Context, cfg config.SessionConfig) (session.Store, error) {
	if cfg.Driver == "" || cfg.Driver == "memory" {
		return session.NewMemoryStore(cfg.MaxTurns, time.Duration(cfg.IdleTTLMinutes)*time.Minute), nil
	}
	if cfg.Driver == session.DriverSQLite && !strings.HasPrefix(cfg.DSN, "file:") {
		if err := config.EnsureDir(filepath.Dir(cfg.DSN)); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	}
	return session.OpenSQLStore(ctx, cfg.Driver, cfg.DSN, cfg.MaxTurns)
}

func siteRegistry(cfg *config.Config, readOnly bool) (*tools.Registry, error) {
	client := dataapi.NewClient(dataapi.Options{
		BaseURL:  cfg.DataAPI.BaseURL,
		Token:    cfg.DataAPI.Token,
		Username: cfg.DataAPI.Username,
		Password: cfg.DataAPI.Password,
		Timeout:  time.Duration(cfg.DataAPI.TimeoutSeconds) * time.Second,
	})
	reg, err := tools.NewSiteRegistry(client)
	if err != nil {
		return nil, err
	}
	if readOnly {
		reg = reg.Filter(tools.ReadOnly)
	}
	return reg, nil
}

func bridgeOptions(cfg config.WorkerConfig) worker.Options {
	args := cfg.Args
	if cfg.Command == "" && len(args) == 0 {
		args = []string{"worker"}
	}
	return worker.Options{
		Command:        cfg.Command,
		Args:           args,
		Timeout:        time.Duration(cfg.TimeoutSeconds) * time.Second,
		MaxConcurrent:  cfg.MaxConcurrent,
		MaxOutputBytes: cfg.MaxOutputBytes,
		LenientFraming: cfg.LenientFraming,
	}
}
