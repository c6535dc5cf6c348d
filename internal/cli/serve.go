package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/memorialsite/agentgw/internal/bus"
	"github.com/memorialsite/agentgw/internal/config"
	"github.com/memorialsite/agentgw/internal/gateway"
	"github.com/memorialsite/agentgw/internal/notify"
	"github.com/memorialsite/agentgw/internal/timeline"
	"github.com/memorialsite/agentgw/internal/worker"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket chat gateway",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.Log, cmd.ErrOrStderr())
	printHeader(cmd.OutOrStdout(), "🌐 agentgw gateway")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return serve(ctx, cfg, ln, cmd.OutOrStdout())
}

// serve runs the gateway on ln until ctx is done.
func serve(ctx context.Context, cfg *config.Config, ln net.Listener, out io.Writer) error {
	store, err := openStore(ctx, cfg.Session)
	if err != nil {
		ln.Close()
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	bridge, err := worker.NewBridge(bridgeOptions(cfg.Worker))
	if err != nil {
		ln.Close()
		return err
	}

	registry, err := siteRegistry(cfg, false)
	if err != nil {
		ln.Close()
		return err
	}

	msgBus := bus.NewMessageBus(256)
	var timeSvc *timeline.TimelineService
	if cfg.Timeline.Enabled {
		timeSvc, err = timeline.NewTimelineService(cfg.Timeline.Path)
		if err != nil {
			ln.Close()
			return err
		}
		defer timeSvc.Close()
		msgBus.Subscribe("timeline", timeSvc.Record)
	}
	if cfg.Notify.KafkaBrokers != "" {
		pub, err := notify.NewKafkaPublisher(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic)
		if err != nil {
			ln.Close()
			return err
		}
		defer pub.Close()
		msgBus.Subscribe("kafka", pub.Handle)
		slog.Info("Publishing turn events to Kafka", "brokers", cfg.Notify.KafkaBrokers, "topic", cfg.Notify.KafkaTopic)
	}
	if cfg.Notify.SlackWebhookURL != "" {
		msgBus.Subscribe("slack", notify.NewSlackAlerter(cfg.Notify.SlackWebhookURL).Handle)
	}

	svc := gateway.NewService(gateway.ServiceOptions{
		Store:            store,
		Runner:           bridge,
		Events:           msgBus,
		RecordErrorTurns: cfg.Gateway.RecordErrorTurns,
		MaxMessageBytes:  cfg.Gateway.MaxMessageBytes,
	})
	srv := gateway.NewServer(gateway.ServerOptions{
		Service:        svc,
		Store:          store,
		Registry:       registry,
		Timeline:       timeSvc,
		AuthToken:      cfg.Gateway.AuthToken,
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
	})
	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.Gateway.AuthToken == "" {
		slog.Warn("Gateway auth token not set; /agent endpoints are open")
	}
	fmt.Fprintf(out, "Gateway listening on http://%s (sessions: %s)\n", ln.Addr(), cfg.Session.Driver)

	busCtx, busCancel := context.WithCancel(context.Background())
	busDone := make(chan struct{})
	go func() {
		defer close(busDone)
		_ = msgBus.Dispatch(busCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(out, "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	err = g.Wait()

	busCancel()
	<-busDone
	return err
}
