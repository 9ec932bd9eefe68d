// Command agent runs one cluster node: the SWIM failure-detection and
// gossip core, plus the optional discovery, audit, and admin surfaces
// layered on top of it.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ruvnet/swimring/internal/adminapi"
	"github.com/ruvnet/swimring/internal/audit"
	"github.com/ruvnet/swimring/internal/cluster"
	"github.com/ruvnet/swimring/internal/config"
	"github.com/ruvnet/swimring/internal/discovery"
	"github.com/ruvnet/swimring/internal/metrics"
	"github.com/ruvnet/swimring/internal/transport"
	"github.com/ruvnet/swimring/internal/worker"
)

var rootCmd = &cobra.Command{
	Use:   "agent",
	Short: "swimring cluster membership agent",
	Long:  "Runs a single SWIM cluster membership node: failure detection, gossip dissemination, and the optional discovery/audit/admin surfaces around it.",
	RunE:  run,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// peerEntry splits a configured peer of the form "name" or
// "name@host:port" into its registry name and, if present, its dialable
// address for the static UDP resolver.
func peerEntry(raw string) (name, addr string) {
	if i := strings.IndexByte(raw, '@'); i >= 0 {
		return raw[:i], raw[i+1:]
	}
	return raw, ""
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	peerNames := make([]string, 0, len(cfg.Cluster.Peers))
	staticAddrs := transport.StaticResolver{}
	for _, raw := range cfg.Cluster.Peers {
		name, addr := peerEntry(raw)
		peerNames = append(peerNames, name)
		if addr != "" {
			staticAddrs[name] = addr
		}
	}

	if cfg.Discovery.RedisAddr != "" {
		source := discovery.NewRedisSource(cfg.Discovery.RedisAddr, cfg.Discovery.RedisKey, logger)
		defer source.Close()
		discovered, err := source.Announce(ctx, cfg.Cluster.LocalName)
		if err != nil {
			logger.Warn("bootstrap discovery failed, continuing with static peers", zap.Error(err))
		}
		for _, name := range discovered {
			if name != cfg.Cluster.LocalName {
				peerNames = append(peerNames, name)
			}
		}
	}

	registry := cluster.NewRegistry(cfg.Cluster.LocalName, cluster.Metadata(cfg.Cluster.LocalMetadata), peerNames, logger)

	tr, err := buildTransport(cfg, staticAddrs, logger)
	if err != nil {
		return fmt.Errorf("building transport: %w", err)
	}
	defer tr.Close()

	m := metrics.NewMetrics()

	if cfg.Audit.DSN != "" {
		sink, err := audit.NewPostgresSink(cfg.Audit.DSN, logger)
		if err != nil {
			logger.Warn("audit sink disabled", zap.Error(err))
		} else {
			defer sink.Close()
			changes, cancelChanges := registry.Changes(64)
			defer cancelChanges()
			go func() {
				for change := range changes {
					sink.Record(change)
				}
			}()
		}
	}

	w := worker.NewWorker(cfg.Cluster, registry, tr, m, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting cluster worker", zap.String("name", cfg.Cluster.LocalName))
		w.Run(ctx)
	}()

	admin := adminapi.NewServer(registry, []byte(cfg.Admin.JWTSecret), m.Registry(), logger)

	httpServer := &http.Server{Addr: cfg.Admin.HTTPAddr, Handler: admin.Router()}
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting admin HTTP listener", zap.String("addr", cfg.Admin.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin HTTP listener stopped", zap.Error(err))
		}
	}()

	grpcLn, err := net.Listen("tcp", cfg.Admin.GRPCAddr)
	if err != nil {
		return fmt.Errorf("binding admin grpc listener: %w", err)
	}
	grpcServer := admin.NewGRPCServer()
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting admin gRPC listener", zap.String("addr", cfg.Admin.GRPCAddr))
		if err := grpcServer.Serve(grpcLn); err != nil {
			logger.Error("admin gRPC listener stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down cluster agent")

	_ = httpServer.Shutdown(context.Background())
	grpcServer.GracefulStop()
	cancel()
	wg.Wait()

	logger.Info("cluster agent exited gracefully")
	return nil
}

func buildTransport(cfg *config.Config, staticAddrs transport.StaticResolver, logger *zap.Logger) (transport.Transport, error) {
	switch cfg.Transport.Kind {
	case "udp":
		return transport.NewUDPTransport(cfg.Transport.BindAddr, []byte(cfg.Cluster.Secret), staticAddrs.Resolve, logger)
	case "nats":
		return transport.NewNATSTransport(cfg.Transport.NATSURL, cfg.Cluster.LocalName, []byte(cfg.Cluster.Secret), logger)
	case "memory":
		// Only meaningful when multiple agents run as goroutines inside
		// one process (tests, local demos); separate OS processes
		// cannot share an in-memory hub.
		hub := transport.NewMemoryHub()
		return transport.NewMemoryTransport(hub, cfg.Cluster.LocalName, 256), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if err := zcfg.Level.UnmarshalText([]byte(level)); err != nil {
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return zcfg.Build()
}
