package main

import (
	"context"
	"fmt"
	"time"

	"fragstore/pkg/admin"
	"fragstore/pkg/config"
	"fragstore/pkg/coordinator"
	"fragstore/pkg/metrics"
	"fragstore/pkg/node"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	flags := &serverFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator and every configured storage node",
		Long: `Start one storage node per sub_server entry and the coordinator in a
single process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig(logger, flags)
			if err != nil {
				return err
			}

			registry := newRegistry()
			m := metrics.New(registry)

			nodes, err := startNodes(cfg, logger, m)
			defer stopNodes(nodes)
			if err != nil {
				return err
			}

			stop, err := startCoordinator(cfg, logger, m, registry)
			if err != nil {
				return err
			}

			sig := waitForSignal()
			logger.Info("Shutting down", zap.String("signal", sig.String()))
			stop()
			return nil
		},
	}

	flags.register(cmd, true)
	return cmd
}

func coordinatorCmd() *cobra.Command {
	flags := &serverFlags{}

	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Run the coordinator only",
		Long:  `Start the coordinator in front of storage nodes running elsewhere.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig(logger, flags)
			if err != nil {
				return err
			}

			registry := newRegistry()
			stop, err := startCoordinator(cfg, logger, metrics.New(registry), registry)
			if err != nil {
				return err
			}

			sig := waitForSignal()
			logger.Info("Shutting down coordinator", zap.String("signal", sig.String()))
			stop()
			return nil
		},
	}

	flags.register(cmd, true)
	return cmd
}

func nodeCmd() *cobra.Command {
	flags := &serverFlags{}
	var index int

	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run a single storage node",
		Long:  `Start the storage node at position --index of the configured node list.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig(logger, flags)
			if err != nil {
				return err
			}

			n, err := node.New(cfg, index, logger, metrics.New(newRegistry()))
			if err != nil {
				return err
			}
			if err := n.Start(); err != nil {
				return err
			}

			sig := waitForSignal()
			logger.Info("Shutting down storage node", zap.String("signal", sig.String()))
			n.Stop()
			return nil
		},
	}

	flags.register(cmd, false)
	cmd.Flags().IntVar(&index, "index", 0, "position of this node in the configured node list")
	return cmd
}

func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func startNodes(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) ([]*node.Node, error) {
	nodes := make([]*node.Node, 0, cfg.NodeCount())
	for i := 0; i < cfg.NodeCount(); i++ {
		n, err := node.New(cfg, i, logger, m)
		if err != nil {
			return nodes, err
		}
		if err := n.Start(); err != nil {
			return nodes, fmt.Errorf("failed to start node %d: %w", i, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func stopNodes(nodes []*node.Node) {
	for _, n := range nodes {
		n.Stop()
	}
}

// startCoordinator starts the coordinator and whichever admin surfaces are
// configured. The returned function stops all of them.
func startCoordinator(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics, registry *prometheus.Registry) (func(), error) {
	coord, err := coordinator.New(cfg, logger, m)
	if err != nil {
		return nil, err
	}

	var health *admin.HealthServer
	if cfg.HealthAddress != "" {
		health = admin.NewHealthServer(cfg.HealthAddress, cfg.NodeCount(), logger)
		coord.OnProbe(health.UpdateNodes)
		if err := health.Start(); err != nil {
			return nil, err
		}
	}

	if err := coord.Start(); err != nil {
		if health != nil {
			health.Stop()
		}
		return nil, err
	}
	if health != nil {
		health.SetServing(true)
	}

	var httpServer *admin.HTTPServer
	if cfg.MetricsAddress != "" {
		httpServer = admin.NewHTTPServer(cfg.MetricsAddress, coord, registry, logger)
		if err := httpServer.Start(); err != nil {
			coord.Stop()
			if health != nil {
				health.Stop()
			}
			return nil, err
		}
	}

	stop := func() {
		if health != nil {
			health.SetServing(false)
		}
		coord.Stop()
		if httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := httpServer.Stop(ctx); err != nil {
				logger.Warn("Admin HTTP server shutdown failed", zap.Error(err))
			}
			cancel()
		}
		if health != nil {
			health.Stop()
		}
	}
	return stop, nil
}
