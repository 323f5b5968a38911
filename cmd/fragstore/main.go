package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fragstore/pkg/config"
	"fragstore/pkg/utils"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "0.3.0"

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fragstore",
		Short: "Fragmented file storage over a fixed set of storage nodes",
		Long: `A coordinator splits every stored file into contiguous fragments, one per
storage node, and reassembles them on retrieval.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "endpoint file (default $FRAGSTORE_CONFIG or servers_config.txt)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		serveCmd(),
		coordinatorCmd(),
		nodeCmd(),
		clientCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fragstore v%s\n", version)
		},
	}
}

func setupLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, _ := config.Build()
	return logger
}

// serverFlags are the runtime settings that complement the endpoint file.
type serverFlags struct {
	chunkSize     string
	directory     string
	nodeBaseDir   string
	nodeTimeout   time.Duration
	maxClients    int
	probeInterval time.Duration
	metricsAddr   string
	healthAddr    string
}

func (f *serverFlags) register(cmd *cobra.Command, coordinator bool) {
	cmd.Flags().StringVar(&f.chunkSize, "chunk-size", "1024", "transfer buffer size (e.g. 1024, 4KiB)")
	cmd.Flags().StringVar(&f.nodeBaseDir, "node-base-dir", config.DefaultNodeBaseDir, "parent of the sub_server_directory_<port> directories")
	if !coordinator {
		return
	}
	cmd.Flags().StringVar(&f.directory, "directory", config.DefaultDirectory, "coordinator directory")
	cmd.Flags().DurationVar(&f.nodeTimeout, "node-timeout", 0, "bound on each coordinator to node round trip (0 disables)")
	cmd.Flags().IntVar(&f.maxClients, "max-clients", 0, "maximum concurrent client connections (0 is unbounded)")
	cmd.Flags().DurationVar(&f.probeInterval, "probe-interval", 0, "interval between node reachability probes (0 disables)")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "admin HTTP address serving /metrics, /healthz and /nodes")
	cmd.Flags().StringVar(&f.healthAddr, "health-addr", "", "gRPC health service address")
}

func (f *serverFlags) apply(cfg *config.Config) error {
	chunkSize, err := utils.ParseChunkSize(f.chunkSize)
	if err != nil {
		return err
	}
	cfg.ChunkSize = chunkSize

	if f.directory != "" {
		cfg.Directory = f.directory
	}
	if f.nodeBaseDir != "" {
		cfg.NodeBaseDir = f.nodeBaseDir
	}
	cfg.NodeTimeout = f.nodeTimeout
	cfg.MaxClients = f.maxClients
	cfg.ProbeInterval = f.probeInterval
	cfg.MetricsAddress = f.metricsAddr
	cfg.HealthAddress = f.healthAddr
	return nil
}

// loadConfig resolves and loads the endpoint file, falling back to the
// built-in defaults, then applies flags. The result is not modified again.
func loadConfig(logger *zap.Logger, flags *serverFlags) (*config.Config, error) {
	path, err := config.ResolvePath(configFile)
	if err != nil {
		return nil, err
	}

	cfg := config.LoadOrDefault(path, logger)
	if flags != nil {
		if err := flags.apply(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Configuration loaded",
		zap.String("source", cfg.Source),
		zap.String("coordinator", cfg.Coordinator.Address()),
		zap.Int("nodes", cfg.NodeCount()))
	return cfg, nil
}

func waitForSignal() os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	return <-sigChan
}
