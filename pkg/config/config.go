package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"fragstore/pkg/protocol"
	"fragstore/pkg/types"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

const (
	DefaultConfigFile  = "servers_config.txt"
	DefaultDirectory   = "server_directory"
	DefaultNodeBaseDir = "."
	DefaultHost        = "127.0.0.1"
	DefaultPort        = 12345
	DefaultNodeCount   = 3

	typeCoordinator = "main_server"
	typeNode        = "sub_server"
)

var (
	ErrNoCoordinator        = errors.New("no main_server entry")
	ErrDuplicateCoordinator = errors.New("more than one main_server entry")
	ErrNoNodes              = errors.New("no sub_server entries")
	ErrInvalidPort          = errors.New("invalid port")
	ErrInvalidChunkSize     = errors.New("chunk size must be positive")
)

// Config is the startup configuration shared by the coordinator and every
// storage node. It is built once and must not be modified afterwards.
type Config struct {
	Coordinator types.StorageEndpoint
	// Nodes is ordered: the position of an endpoint is the index of the
	// fragment it receives.
	Nodes []types.StorageEndpoint

	ChunkSize   int
	Directory   string
	NodeBaseDir string

	// NodeTimeout bounds each coordinator→node round trip. Zero disables it.
	NodeTimeout time.Duration
	// MaxClients caps concurrent client connections. Zero means unbounded.
	MaxClients int
	// ProbeInterval is how often node reachability is checked. Zero disables it.
	ProbeInterval time.Duration

	MetricsAddress string
	HealthAddress  string

	// Source is the file the endpoints came from, or "defaults".
	Source string
}

// Default returns the built-in configuration: the coordinator on
// 127.0.0.1:12345 and three nodes on the following ports.
func Default() *Config {
	cfg := base()
	cfg.Coordinator = types.StorageEndpoint{Host: DefaultHost, Port: DefaultPort}
	for i := 1; i <= DefaultNodeCount; i++ {
		cfg.Nodes = append(cfg.Nodes, types.StorageEndpoint{Host: DefaultHost, Port: DefaultPort + i})
	}
	cfg.Source = "defaults"
	return cfg
}

func base() *Config {
	return &Config{
		ChunkSize:   protocol.DefaultChunkSize,
		Directory:   DefaultDirectory,
		NodeBaseDir: DefaultNodeBaseDir,
	}
}

// Load reads the endpoint file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.Source = path
	return cfg, nil
}

// Parse reads `type:host:port` lines. Blank lines and lines starting with
// '#' are ignored, as are lines that do not have exactly three fields or
// carry an unknown type.
func Parse(r io.Reader) (*Config, error) {
	cfg := base()
	haveCoordinator := false

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ":")
		if len(parts) != 3 {
			continue
		}

		kind, host := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		port, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("line %d: %w: %q", lineNo, ErrInvalidPort, parts[2])
		}
		endpoint := types.StorageEndpoint{Host: host, Port: port}

		switch kind {
		case typeCoordinator:
			if haveCoordinator {
				return nil, fmt.Errorf("line %d: %w", lineNo, ErrDuplicateCoordinator)
			}
			cfg.Coordinator = endpoint
			haveCoordinator = true
		case typeNode:
			cfg.Nodes = append(cfg.Nodes, endpoint)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if !haveCoordinator {
		return nil, ErrNoCoordinator
	}
	if len(cfg.Nodes) == 0 {
		return nil, ErrNoNodes
	}
	return cfg, nil
}

// LoadOrDefault loads path and falls back to Default when the file is
// missing or malformed. The fallback is logged, never fatal.
func LoadOrDefault(path string, logger *zap.Logger) *Config {
	cfg, err := Load(path)
	if err != nil {
		logger.Warn("Using default configuration",
			zap.String("path", path),
			zap.Error(err))
		return Default()
	}

	logger.Debug("Loaded configuration",
		zap.String("path", path),
		zap.String("coordinator", cfg.Coordinator.Address()),
		zap.Int("nodes", len(cfg.Nodes)))
	return cfg
}

type envSettings struct {
	ConfigPath string `envconfig:"CONFIG"`
}

// ResolvePath picks the config file path: the explicit flag value, then
// FRAGSTORE_CONFIG, then DefaultConfigFile.
func ResolvePath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}

	var env envSettings
	if err := envconfig.Process("fragstore", &env); err != nil {
		return "", fmt.Errorf("failed to read environment: %w", err)
	}
	if env.ConfigPath != "" {
		return env.ConfigPath, nil
	}
	return DefaultConfigFile, nil
}

// Validate checks the settings the services rely on.
func (c *Config) Validate() error {
	if len(c.Nodes) == 0 {
		return ErrNoNodes
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChunkSize, c.ChunkSize)
	}
	if c.Directory == "" {
		return errors.New("coordinator directory must be set")
	}
	if c.MaxClients < 0 {
		return fmt.Errorf("max clients must not be negative: %d", c.MaxClients)
	}
	return nil
}

// NodeCount returns the number of configured storage nodes.
func (c *Config) NodeCount() int {
	return len(c.Nodes)
}

// Node returns the endpoint of node index.
func (c *Config) Node(index int) (types.StorageEndpoint, error) {
	if index < 0 || index >= len(c.Nodes) {
		return types.StorageEndpoint{}, fmt.Errorf("node index %d out of range [0,%d)", index, len(c.Nodes))
	}
	return c.Nodes[index], nil
}
