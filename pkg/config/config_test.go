package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fragstore/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const sampleConfig = `# coordinator
main_server:127.0.0.1:9000

sub_server:127.0.0.1:9001
sub_server:10.0.0.2:9002
  # indented comment
sub_server:10.0.0.3:9003
`

func TestParse(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, types.StorageEndpoint{Host: "127.0.0.1", Port: 9000}, cfg.Coordinator)
	assert.Equal(t, []types.StorageEndpoint{
		{Host: "127.0.0.1", Port: 9001},
		{Host: "10.0.0.2", Port: 9002},
		{Host: "10.0.0.3", Port: 9003},
	}, cfg.Nodes)
	assert.Equal(t, 1024, cfg.ChunkSize)
	assert.Equal(t, DefaultDirectory, cfg.Directory)
	assert.NoError(t, cfg.Validate())
}

func TestParseSkipsUnrecognizedLines(t *testing.T) {
	input := `main_server:localhost:9000
backup_server:localhost:9100
sub_server:localhost
sub_server:localhost:9001
`
	cfg, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Len(t, cfg.Nodes, 1)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		err   error
	}{
		{"bad port", "main_server:localhost:abc\nsub_server:localhost:1\n", ErrInvalidPort},
		{"port out of range", "main_server:localhost:70000\nsub_server:localhost:1\n", ErrInvalidPort},
		{"no coordinator", "sub_server:localhost:9001\n", ErrNoCoordinator},
		{"no nodes", "main_server:localhost:9000\n", ErrNoNodes},
		{"duplicate coordinator", "main_server:a:1\nmain_server:b:2\nsub_server:c:3\n", ErrDuplicateCoordinator},
		{"empty", "", ErrNoCoordinator},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1:12345", cfg.Coordinator.Address())
	require.Len(t, cfg.Nodes, 3)
	assert.Equal(t, 12346, cfg.Nodes[0].Port)
	assert.Equal(t, 12347, cfg.Nodes[1].Port)
	assert.Equal(t, 12348, cfg.Nodes[2].Port)
	assert.Equal(t, "defaults", cfg.Source)
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)

	t.Run("missing file", func(t *testing.T) {
		cfg := LoadOrDefault(filepath.Join(t.TempDir(), "absent.txt"), logger)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "servers_config.txt")
		require.NoError(t, os.WriteFile(path, []byte("main_server:x:notaport\n"), 0644))

		cfg := LoadOrDefault(path, logger)
		assert.Equal(t, "defaults", cfg.Source)
	})

	assert.Equal(t, 2, logs.FilterMessage("Using default configuration").Len())
}

func TestLoadOrDefaultUsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers_config.txt")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0644))

	cfg := LoadOrDefault(path, zap.NewNop())
	assert.Equal(t, path, cfg.Source)
	assert.Equal(t, 3, cfg.NodeCount())

	node, err := cfg.Node(1)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:9002", node.Address())

	_, err = cfg.Node(3)
	assert.Error(t, err)
}

func TestResolvePath(t *testing.T) {
	t.Setenv("FRAGSTORE_CONFIG", "")

	path, err := ResolvePath("explicit.txt")
	require.NoError(t, err)
	assert.Equal(t, "explicit.txt", path)

	path, err = ResolvePath("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfigFile, path)

	t.Setenv("FRAGSTORE_CONFIG", "/etc/fragstore/servers.txt")
	path, err = ResolvePath("")
	require.NoError(t, err)
	assert.Equal(t, "/etc/fragstore/servers.txt", path)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.ChunkSize = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidChunkSize)

	cfg = Default()
	cfg.Nodes = nil
	assert.ErrorIs(t, cfg.Validate(), ErrNoNodes)

	cfg = Default()
	cfg.MaxClients = -1
	assert.Error(t, cfg.Validate())
}
