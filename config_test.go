package mstbake

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Staging.Driver)
	assert.Equal(t, DefaultTablePrefix, cfg.Staging.TablePrefix)
	assert.Equal(t, 1, cfg.Worker.Concurrency)
	assert.True(t, cfg.Worker.BuildBVH)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bake.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[staging]
driver = "memory"
table_prefix = "level_01"
reuse_table = true

[worker]
concurrency = 4
bvh_leaf_size = 16

[log]
level = "debug"
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Staging.Driver)
	assert.Equal(t, "level_01", cfg.Staging.TablePrefix)
	assert.True(t, cfg.Staging.ReuseTable)
	assert.Equal(t, 4, cfg.Staging.Concurrency)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 16, cfg.Worker.BVHLeafSize)
	assert.True(t, cfg.Worker.BuildBVH)
	assert.Equal(t, "debug", cfg.Log.Level)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		errKey string
	}{
		{"driver", "[staging]\ndriver = \"redis\"", "staging.driver"},
		{"prefix", "[staging]\ntable_prefix = \"bad-name\"", "staging.table_prefix"},
		{"staging concurrency", "[staging]\nconcurrency = 0", "staging.concurrency"},
		{"worker concurrency", "[worker]\nconcurrency = -1", "worker.concurrency"},
		{"leaf", "[worker]\nbvh_leaf_size = 0", "worker.bvh_leaf_size"},
		{"level", "[log]\nlevel = \"loud\"", "log.level"},
		{"syntax", "[staging\n", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errKey)
		})
	}
}

func TestConfigMarshalRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Worker.BuildBVH = false
	data, err := cfg.Marshal()
	require.NoError(t, err)
	back, err := ParseConfig(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestLogger(t *testing.T) {
	l := Logger()
	require.NotNil(t, l)
	assert.Same(t, l, Logger())

	require.NoError(t, SetLogLevel("debug"))
	assert.Equal(t, log.DebugLevel, Logger().GetLevel())
	assert.Error(t, SetLogLevel("loud"))

	custom := log.New(os.Stderr)
	SetLogger(custom)
	assert.Same(t, custom, Logger())
	SetLogger(nil)
	assert.NotSame(t, custom, Logger())
}
