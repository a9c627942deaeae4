package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tdprio/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "default", cfg.Experiment.Dataset)
	assert.Equal(t, 30, cfg.Experiment.MaxSimulations)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte("experiment:\n  dataset: big\n  max_simulations: 5\n"))
	require.NoError(t, err)
	assert.Equal(t, "big", cfg.Experiment.Dataset)
	assert.Equal(t, 5, cfg.Experiment.MaxSimulations)
	assert.Equal(t, 4, cfg.Experiment.Parallelism)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
}

func TestFromYAMLRejects(t *testing.T) {
	cases := map[string]struct {
		doc  string
		want string
	}{
		"zero sims":      {"experiment:\n  max_simulations: 0\n", "experiment.max_simulations"},
		"bad weight":     {"experiment:\n  exploration_weight: -1\n", "experiment.exploration_weight"},
		"bad base path":  {"server:\n  base_path: v0\n", "server.base_path"},
		"bad addr":       {"server:\n  addr: nowhere\n", "server.addr"},
		"duplicate file": {"datasets:\n  files: [a.yml, a.yml]\n", "twice"},
		"not yaml":       {"experiment: [", "invalid config yaml"},
		"webhook url":    {"server:\n  webhooks:\n    - url: not a url\n", "server.webhooks[0].url"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(tc.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(nil, dir)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	_, err = config.Load(nil, dir)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "tdprio.yml"), []byte("experiment:\n  seed: 99\n"), 0o644))
	cfg, err = config.Load(nil, dir)
	require.NoError(t, err)
	assert.Equal(t, int64(99), cfg.Experiment.Seed)
}

func TestLoadFromMemFs(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg, err := config.LoadOptional(fs, "/ws")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	require.NoError(t, afero.WriteFile(fs, "/ws/tdprio.yml", []byte("experiment:\n  max_simulations: 7\n"), 0o644))
	cfg, err = config.Load(fs, "/ws")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Experiment.MaxSimulations)

	require.NoError(t, afero.WriteFile(fs, "/ws/tdprio.yml", []byte("experiment: [\n"), 0o644))
	_, err = config.LoadOptional(fs, "/ws")
	require.Error(t, err)
}
