package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4, cfg.Trading.MaxConcurrency)
	assert.Equal(t, 0.7, cfg.Trading.ThresholdValue)
	assert.Equal(t, time.Second, cfg.Training.TickInterval)
	assert.Equal(t, 5*time.Second, cfg.Training.Cooldown)
	assert.Equal(t, time.Minute, cfg.Scheduler.CheckInterval)
	assert.Equal(t, DefaultPhases, cfg.Training.Phases)
	assert.False(t, cfg.Archive.Enabled())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9090"
store:
  backend: memory
training:
  tickInterval: 250ms
  phases: [Warmup, Serving]
trading:
  maxConcurrency: 2
`), 0o644))

	t.Setenv("THRESHOLD_VALUE", "0.8")
	t.Setenv("MAX_CONCURRENCY", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Training.TickInterval)
	assert.Equal(t, []string{"Warmup", "Serving"}, cfg.Training.Phases)
	assert.Equal(t, 2, cfg.Trading.MaxConcurrency)
	assert.Equal(t, 0.8, cfg.Trading.ThresholdValue)
	assert.Equal(t, 5*time.Second, cfg.Training.Cooldown, "unset keys keep defaults")
}

func TestLoad_EnvPhasesAndPort(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("TRAINING_PHASES", " One , Two,,Three ")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, []string{"One", "Two", "Three"}, cfg.Training.Phases)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [unclosed"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown backend":      func(c *Config) { c.Store.Backend = "etcd" },
		"redis without addr":   func(c *Config) { c.Store.Backend = BackendRedis },
		"postgres without url": func(c *Config) { c.Store.Backend = BackendPostgres },
		"no phases":            func(c *Config) { c.Training.Phases = nil },
		"no processes":         func(c *Config) { c.Training.Processes = nil },
		"zero tick":            func(c *Config) { c.Training.TickInterval = 0 },
		"zero concurrency":     func(c *Config) { c.Trading.MaxConcurrency = 0 },
		"zero check interval":  func(c *Config) { c.Scheduler.CheckInterval = 0 },
		"zero archive interval": func(c *Config) {
			c.Archive.Endpoint, c.Archive.Bucket, c.Archive.Interval = "minio:9000", "snapshots", 0
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestArchiveEnabled(t *testing.T) {
	assert.False(t, ArchiveConfig{Endpoint: "minio:9000"}.Enabled())
	assert.True(t, ArchiveConfig{Endpoint: "minio:9000", Bucket: "snapshots"}.Enabled())
	assert.True(t, ArchiveConfig{SecretName: "minio-creds", Bucket: "snapshots"}.Enabled())
}

func TestValidate_ArchiveIntervalIgnoredWhenDisabled(t *testing.T) {
	cfg := Default()
	cfg.Archive.Interval = 0
	assert.NoError(t, cfg.Validate())

	cfg.Archive.Endpoint, cfg.Archive.Bucket = "minio:9000", "snapshots"
	assert.Error(t, cfg.Validate())
}
