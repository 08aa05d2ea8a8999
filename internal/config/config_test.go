package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/devpack/internal/errors"
)

func TestNew(t *testing.T) {
	cfg := New()

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultHost, cfg.Server.Host)
	assert.Equal(t, DefaultLogBufferSize, cfg.Dev.LogBufferSize)
	assert.Zero(t, cfg.AssetWaitTimeout(), "no asset wait limit by default")
}

func TestLoadJSON(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := Load(tmpDir)
	require.True(t, errors.IsCode(err, "E141"), "expected E141 for missing config, got %v", err)

	configJSON := `{
	"platforms": ["ios", "android"],
	"server": {"port": 9000},
	"engine": {"command": "node", "args": ["worker.js"]},
	"dev": {"assetWaitTimeout": "45s"}
}
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "devpack.json"), []byte(configJSON), 0644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, DefaultHost, cfg.Server.Host, "default host applied")
	assert.Equal(t, "node", cfg.Engine.Command)
	assert.Equal(t, []string{"worker.js"}, cfg.Engine.Args)
	assert.Equal(t, 45*time.Second, cfg.AssetWaitTimeout())
	assert.Equal(t, tmpDir, cfg.Root)
	assert.True(t, cfg.AllowsPlatform("ios"))
	assert.False(t, cfg.AllowsPlatform("web"))
}

func TestLoadYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configYAML := `
entry: src/main.js
engine:
  outputDir: out
dev:
  verbose: true
  logBufferSize: 50
publish:
  bucket: builds
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "devpack.yaml"), []byte(configYAML), 0644))

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "src/main.js", cfg.Entry)
	assert.True(t, cfg.Dev.Verbose)
	assert.Equal(t, 50, cfg.Dev.LogBufferSize)
	assert.Equal(t, filepath.Join(tmpDir, "out", "ios"), cfg.OutputPath("ios"))
	assert.Equal(t, "builds", cfg.Publish.Bucket)
}

func TestLoadInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "devpack.json"), []byte("{not json"), 0644))

	_, err := Load(tmpDir)
	assert.True(t, errors.IsCode(err, "E120"), "expected E120, got %v", err)
}

func TestLoadOrDefault(t *testing.T) {
	tmpDir := t.TempDir()
	cfg, err := LoadOrDefault(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, tmpDir, cfg.Root)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, true},
		{"bad duration", func(c *Config) { c.Dev.AssetWaitTimeout = "soon" }, true},
		{"negative duration", func(c *Config) { c.Dev.ReadyTimeout = "-1s" }, true},
		{"platform with slash", func(c *Config) { c.Platforms = []string{"ios/sim"} }, true},
		{"dot platform", func(c *Config) { c.Platforms = []string{".."} }, true},
		{"plain platforms", func(c *Config) { c.Platforms = []string{"ios", "android", "tv_os-2"} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.IsCode(err, "E122"), "expected E122, got %v", err)
		})
	}
}

func TestValidPlatformName(t *testing.T) {
	for _, name := range []string{"ios", "android", "macos-arm64", "tv_os"} {
		assert.True(t, ValidPlatformName(name), name)
	}
	for _, name := range []string{"", ".", "..", "../ios", "ios/sim", `ios\sim`, "ios.sim", "ios sim", "%2e%2e"} {
		assert.False(t, ValidPlatformName(name), name)
	}
}

func TestAllowsPlatform(t *testing.T) {
	cfg := New()
	assert.True(t, cfg.AllowsPlatform("web"), "an empty list accepts any valid name")
	assert.False(t, cfg.AllowsPlatform("../../etc"))
	assert.Equal(t, DefaultPlatforms, cfg.KnownPlatforms())

	cfg.Platforms = []string{"ios"}
	assert.True(t, cfg.AllowsPlatform("ios"))
	assert.False(t, cfg.AllowsPlatform("android"))
	assert.Equal(t, []string{"ios"}, cfg.KnownPlatforms())
}

func TestSaveTo(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "devpack.json")

	cfg := New()
	cfg.Platforms = []string{"ios"}
	require.NoError(t, cfg.SaveTo(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ios"}, loaded.Platforms)
	assert.Equal(t, path, loaded.Path())
}

func TestWorkerOptionsRoundTrip(t *testing.T) {
	cfg := New()
	cfg.Root = "/proj"
	cfg.Dev.Verbose = true

	env, err := cfg.WorkerOptions("android", 4312).Environ()
	require.NoError(t, err)
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		t.Setenv(k, v)
	}

	assert.True(t, IsWorker())
	assert.True(t, VerboseFromEnv())
	opts, err := WorkerOptionsFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "android", opts.Platform)
	assert.Equal(t, 4312, opts.Port)
	assert.Equal(t, filepath.Join("/proj", DefaultOutputDir, "android"), opts.OutputDir)
}

func TestWorkerOptionsMissing(t *testing.T) {
	t.Setenv(OptionsEnvKey, "")
	_, err := WorkerOptionsFromEnv()
	assert.Error(t, err)
}

func TestHTTPS(t *testing.T) {
	cfg := New()
	require.False(t, cfg.Server.TLSEnabled(), "TLS enabled by default")

	cfg.Server.HTTPS = &HTTPSConfig{CertFile: "cert.pem"}
	err := cfg.Validate()
	assert.True(t, errors.IsCode(err, "E122"), "expected E122 for a cert without key, got %v", err)

	cfg.Server.HTTPS.KeyFile = "key.pem"
	require.NoError(t, cfg.Validate())
	assert.True(t, strings.HasPrefix(cfg.URL(), "https://"), cfg.URL())
}
