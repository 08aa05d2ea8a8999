package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vango-dev/devpack/internal/errors"
)

const (
	// DefaultPort is the default dev server port.
	DefaultPort = 8081

	// DefaultHost is the default dev server host.
	DefaultHost = "localhost"

	// DefaultEntry is the default bundle entry point.
	DefaultEntry = "index.js"

	// DefaultOutputDir is where the reference engine looks for per-platform output.
	DefaultOutputDir = "build/generated"

	// DefaultLogBufferSize is the number of log entries kept for the dashboard.
	DefaultLogBufferSize = 500

	// DefaultReadyTimeout bounds how long forwarding retries a booting worker.
	DefaultReadyTimeout = "10s"

	// DefaultForwardTimeout bounds a single forwarded request.
	DefaultForwardTimeout = "30s"
)

// ConfigFileNames are looked up in order by Load.
var ConfigFileNames = []string{"devpack.json", "devpack.yaml", "devpack.yml"}

// DefaultPlatforms are matched as leading path segments when no platforms
// are configured.
var DefaultPlatforms = []string{"ios", "android"}

var platformName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidPlatformName reports whether name can name a platform. Platform names
// become path segments and worker directories, so only letters, digits, '_'
// and '-' are accepted.
func ValidPlatformName(name string) bool {
	return platformName.MatchString(name)
}

// Config represents the complete project configuration.
type Config struct {
	// Root is the project root. Relative paths are resolved against the config file.
	Root string `json:"root,omitempty" yaml:"root,omitempty"`

	// Entry is the bundle entry point handed to build workers.
	Entry string `json:"entry,omitempty" yaml:"entry,omitempty"`

	// Platforms restricts the accepted platform names. Empty accepts any.
	Platforms []string `json:"platforms,omitempty" yaml:"platforms,omitempty"`

	// Server contains the listening address.
	Server ServerConfig `json:"server,omitempty" yaml:"server,omitempty"`

	// Engine describes the per-platform build worker command.
	Engine EngineConfig `json:"engine,omitempty" yaml:"engine,omitempty"`

	// Dev contains development server tuning.
	Dev DevConfig `json:"dev,omitempty" yaml:"dev,omitempty"`

	// Publish configures optional upload of completed builds.
	Publish PublishConfig `json:"publish,omitempty" yaml:"publish,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig contains the dev server listen address.
type ServerConfig struct {
	Host string `json:"host,omitempty" yaml:"host,omitempty"`
	Port int    `json:"port,omitempty" yaml:"port,omitempty"`

	// HTTPS serves TLS when both files are set.
	HTTPS *HTTPSConfig `json:"https,omitempty" yaml:"https,omitempty"`
}

// HTTPSConfig names the certificate and key used for TLS.
type HTTPSConfig struct {
	CertFile string `json:"certFile" yaml:"certFile"`
	KeyFile  string `json:"keyFile" yaml:"keyFile"`
}

// TLSEnabled reports whether the server should serve TLS.
func (s ServerConfig) TLSEnabled() bool {
	return s.HTTPS != nil && s.HTTPS.CertFile != "" && s.HTTPS.KeyFile != ""
}

// EngineConfig describes how a platform worker is launched.
type EngineConfig struct {
	// Command is the worker executable. Empty runs the built-in reference
	// engine by re-executing the devpack binary.
	Command string `json:"command,omitempty" yaml:"command,omitempty"`

	// Args are passed to Command.
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// OutputDir is the directory the reference engine serves, one
	// subdirectory per platform.
	OutputDir string `json:"outputDir,omitempty" yaml:"outputDir,omitempty"`

	// Env holds extra environment variables for the worker.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// DevConfig contains development server settings.
type DevConfig struct {
	// Verbose enables debug logging.
	Verbose bool `json:"verbose,omitempty" yaml:"verbose,omitempty"`

	// LogBufferSize is the number of recent log entries served to the dashboard.
	LogBufferSize int `json:"logBufferSize,omitempty" yaml:"logBufferSize,omitempty"`

	// AssetWaitTimeout bounds how long a request waits for an in-flight build
	// (e.g., "30s"). "0s" or empty waits until the build finishes.
	AssetWaitTimeout string `json:"assetWaitTimeout,omitempty" yaml:"assetWaitTimeout,omitempty"`

	// ReadyTimeout bounds retries while a freshly spawned worker opens its port.
	ReadyTimeout string `json:"readyTimeout,omitempty" yaml:"readyTimeout,omitempty"`

	// ForwardTimeout bounds a single request forwarded to a worker.
	ForwardTimeout string `json:"forwardTimeout,omitempty" yaml:"forwardTimeout,omitempty"`

	// DisableDashboard turns off the dashboard API and WebSocket channel.
	DisableDashboard bool `json:"disableDashboard,omitempty" yaml:"disableDashboard,omitempty"`
}

// PublishConfig configures upload of completed builds to S3.
type PublishConfig struct {
	Bucket string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// Endpoint overrides the S3 endpoint for S3-compatible stores.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// UsePathStyle puts the bucket in the path instead of the host name.
	UsePathStyle bool `json:"usePathStyle,omitempty" yaml:"usePathStyle,omitempty"`
}

// Enabled reports whether builds are published.
func (p PublishConfig) Enabled() bool {
	return p.Bucket != ""
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Root:  ".",
		Entry: DefaultEntry,
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Engine: EngineConfig{
			OutputDir: DefaultOutputDir,
		},
		Dev: DevConfig{
			LogBufferSize:  DefaultLogBufferSize,
			ReadyTimeout:   DefaultReadyTimeout,
			ForwardTimeout: DefaultForwardTimeout,
		},
	}
}

// Load reads configuration from the specified directory. It looks for each
// of ConfigFileNames in order.
func Load(dir string) (*Config, error) {
	for _, name := range ConfigFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, errors.New("E141").
		WithDetailf("No devpack.json or devpack.yaml found in %s", dir).
		WithSuggestion("Create devpack.json or pass flags to 'devpack start'")
}

// LoadOrDefault is Load, except a missing file yields the defaults rooted at dir.
func LoadOrDefault(dir string) (*Config, error) {
	cfg, err := Load(dir)
	if errors.IsCode(err, "E141") {
		cfg = New()
		cfg.Root = dir
		return cfg, nil
	}
	return cfg, err
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E141").
				WithDetail("No config file at " + path)
		}
		return nil, errors.New("E120").Wrap(err)
	}

	cfg := New()
	unmarshal := yaml.Unmarshal
	if filepath.Ext(path) == ".json" {
		unmarshal = json.Unmarshal
	}
	if err := unmarshal(data, cfg); err != nil {
		return nil, errors.New("E120").
			WithDetail("Failed to parse " + filepath.Base(path) + ": " + err.Error()).
			WithSuggestion("Check that the file is valid JSON or YAML")
	}

	cfg.configPath = path
	if !filepath.IsAbs(cfg.Root) {
		cfg.Root = filepath.Join(filepath.Dir(path), cfg.Root)
	}
	cfg.applyDefaults()

	return cfg, nil
}

// SaveTo writes the configuration as JSON to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New("E120").Wrap(err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("E120").Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Root == "" {
		c.Root = "."
	}
	if c.Entry == "" {
		c.Entry = DefaultEntry
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Engine.OutputDir == "" {
		c.Engine.OutputDir = DefaultOutputDir
	}
	if c.Dev.LogBufferSize == 0 {
		c.Dev.LogBufferSize = DefaultLogBufferSize
	}
	if c.Dev.ReadyTimeout == "" {
		c.Dev.ReadyTimeout = DefaultReadyTimeout
	}
	if c.Dev.ForwardTimeout == "" {
		c.Dev.ForwardTimeout = DefaultForwardTimeout
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.New("E122").
			WithDetail("server.port must be between 0 and 65535")
	}
	if c.Dev.LogBufferSize < 0 {
		return errors.New("E122").
			WithDetail("dev.logBufferSize must not be negative")
	}
	for _, field := range []struct {
		name, value string
	}{
		{"dev.assetWaitTimeout", c.Dev.AssetWaitTimeout},
		{"dev.readyTimeout", c.Dev.ReadyTimeout},
		{"dev.forwardTimeout", c.Dev.ForwardTimeout},
	} {
		if field.value == "" {
			continue
		}
		d, err := time.ParseDuration(field.value)
		if err != nil || d < 0 {
			return errors.New("E122").
				WithDetailf("%s must be a non-negative duration like \"30s\", got %q", field.name, field.value)
		}
	}
	if h := c.Server.HTTPS; h != nil && (h.CertFile == "") != (h.KeyFile == "") {
		return errors.New("E122").
			WithDetail("server.https needs both certFile and keyFile")
	}
	for _, p := range c.Platforms {
		if !ValidPlatformName(p) {
			return errors.New("E122").
				WithDetailf("platform names may only hold letters, digits, '_' and '-', got %q", p)
		}
	}
	return nil
}

// Address returns the host:port the server listens on.
func (c *Config) Address() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.Port)
}

// URL returns the base URL of the dev server.
func (c *Config) URL() string {
	if c.Server.TLSEnabled() {
		return "https://" + c.Address()
	}
	return "http://" + c.Address()
}

// AllowsPlatform reports whether name is an accepted platform. An empty
// platform list accepts any valid name.
func (c *Config) AllowsPlatform(name string) bool {
	if !ValidPlatformName(name) {
		return false
	}
	return len(c.Platforms) == 0 || slices.Contains(c.Platforms, name)
}

// KnownPlatforms returns the configured platforms, or DefaultPlatforms when
// none are configured.
func (c *Config) KnownPlatforms() []string {
	if len(c.Platforms) == 0 {
		return DefaultPlatforms
	}
	return c.Platforms
}

// OutputPath returns the absolute output directory for a platform.
func (c *Config) OutputPath(platform string) string {
	dir := c.Engine.OutputDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(c.Root, dir)
	}
	return filepath.Join(dir, platform)
}

// AssetWaitTimeout returns the parsed dev.assetWaitTimeout; zero means no limit.
func (c *Config) AssetWaitTimeout() time.Duration {
	return parseDuration(c.Dev.AssetWaitTimeout, 0)
}

// ReadyTimeout returns the parsed dev.readyTimeout.
func (c *Config) ReadyTimeout() time.Duration {
	return parseDuration(c.Dev.ReadyTimeout, 10*time.Second)
}

// ForwardTimeout returns the parsed dev.forwardTimeout.
func (c *Config) ForwardTimeout() time.Duration {
	return parseDuration(c.Dev.ForwardTimeout, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
