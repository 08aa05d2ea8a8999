package config

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/vango-dev/devpack/internal/errors"
)

// Environment keys shared by the server process and spawned build workers.
const (
	// WorkerEnvKey is set to "1" in every spawned platform worker.
	WorkerEnvKey = "DEVPACK_WORKER"

	// VerboseEnvKey enables debug logging in a worker.
	VerboseEnvKey = "DEVPACK_VERBOSE"

	// OptionsEnvKey carries the JSON-encoded WorkerOptions.
	OptionsEnvKey = "DEVPACK_OPTIONS"
)

// WorkerOptions describes the build a spawned worker should run.
type WorkerOptions struct {
	Root      string            `json:"root"`
	Entry     string            `json:"entry"`
	Platform  string            `json:"platform"`
	Port      int               `json:"port"`
	OutputDir string            `json:"outputDir"`
	Verbose   bool              `json:"verbose,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// WorkerOptions builds the options blob for one platform's worker.
func (c *Config) WorkerOptions(platform string, port int) WorkerOptions {
	return WorkerOptions{
		Root:      c.Root,
		Entry:     c.Entry,
		Platform:  platform,
		Port:      port,
		OutputDir: c.OutputPath(platform),
		Verbose:   c.Dev.Verbose,
	}
}

// Environ returns the KEY=value pairs a worker process needs.
func (o WorkerOptions) Environ() ([]string, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, errors.New("E120").Wrap(err)
	}
	return []string{
		WorkerEnvKey + "=1",
		VerboseEnvKey + "=" + strconv.FormatBool(o.Verbose),
		OptionsEnvKey + "=" + string(data),
	}, nil
}

// IsWorker reports whether the current process was spawned as a platform worker.
func IsWorker() bool {
	v, _ := strconv.ParseBool(os.Getenv(WorkerEnvKey))
	return v
}

// VerboseFromEnv reports whether the verbosity flag is set.
func VerboseFromEnv() bool {
	v, _ := strconv.ParseBool(os.Getenv(VerboseEnvKey))
	return v
}

// WorkerOptionsFromEnv decodes the options blob passed by the server process.
func WorkerOptionsFromEnv() (WorkerOptions, error) {
	var opts WorkerOptions
	raw := os.Getenv(OptionsEnvKey)
	if raw == "" {
		return opts, errors.New("E122").WithDetail(OptionsEnvKey + " is not set")
	}
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return opts, errors.New("E120").
			WithDetail("Failed to decode " + OptionsEnvKey).
			Wrap(err)
	}
	if opts.Platform == "" {
		return opts, errors.New("E122").WithDetail(OptionsEnvKey + " has no platform")
	}
	return opts, nil
}
