package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tornflow/tornflow/pkg/errors"
	"github.com/tornflow/tornflow/pkg/json"
)

// RuntimeConfig is the service-level configuration loaded from YAML. It
// covers the ambient concerns; endpoint and credential definitions live
// in their own JSON files per the upstream contract.
type RuntimeConfig struct {
	Logging struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
		Encoding    string `yaml:"encoding"`
	} `yaml:"logging"`

	API struct {
		MinRequestInterval time.Duration `yaml:"min_request_interval"`
		ConnectTimeout     time.Duration `yaml:"connect_timeout"`
		ReadTimeout        time.Duration `yaml:"read_timeout"`
		MaxRetries         int           `yaml:"max_retries"`
		MaxPages           int           `yaml:"max_pages"`
	} `yaml:"api"`

	Sink struct {
		Location   string        `yaml:"location"`
		JobTimeout time.Duration `yaml:"job_timeout"`
	} `yaml:"sink"`

	Scheduler struct {
		Workers int `yaml:"workers"`
	} `yaml:"scheduler"`

	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultRuntimeConfig returns production-ready defaults
func DefaultRuntimeConfig() *RuntimeConfig {
	cfg := &RuntimeConfig{}
	cfg.Logging.Level = "info"
	cfg.Logging.Encoding = "json"
	cfg.API.MinRequestInterval = time.Second
	cfg.API.ConnectTimeout = 10 * time.Second
	cfg.API.ReadTimeout = 30 * time.Second
	cfg.API.MaxRetries = 3
	cfg.API.MaxPages = 100
	cfg.Sink.Location = "US"
	cfg.Sink.JobTimeout = 5 * time.Minute
	cfg.Scheduler.Workers = 4
	return cfg
}

// LoadRuntimeConfig reads a YAML runtime config, substituting ${VAR}
// references from the environment before parsing. Missing file fields
// keep their defaults.
func LoadRuntimeConfig(path string) (*RuntimeConfig, error) {
	cfg := DefaultRuntimeConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator-controlled
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read runtime config")
	}

	content := substituteEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse runtime config")
	}
	return cfg, nil
}

// LoadEndpoints reads and validates the JSON endpoint descriptor file
func LoadEndpoints(path string) ([]*Endpoint, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator-controlled
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read endpoint file")
	}

	var endpoints []*Endpoint
	if err := json.Unmarshal(data, &endpoints); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse endpoint file")
	}

	seen := make(map[string]bool, len(endpoints))
	for _, e := range endpoints {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if seen[e.Name] {
			return nil, errors.Newf(errors.ErrorTypeConfig, "duplicate endpoint %q", e.Name)
		}
		seen[e.Name] = true
	}
	return endpoints, nil
}

// LoadCredentials reads the JSON credential file (name → token map)
func LoadCredentials(path string) (*CredentialStore, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator-controlled
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read credential file")
	}

	var keys map[string]string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse credential file")
	}
	return NewCredentialStore(keys)
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
