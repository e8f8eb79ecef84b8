package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"sigs.k8s.io/yaml"

	"github.com/alexandremahdhaoui/xenmachinery/internal/util/logging"
	"github.com/alexandremahdhaoui/xenmachinery/internal/util/tlsutil"
	"github.com/alexandremahdhaoui/xenmachinery/pkg/machinery"
	"github.com/alexandremahdhaoui/xenmachinery/pkg/xenserver"
)

const (
	// ConfigPathEnvKey is the environment variable key for the config file path.
	ConfigPathEnvKey = "XENMACHINERY_CONFIG_PATH"
	// PasswordEnvKey overrides xenserver.password when set.
	PasswordEnvKey = "XENMACHINERY_PASSWORD"
)

var errConfigPathUnset = errors.New("config path is not set")

// resolveConfigPath returns flagValue, or the path held by ConfigPathEnvKey.
func resolveConfigPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}

	if p := os.Getenv(ConfigPathEnvKey); p != "" {
		return p, nil
	}

	return "", fmt.Errorf("%w: use --config or set %q", errConfigPathUnset, ConfigPathEnvKey)
}

// loadConfig reads the configuration file at path. Files ending in ".toml"
// are parsed as TOML, anything else as YAML.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := &Config{}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing toml config: %w", err)
		}
	} else {
		// Parse YAML (uses json tags)
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if p := os.Getenv(PasswordEnvKey); p != "" {
		config.XenServer.Password = p
	}

	config.setDefaults()

	return config, nil
}

// Config is used to configure the xenmachinery binary.
//
// Some part of the configuration may be passed through environment variables.
type Config struct {
	// XenServer holds the pool master connection settings.
	XenServer struct {
		URL                  string `json:"url" toml:"url"`
		Username             string `json:"username" toml:"username"`
		Password             string `json:"password" toml:"password"`
		CAPath               string `json:"caPath" toml:"caPath"`
		InsecureSkipVerify   bool   `json:"insecureSkipVerify" toml:"insecureSkipVerify"`
		PowerOffOnInitialize bool   `json:"powerOffOnInitialize" toml:"powerOffOnInitialize"`
	} `json:"xenserver" toml:"xenserver"`

	// Machines is the list of analysis machines and their clean snapshots.
	Machines []machinery.Machine `json:"machines" toml:"machines"`

	Logging struct {
		Development bool `json:"development" toml:"development"`
		// Level is one of debug, info, warn, error.
		Level string `json:"level" toml:"level"`
	} `json:"logging" toml:"logging"`

	// Server is the configuration for the control API server.
	Server struct {
		Port int `json:"port" toml:"port"`

		TLS struct {
			Enabled bool `json:"enabled" toml:"enabled"`
			// ClientAuth is one of none, request, require.
			ClientAuth string `json:"clientAuth" toml:"clientAuth"`
			CertPath   string `json:"certPath" toml:"certPath"`
			KeyPath    string `json:"keyPath" toml:"keyPath"`
			CAPath     string `json:"caPath" toml:"caPath"`
		} `json:"tls" toml:"tls"`

		BasicAuth struct {
			Username string `json:"username" toml:"username"`
			// PasswordHash is a bcrypt hash of the password.
			PasswordHash string `json:"passwordHash" toml:"passwordHash"`
		} `json:"basicAuth" toml:"basicAuth"`
	} `json:"server" toml:"server"`

	// ProbesServer is the configuration for the probes server.
	ProbesServer struct {
		// LivenessPath is the path for the liveness probe.
		LivenessPath string `json:"livenessPath" toml:"livenessPath"`
		// ReadinessPath is the path for the readiness probe.
		ReadinessPath string `json:"readinessPath" toml:"readinessPath"`
		// Port is the port for the probes server.
		Port int `json:"port" toml:"port"`
	} `json:"probesServer" toml:"probesServer"`

	// MetricsServer is the configuration for the metrics server.
	MetricsServer struct {
		// Path is the path for the metrics server.
		Path string `json:"path" toml:"path"`
		// Port is the port for the metrics server.
		Port int `json:"port" toml:"port"`
	} `json:"metricsServer" toml:"metricsServer"`
}

func (c *Config) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.ProbesServer.Port == 0 {
		c.ProbesServer.Port = 8081
	}
	if c.ProbesServer.LivenessPath == "" {
		c.ProbesServer.LivenessPath = "/healthz"
	}
	if c.ProbesServer.ReadinessPath == "" {
		c.ProbesServer.ReadinessPath = "/readyz"
	}
	if c.MetricsServer.Port == 0 {
		c.MetricsServer.Port = 9090
	}
	if c.MetricsServer.Path == "" {
		c.MetricsServer.Path = "/metrics"
	}
}

// basicAuthEnabled reports whether the control API requires credentials.
func (c *Config) basicAuthEnabled() bool {
	return c.Server.BasicAuth.Username != "" || c.Server.BasicAuth.PasswordHash != ""
}

func (c *Config) serverTLSConfig() *tlsutil.Config {
	return &tlsutil.Config{
		Enabled:    c.Server.TLS.Enabled,
		ClientAuth: c.Server.TLS.ClientAuth,
		CertPath:   c.Server.TLS.CertPath,
		KeyPath:    c.Server.TLS.KeyPath,
		CAPath:     c.Server.TLS.CAPath,
	}
}

func (c *Config) loggingOptions() (logging.Options, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.Options{}, err
	}

	opts := logging.DefaultOptions()
	opts.Development = c.Logging.Development
	opts.Level = level
	// stdout carries command output.
	opts.Output = os.Stderr

	return opts, nil
}

func (c *Config) backendConfig() xenserver.Config {
	return xenserver.Config{
		URL:                  c.XenServer.URL,
		Username:             c.XenServer.Username,
		Password:             c.XenServer.Password,
		PowerOffOnInitialize: c.XenServer.PowerOffOnInitialize,
	}
}

// warnNonUUIDLabels logs every machine label that is not a XenServer UUID.
// Such labels are kept: the pool decides whether they exist.
func warnNonUUIDLabels(ctx context.Context, machines []machinery.Machine) {
	for _, m := range machines {
		if err := uuid.Validate(m.Label); err != nil {
			slog.WarnContext(ctx, "machine label is not a UUID", "machine", m.Label, "name", m.Name)
		}
		if err := uuid.Validate(m.Snapshot); err != nil {
			slog.WarnContext(ctx, "machine snapshot is not a UUID", "machine", m.Label, "snapshot", m.Snapshot)
		}
	}
}
