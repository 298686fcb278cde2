package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ConfigFileEnv names the environment variable that points at an explicit config file.
const ConfigFileEnv = "LIVECODE_CONFIG_FILE"

// Config represents the application configuration
type Config struct {
	Server   ServerConfig       `mapstructure:"server"`
	Sandbox  SandboxConfig      `mapstructure:"sandbox"`
	Logging  LoggingConfig      `mapstructure:"logging"`
	Runtimes map[string]Runtime `mapstructure:"runtimes"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// SandboxConfig holds sandbox configuration
type SandboxConfig struct {
	Backend            string `mapstructure:"backend"`
	EnableLocalBackend bool   `mapstructure:"enable_local_backend"`
	DockerHost         string `mapstructure:"docker_host"`
	PodmanSocket       string `mapstructure:"podman_socket"`
	TimeoutSec         int    `mapstructure:"timeout_sec"`
	MemoryMB           int    `mapstructure:"memory_mb"`
	CPUQuota           int64  `mapstructure:"cpu_quota"`
	CPUPeriod          int64  `mapstructure:"cpu_period"`
	NetworkEnabled     bool   `mapstructure:"network_enabled"`
	PullImages         bool   `mapstructure:"pull_images"`
	WorkspaceRoot      string `mapstructure:"workspace_root"`
	MaxLineLength      int    `mapstructure:"max_line_length"`
	Sentinel           string `mapstructure:"sentinel"`
	MessageBuffer      int    `mapstructure:"message_buffer"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// Runtime describes how one language runtime is launched.
// Environment entries are KEY=VALUE strings; viper lowercases map keys, so a
// map would mangle variable names.
type Runtime struct {
	Image        string   `mapstructure:"image"`
	Command      []string `mapstructure:"command"`
	CodeFilename string   `mapstructure:"code_filename"`
	Environment  []string `mapstructure:"environment"`
}

// New loads and validates the application configuration.
// An explicit file may be named through LIVECODE_CONFIG_FILE; otherwise
// config.yaml is looked up in the working directory and ./config.
func New() (*Config, error) {
	return Load(os.Getenv(ConfigFileEnv))
}

// Load reads the configuration from path, or searches the default locations
// when path is empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("LIVECODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "livecode")
	v.SetDefault("server.http_port", 8080)

	v.SetDefault("sandbox.backend", "docker")
	v.SetDefault("sandbox.enable_local_backend", false)
	v.SetDefault("sandbox.docker_host", "")
	v.SetDefault("sandbox.podman_socket", "unix:///run/podman/podman.sock")
	v.SetDefault("sandbox.timeout_sec", 10)
	v.SetDefault("sandbox.memory_mb", 100)
	v.SetDefault("sandbox.cpu_quota", 10000)
	v.SetDefault("sandbox.cpu_period", 100000)
	v.SetDefault("sandbox.network_enabled", false)
	v.SetDefault("sandbox.pull_images", false)
	v.SetDefault("sandbox.workspace_root", "")
	v.SetDefault("sandbox.max_line_length", 1000000)
	v.SetDefault("sandbox.sentinel", "--MSG--")
	v.SetDefault("sandbox.message_buffer", 64)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	for name, rt := range DefaultRuntimes() {
		v.SetDefault("runtimes."+name+".image", rt.Image)
		v.SetDefault("runtimes."+name+".command", rt.Command)
		v.SetDefault("runtimes."+name+".code_filename", rt.CodeFilename)
		v.SetDefault("runtimes."+name+".environment", rt.Environment)
	}
}

// DefaultRuntimes returns the runtimes available without any config file.
func DefaultRuntimes() map[string]Runtime {
	return map[string]Runtime{
		"python": {
			Image:        "fossunited/falcon-python:3.9",
			Command:      []string{"python", "main.py"},
			CodeFilename: "main.py",
		},
		"python-canvas": {
			Image:        "livecode-python-canvas",
			Command:      []string{"python", "/opt/startup.py"},
			CodeFilename: "main.py",
		},
		"javascript": {
			Image:        "frappe/falcon-javascript:latest",
			Command:      []string{"node", "main.js"},
			CodeFilename: "main.js",
		},
		"golang": {
			Image:        "fossunited/falcon-golang",
			Command:      []string{"go", "run", "main.go"},
			CodeFilename: "main.go",
			Environment:  []string{"GOCACHE=/tmp/gocache"},
		},
		"rust": {
			Image:        "fossunited/falcon-rust",
			Command:      []string{"sh", "-c", "rustc -o /tmp/main main.rs && /tmp/main"},
			CodeFilename: "main.rs",
		},
	}
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	switch c.Server.Transport {
	case "stdio", "http", "livecode":
	default:
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio', 'http' or 'livecode'", c.Server.Transport)
	}

	if c.Server.Transport != "stdio" && (c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535) {
		return fmt.Errorf("server.http_port out of range: %d", c.Server.HTTPPort)
	}

	if c.Sandbox.TimeoutSec < 0 {
		return fmt.Errorf("sandbox.timeout_sec must not be negative, got: %d", c.Sandbox.TimeoutSec)
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Sandbox.CPUPeriod <= 0 || c.Sandbox.CPUQuota <= 0 {
		return fmt.Errorf("sandbox.cpu_quota and sandbox.cpu_period must be positive, got: %d/%d",
			c.Sandbox.CPUQuota, c.Sandbox.CPUPeriod)
	}

	if c.Sandbox.MaxLineLength <= 0 {
		return fmt.Errorf("sandbox.max_line_length must be positive, got: %d", c.Sandbox.MaxLineLength)
	}

	if c.Sandbox.Sentinel == "" {
		return fmt.Errorf("sandbox.sentinel must not be empty")
	}

	if c.Sandbox.MessageBuffer < 0 {
		return fmt.Errorf("sandbox.message_buffer must not be negative, got: %d", c.Sandbox.MessageBuffer)
	}

	supportedBackends := map[string]bool{
		"docker": true,
		"podman": true,
		"local":  c.Sandbox.EnableLocalBackend, // local only enabled if specifically allowed
	}

	if !supportedBackends[c.Sandbox.Backend] {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s", c.Logging.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	for name, rt := range c.Runtimes {
		if rt.Image == "" {
			return fmt.Errorf("runtimes.%s.image must not be empty", name)
		}
		if rt.CodeFilename == "" {
			return fmt.Errorf("runtimes.%s.code_filename must not be empty", name)
		}
		for _, kv := range rt.Environment {
			if !strings.Contains(kv, "=") {
				return fmt.Errorf("runtimes.%s.environment entry %q is not KEY=VALUE", name, kv)
			}
		}
	}

	return nil
}

// GetTimeout returns the execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}
