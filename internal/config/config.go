package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
)

// Config represents the application configuration.
type Config struct {
	Settings Settings       `yaml:"settings"`
	Devices  []DeviceConfig `yaml:"devices"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Journal  JournalConfig  `yaml:"journal"`
	NATS     NATSConfig     `yaml:"nats"`
	Retry    RetryConfig    `yaml:"retry"`
}

// Settings holds process-wide defaults shared by every device connection.
type Settings struct {
	HeartbeatInterval       time.Duration `yaml:"heartbeat_interval"`
	RequestTimeout          time.Duration `yaml:"request_timeout"`
	UseInstalledCertificate bool          `yaml:"use_installed_certificate"`
	RequireCertificate      bool          `yaml:"require_certificate"`
	AutoReconnect           *bool         `yaml:"auto_reconnect,omitempty"` // connect configured devices on startup
	DefaultSSID             string        `yaml:"default_ssid,omitempty"`
	DefaultNetworkKey       string        `yaml:"default_network_key,omitempty"`
	DefaultUsername         string        `yaml:"default_username,omitempty"`
	DefaultPassword         string        `yaml:"default_password,omitempty"`
	TerminateSkip           []string      `yaml:"terminate_skip,omitempty"`
	BroadcastConcurrency    int           `yaml:"broadcast_concurrency"`
}

// DeviceConfig describes one managed device.
type DeviceConfig struct {
	Name                    string `yaml:"name"`
	Address                 string `yaml:"address"`
	Desktop                 bool   `yaml:"desktop,omitempty"`
	DeployName              bool   `yaml:"deploy_name,omitempty"`
	Username                string `yaml:"username,omitempty"`
	Password                string `yaml:"password,omitempty"`
	SSID                    string `yaml:"ssid,omitempty"`
	NetworkKey              string `yaml:"network_key,omitempty"`
	UpdateConnection        bool   `yaml:"update_connection,omitempty"`
	UseInstalledCertificate *bool  `yaml:"use_installed_certificate,omitempty"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// MetricsConfig controls the Prometheus/health HTTP listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// JournalConfig controls the sqlite device event journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// NATSConfig controls publishing device events to JetStream.
type NATSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Subject  string `yaml:"subject"`
	KVBucket string `yaml:"kv_bucket"`
}

// RetryConfig drives reconnect backoff of the portal event stream.
type RetryConfig struct {
	Mode       RetryBackoffMode `yaml:"mode"`
	Initial    time.Duration    `yaml:"initial"`
	Max        time.Duration    `yaml:"max"`
	MaxRetries int              `yaml:"max_retries"`
}

// Load reads, expands, defaults and validates the configuration file.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.ConfigError("configuration file not found").
				WithContext("path", configPath).Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to read config file").
			WithContext("path", configPath).Build()
	}
	return Parse(data)
}

// Parse decodes YAML content, applying ${ENV} expansion, defaults and validation.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to unmarshal config").Build()
	}
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied and no devices.
func Default() *Config {
	cfg := &Config{}
	_ = applyDefaults(cfg)
	return cfg
}

// ResolveDevice fills unset per-device credentials and network settings from Settings.
func (c *Config) ResolveDevice(d DeviceConfig) DeviceConfig {
	if d.Name == "" {
		d.Name = d.Address
	}
	if d.Username == "" {
		d.Username = c.Settings.DefaultUsername
	}
	if d.Password == "" {
		d.Password = c.Settings.DefaultPassword
	}
	if d.SSID == "" {
		d.SSID = c.Settings.DefaultSSID
		if d.NetworkKey == "" {
			d.NetworkKey = c.Settings.DefaultNetworkKey
		}
	}
	if d.UseInstalledCertificate == nil {
		v := c.Settings.UseInstalledCertificate
		d.UseInstalledCertificate = &v
	}
	return d
}

// Device looks up a configured device by name or address.
func (c *Config) Device(nameOrAddress string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.Name == nameOrAddress || d.Address == nameOrAddress {
			return c.ResolveDevice(d), true
		}
	}
	return DeviceConfig{}, false
}

// ShouldAutoReconnect reports whether `run` connects every device at startup.
func (s Settings) ShouldAutoReconnect() bool {
	return s.AutoReconnect == nil || *s.AutoReconnect
}

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return ferrors.ConfigError("configuration file already exists (use --force to overwrite)").
			WithContext("path", configPath).Build()
	}
	if err := os.WriteFile(configPath, []byte(exampleConfig), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

const exampleConfig = `# holocommander configuration
settings:
  heartbeat_interval: 15s
  request_timeout: 30s
  use_installed_certificate: false
  require_certificate: false
  default_username: ${HOLO_USERNAME}
  default_password: ${HOLO_PASSWORD}
  broadcast_concurrency: 4

devices:
  - name: lab-01
    address: 192.168.1.10
    deploy_name: true
  - name: emulator
    address: 127.0.0.1:10080

logging:
  level: info
  format: text

metrics:
  enabled: true
  address: ":9464"

journal:
  enabled: true
  path: holocommander.db

nats:
  enabled: false
  url: nats://127.0.0.1:4222
  subject: holocommander.devices
  kv_bucket: holocommander-status

retry:
  mode: exponential
  initial: 1s
  max: 30s
  max_retries: 5
`
