package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete dmq configuration (§6).
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Workers WorkerConfig  `yaml:"workers"`
	Auth    AuthConfig    `yaml:"auth"`
	TLS     TLSConfig     `yaml:"tls"`
	Logging LogConfig     `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// Transport selects the wire-level carrier for a listener.
type Transport string

const (
	TransportTCP       Transport = "tcp"
	TransportQUIC      Transport = "quic"
	TransportWebSocket Transport = "websocket"
)

type ServerConfig struct {
	IP        string    `yaml:"ip"`
	Port      int       `yaml:"port"`
	Transport Transport `yaml:"transport"`
	// WebSocketPath is only consulted when Transport is "websocket".
	WebSocketPath string `yaml:"websocket_path"`

	MaxConnections           int `yaml:"max_connections"`
	ListenerBacklog          int `yaml:"listener_backlog"`
	SendAndReceiveBufferSize int `yaml:"send_and_receive_buffer_size"`
	FrameBufferSize          int `yaml:"frame_buffer_size"`

	SendTimeout       Duration `yaml:"send_timeout"`
	ConnectionTimeout Duration `yaml:"connection_timeout"`
}

// MaxFrameData derives the codec's frame payload ceiling from the
// configured socket buffer (§6: max_frame_data = buffer_size − 3).
func (s ServerConfig) MaxFrameData() int {
	size := s.FrameBufferSize
	if size == 0 {
		size = s.SendAndReceiveBufferSize
	}
	if size <= 3 {
		return size
	}
	return size - 3
}

type SessionConfig struct {
	PingFrequency      Duration `yaml:"ping_frequency"`
	PingTimeout        Duration `yaml:"ping_timeout"`
	MaxReadWriteWorkers int     `yaml:"max_read_write_workers"`
}

type WorkerConfig struct {
	InitialReadWorkers int  `yaml:"initial_read_write_workers"`
	EnableSupervisor   bool `yaml:"enable_supervisor"`
}

type AuthConfig struct {
	RequireAuthentication bool `yaml:"require_authentication"`
}

type TLSConfig struct {
	Enabled bool       `yaml:"enabled"`
	Auto    bool       `yaml:"auto"` // self-signed development certificate
	Cert    string     `yaml:"cert"`
	Key     string     `yaml:"key"`
	ACME    ACMEConfig `yaml:"acme"`
}

type ACMEConfig struct {
	Email    string   `yaml:"email"`
	Domains  []string `yaml:"domains"`
	CacheDir string   `yaml:"cache_dir"`
	Staging  bool     `yaml:"staging"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Addr    string `yaml:"addr"`
}

// Duration is a time.Duration that supports YAML string unmarshaling,
// e.g. "5s" or "60000ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads config from a YAML file, applying defaults for missing
// values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Server.IP == "" {
		return fmt.Errorf("server.ip is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	switch c.Server.Transport {
	case TransportTCP, TransportQUIC, TransportWebSocket:
	default:
		return fmt.Errorf("server.transport must be tcp, quic, or websocket, got %q", c.Server.Transport)
	}
	if c.Server.Transport == TransportWebSocket && c.Server.WebSocketPath == "" {
		return fmt.Errorf("server.websocket_path is required when transport is websocket")
	}
	if c.Server.MaxConnections < 1 {
		return fmt.Errorf("server.max_connections must be >= 1, got %d", c.Server.MaxConnections)
	}
	if c.Server.SendAndReceiveBufferSize < 4 {
		return fmt.Errorf("server.send_and_receive_buffer_size must be >= 4, got %d", c.Server.SendAndReceiveBufferSize)
	}
	if c.Session.MaxReadWriteWorkers < 1 {
		return fmt.Errorf("session.max_read_write_workers must be >= 1, got %d", c.Session.MaxReadWriteWorkers)
	}
	if c.Workers.InitialReadWorkers < 0 || c.Workers.InitialReadWorkers > c.Session.MaxReadWriteWorkers {
		return fmt.Errorf("workers.initial_read_write_workers must be between 0 and max_read_write_workers")
	}
	if (c.TLS.Enabled && !c.TLS.Auto) && (c.TLS.Cert == "" || c.TLS.Key == "") && c.TLS.ACME.Email == "" {
		return fmt.Errorf("tls.enabled requires tls.auto, tls.cert/tls.key, or tls.acme.email")
	}
	return nil
}
