package config

import "time"

// Default returns a Config with the values from §6's defaults table.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			IP:                       "0.0.0.0",
			Port:                     7890,
			Transport:                TransportTCP,
			WebSocketPath:            "/dmq",
			MaxConnections:           1000,
			ListenerBacklog:          100,
			SendAndReceiveBufferSize: 16 * 1024,
			FrameBufferSize:          16 * 1024,
			SendTimeout:              Duration(5000 * time.Millisecond),
			ConnectionTimeout:        Duration(60000 * time.Millisecond),
		},
		Session: SessionConfig{
			PingFrequency:       Duration(0),
			PingTimeout:         Duration(0),
			MaxReadWriteWorkers: 20,
		},
		Workers: WorkerConfig{
			InitialReadWorkers: 4,
			EnableSupervisor:   true,
		},
		Auth: AuthConfig{
			RequireAuthentication: false,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Addr:    "127.0.0.1:9090",
		},
	}
}
