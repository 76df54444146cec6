package config

import (
	"time"
)

type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Enum      EnumConfig      `mapstructure:"enum"`
}

type LoggerConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	ExporterType string  `mapstructure:"exporter_type"`
	Endpoint     string  `mapstructure:"endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// EnumConfig drives the two-stage enumeration pipeline and its process
// supervision.
type EnumConfig struct {
	OutputDir    string `mapstructure:"output_dir"`
	ConfigDir    string `mapstructure:"config_dir"`
	PortScanType string `mapstructure:"port_scan_type"`
	NmapExtra    string `mapstructure:"nmap_extra"`
	Ports        string `mapstructure:"ports"`

	// Parallel fans secondary scans out as concurrent goroutines instead of
	// running them on the caller's path.
	Parallel bool `mapstructure:"parallel"`
	Sudo     bool `mapstructure:"sudo"`

	CommandTimeout    time.Duration `mapstructure:"command_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	RetryMax          int           `mapstructure:"retry_max"`

	// Spawn rate limiting keeps parallel mode from stampeding the target.
	SpawnsPerSecond float64 `mapstructure:"spawns_per_second"`
	SpawnBurst      int     `mapstructure:"spawn_burst"`
}

func DefaultConfig() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stdout"},
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			DSN:             "",
			MaxConnections:  10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 1 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "artemis",
			ExporterType: "otlp",
			Endpoint:     "localhost:4318",
			SampleRate:   1.0,
		},
		Enum: EnumConfig{
			PortScanType:      "default",
			NmapExtra:         "-Pn",
			Ports:             "80",
			Parallel:          true,
			Sudo:              true,
			CommandTimeout:    30 * time.Minute,
			HeartbeatInterval: 30 * time.Second,
			RetryMax:          2,
			SpawnsPerSecond:   5,
			SpawnBurst:        10,
		},
	}
}
