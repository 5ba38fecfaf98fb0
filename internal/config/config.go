package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer         string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience       string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	NodeID            int64         `mapstructure:"node_id" yaml:"node_id"`
	HeartbeatMin      time.Duration `mapstructure:"heartbeat_min" yaml:"heartbeat_min"`
	HeartbeatMax      time.Duration `mapstructure:"heartbeat_max" yaml:"heartbeat_max"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		DatabasePath:      "boiler.db",
		JWTIssuer:         "boiler",
		JWTAudience:       "boiler-gateway",
		NodeID:            1,
		HeartbeatMin:      5 * time.Second,
		HeartbeatMax:      2 * time.Minute,
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
	}
}
