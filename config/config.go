// Package config loads the server's YAML configuration via
// github.com/spf13/viper: a tree of server.tcp, server.rtu, slaves,
// web, data, and logging sections bound to Go structs by
// viper.Unmarshal.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// TCPConfig is the TCP listener's settings.
type TCPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// RTUConfig is the serial listener's settings.
type RTUConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	Device   string  `mapstructure:"device"`
	Baud     int     `mapstructure:"baud"`
	DataBits int     `mapstructure:"bytesize"`
	Parity   string  `mapstructure:"parity"`
	StopBits int     `mapstructure:"stopbits"`
	Timeout  float64 `mapstructure:"timeout"`
}

// ServerConfig groups the two transport configs.
type ServerConfig struct {
	TCP TCPConfig `mapstructure:"tcp"`
	RTU RTUConfig `mapstructure:"rtu"`
}

// SlaveConfig describes one slave to initialize at startup.
type SlaveConfig struct {
	ID               int    `mapstructure:"id"`
	Name             string `mapstructure:"name"`
	Coils            int    `mapstructure:"coils"`
	DiscreteInputs   int    `mapstructure:"discrete_inputs"`
	HoldingRegisters int    `mapstructure:"holding_registers"`
	InputRegisters   int    `mapstructure:"input_registers"`
}

// WebAuthConfig gates the management API behind basic auth.
type WebAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// WebConfig is the management interface's settings.
type WebConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Host    string        `mapstructure:"host"`
	Port    int           `mapstructure:"port"`
	Auth    WebAuthConfig `mapstructure:"auth"`
}

// DataConfig controls persistence and the audit trail.
type DataConfig struct {
	AutoSave       bool   `mapstructure:"auto_save"`
	SaveInterval   int    `mapstructure:"save_interval_seconds"`
	DataFilePath   string `mapstructure:"data_file_path"`
	HistoryEnabled bool   `mapstructure:"history_enabled"`
	HistoryMaxSize int    `mapstructure:"history_max_size"`
}

// LoggingConfig is consumed only by the logging package, never the
// core: level, optional rotating file sink, rotation limits.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSize     int    `mapstructure:"max_size"`
	BackupCount int    `mapstructure:"backup_count"`
}

// Config is the complete configuration tree consumed by cmd/server.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Slaves  []SlaveConfig `mapstructure:"slaves"`
	Web     WebConfig     `mapstructure:"web"`
	Data    DataConfig    `mapstructure:"data"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// setDefaults is applied before any file is read so a config file may
// override only the fields it cares about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.tcp.enabled", true)
	v.SetDefault("server.tcp.host", "0.0.0.0")
	v.SetDefault("server.tcp.port", 5020)

	v.SetDefault("server.rtu.enabled", false)
	v.SetDefault("server.rtu.device", "/dev/ttyUSB0")
	v.SetDefault("server.rtu.baud", 9600)
	v.SetDefault("server.rtu.bytesize", 8)
	v.SetDefault("server.rtu.parity", "N")
	v.SetDefault("server.rtu.stopbits", 1)
	v.SetDefault("server.rtu.timeout", 1.0)

	v.SetDefault("web.enabled", true)
	v.SetDefault("web.host", "0.0.0.0")
	v.SetDefault("web.port", 8080)
	v.SetDefault("web.auth.enabled", false)
	v.SetDefault("web.auth.username", "admin")
	v.SetDefault("web.auth.password", "admin")

	v.SetDefault("data.auto_save", true)
	v.SetDefault("data.save_interval_seconds", 60)
	v.SetDefault("data.data_file_path", "modbus_data.json")
	v.SetDefault("data.history_enabled", true)
	v.SetDefault("data.history_max_size", 1000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size", 10*1024*1024)
	v.SetDefault("logging.backup_count", 5)
}

// Default returns the single-slave fallback configuration used when
// no config file is given: one slave, ID 1, default-sized data spaces.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		panic(fmt.Sprintf("config: default config failed to unmarshal: %v", err))
	}
	cfg.Slaves = []SlaveConfig{{ID: 1, Name: "default", Coils: 100, DiscreteInputs: 100, HoldingRegisters: 100, InputRegisters: 100}}
	return cfg
}

// Load reads a YAML config file from path, applying defaults for any
// field the file omits. An empty slaves list falls back to the same
// single default slave as Default().
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if len(cfg.Slaves) == 0 {
		cfg.Slaves = []SlaveConfig{{ID: 1, Name: "default", Coils: 100, DiscreteInputs: 100, HoldingRegisters: 100, InputRegisters: 100}}
	}
	return cfg, nil
}
