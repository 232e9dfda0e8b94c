// Package config loads daemon configuration from YAML with env-overridable path.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in the daemon's external interface.
type Config struct {
	// Identity
	Version string `yaml:"version"`

	// Database
	Database DatabaseConfig `yaml:"database"`

	// Pacing
	Microsleep float64 `yaml:"microsleep"` // seconds, default 0.2

	// Registry limits
	MaxPlayers  int `yaml:"max_players"`  // default 32
	Timeout     int `yaml:"timeout"`      // seconds, remote-server eviction, default 40
	MaxServers  int `yaml:"max_servers"`  // per-IP cap, default 2

	// TLS material for the admin port (10059). Empty CertFile disables the port.
	CertFile    string `yaml:"cert_file"`
	CertChain   string `yaml:"cert_chain"`
	CertKey     string `yaml:"cert_key"`
	ClientCert  string `yaml:"client_cert"`
	ClientKey   string `yaml:"client_key"`

	// Rate limiter
	TicksMax    float64 `yaml:"ticks_max"`     // default 10
	TicksDecay  float64 `yaml:"ticks_decay"`   // tokens/sec, default 2
	TicksMaxAge int     `yaml:"ticks_max_age"` // seconds, default 86400

	// Webhooks (structured alert sinks, >=WARNING)
	WebhookSlack   string `yaml:"webhook_slack"`
	WebhookDiscord string `yaml:"webhook_discord"`

	// Bind addresses
	BindAddress string `yaml:"bind_address"`

	// Ports
	Ports PortsConfig `yaml:"ports"`

	LogLevel string `yaml:"log_level"`
}

// PortsConfig names the seven well-known ports from spec §4.5/§6.
type PortsConfig struct {
	BinaryList  int `yaml:"binary_list"`  // 10053
	LiveServer  int `yaml:"live_server"`  // 10054
	Stats       int `yaml:"stats"`        // 10055
	Mirror      int `yaml:"mirror"`       // 10056
	AsciiList   int `yaml:"ascii_list"`   // 10057
	Motd        int `yaml:"motd"`         // 10058
	Admin       int `yaml:"admin"`        // 10059
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// Default returns a Config with the defaults named throughout spec.md §6.
func Default() Config {
	return Config{
		Version:     "1.24",
		Microsleep:  0.2,
		MaxPlayers:  32,
		Timeout:     40,
		MaxServers:  2,
		TicksMax:    10,
		TicksDecay:  2,
		TicksMaxAge: 86400,
		BindAddress: "0.0.0.0",
		LogLevel:    "info",
		Database: DatabaseConfig{
			Host:    "127.0.0.1",
			Port:    5432,
			User:    "j2lsd",
			Password: "j2lsd",
			DBName:  "j2lsd",
			SSLMode: "disable",
		},
		Ports: PortsConfig{
			BinaryList: 10053,
			LiveServer: 10054,
			Stats:      10055,
			Mirror:     10056,
			AsciiList:  10057,
			Motd:       10058,
			Admin:      10059,
		},
	}
}

// Load reads a YAML config file, layering it over Default(). A missing file is
// not an error: the daemon runs on defaults alone.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// TLSEnabled reports whether enough material is present to start the admin port.
func (c Config) TLSEnabled() bool {
	return c.CertFile != "" && c.CertKey != "" && c.CertChain != ""
}
