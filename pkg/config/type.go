package config

import "errors"

var (
	ErrNoDevices   = errors.New("no [[device]] configured")
	ErrDeviceID    = errors.New("device id missing")
	ErrDuplicateID = errors.New("duplicate device id")
)

type CollectorConfig struct {
	ReaderHost    string `toml:"reader_host"`
	TLSEnabled    bool   `toml:"tls_enabled"`
	DatabasePath  string `toml:"database_path"`
	RetentionDays int    `toml:"retention_days"`
}

type ReaderConfig struct {
	ListenAddress string         `toml:"listen_address"`
	ListenPort    int            `toml:"listen_port"`
	LogLevel      string         `toml:"log_level"`
	Devices       []DeviceConfig `toml:"device"`
}

// DeviceConfig is one [[device]] table.
type DeviceConfig struct {
	ID string `toml:"id"`
	// Local device path or rfc2217://host:port
	Port                  string `toml:"port"`
	RefreshSeconds        int    `toml:"refresh_seconds"`
	Baudrate              string `toml:"baudrate"`
	BaudrateChangeDelayMs int    `toml:"baudrate_change_delay_ms"`
	// Hex, sent before every readout
	InitMessage  string `toml:"init_message"`
	ProtocolMode string `toml:"protocol_mode"`
	// "none" or "edl_fnn"
	Conformity string `toml:"conformity"`
	// "<obis>:<bit>:<0|1>[:status]"
	Negate    []string `toml:"negate"`
	ProbeHost bool     `toml:"probe_host"`
}
