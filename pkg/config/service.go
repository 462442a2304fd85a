package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/NotCoffee418/obis_meter_reader/pkg/meter"
	"github.com/NotCoffee418/obis_meter_reader/pkg/pathing"
)

var (
	ActiveReaderConfig    *ReaderConfig
	ActiveCollectorConfig *CollectorConfig
)

func DefaultReaderConfig() *ReaderConfig {
	return &ReaderConfig{
		ListenAddress: "0.0.0.0",
		ListenPort:    9039,
		LogLevel:      "info",
		Devices: []DeviceConfig{{
			ID:             "meter1",
			Port:           "/dev/ttyUSB0",
			RefreshSeconds: 30,
			Baudrate:       meter.BaudRateAuto,
			ProtocolMode:   "SML",
			Conformity:     "none",
		}},
	}
}

func DefaultCollectorConfig() *CollectorConfig {
	return &CollectorConfig{
		ReaderHost:    "localhost:9039",
		TLSEnabled:    false,
		DatabasePath:  pathing.GetReadingDbPath(),
		RetentionDays: 90,
	}
}

func LoadReaderConfig() error {
	cfg, err := LoadReaderConfigFrom(pathing.GetReaderConfigPath())
	if err != nil {
		return err
	}
	ActiveReaderConfig = cfg
	return nil
}

// LoadReaderConfigFrom reads path, writing the defaults there first when the
// file does not exist.
func LoadReaderConfigFrom(path string) (*ReaderConfig, error) {
	cfg := DefaultReaderConfig()
	// the example device must not leak into configured ones
	if err := loadOrCreate(path, cfg, func() { cfg.Devices = nil }); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func LoadCollectorConfig() error {
	cfg, err := LoadCollectorConfigFrom(pathing.GetCollectorConfigPath())
	if err != nil {
		return err
	}
	ActiveCollectorConfig = cfg
	return nil
}

func LoadCollectorConfigFrom(path string) (*CollectorConfig, error) {
	cfg := DefaultCollectorConfig()
	if err := loadOrCreate(path, cfg, nil); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadOrCreate(path string, cfg any, beforeDecode func()) error {
	// Create default if not exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		cfgFile, err := os.Create(path)
		if err != nil {
			return err
		}
		defer cfgFile.Close()
		return toml.NewEncoder(cfgFile).Encode(cfg)
	}

	// Load existing config over the defaults
	if beforeDecode != nil {
		beforeDecode()
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Validate checks what can be checked without building the devices.
func (c *ReaderConfig) Validate() error {
	if len(c.Devices) == 0 {
		return ErrNoDevices
	}
	var errs []error
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		switch {
		case d.ID == "":
			errs = append(errs, fmt.Errorf("device %d: %w", i, ErrDeviceID))
		case seen[d.ID]:
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateID, d.ID))
		}
		seen[d.ID] = true
	}
	return errors.Join(errs...)
}

// MeterConfig converts the table into the device configuration.
func (d DeviceConfig) MeterConfig() meter.Config {
	refresh := time.Duration(d.RefreshSeconds) * time.Second
	if refresh <= 0 {
		refresh = meter.DefaultRefresh
	}
	return meter.Config{
		ID:                  d.ID,
		Port:                d.Port,
		Refresh:             refresh,
		BaudRate:            d.Baudrate,
		BaudRateChangeDelay: time.Duration(d.BaudrateChangeDelayMs) * time.Millisecond,
		InitMessage:         d.InitMessage,
		Mode:                d.ProtocolMode,
		Conformity:          d.Conformity,
		Negate:              d.Negate,
		ProbeHost:           d.ProbeHost,
	}
}
