package pathing

import (
	"os"
	"path/filepath"
)

const (
	envConfigDir = "OMR_CONFIG_DIR"
	envDataDir   = "OMR_DATA_DIR"
)

// EnsureDirs creates the data and config directories.
func EnsureDirs() error {
	dirs := []string{
		GetConfigDir(),
		GetDataDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func GetReadingDbPath() string {
	return filepath.Join(GetDataDir(), "readings.db")
}

func GetReaderConfigPath() string {
	return filepath.Join(GetConfigDir(), "meterreader.toml")
}

func GetCollectorConfigPath() string {
	return filepath.Join(GetConfigDir(), "meter_collector.toml")
}

func GetDataDir() string {
	if dir := os.Getenv(envDataDir); dir != "" {
		return dir
	}
	return "/var/lib/obis_meter_reader"
}

func GetConfigDir() string {
	if dir := os.Getenv(envConfigDir); dir != "" {
		return dir
	}
	return "/etc/obis_meter_reader"
}
