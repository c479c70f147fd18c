package config

import (
	"path/filepath"
	"time"
)

// DefaultIndexFields are indexed when the config names none.
var DefaultIndexFields = []IndexField{FieldName, FieldAccount, FieldCity}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: ".vaultsearch",
		Server: ServerConfig{
			Port:           8080,
			RequestTimeout: 60 * time.Second,
		},
		Keys: KeysConfig{
			File:   filepath.Join(".vaultsearch", "keys.yml"),
			Locked: true,
		},
		Search: SearchConfig{
			ResultCap: 50,
		},
		Index: IndexConfig{
			Fields: append([]IndexField(nil), DefaultIndexFields...),
		},
		Ingest: IngestConfig{
			Workers:   2,
			QueueSize: 16,
		},
		Log: LogConfig{
			Level:  "info",
			Format: LogFormatText,
		},
	}
}

// DatabasePath returns the SQLite file inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "vaultsearch.db")
}
