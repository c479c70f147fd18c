package config

import "time"

// LogFormat selects the slog handler used by the CLI and server.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IndexField names a plaintext record field that feeds the blind index.
type IndexField string

const (
	FieldName    IndexField = "name"
	FieldAccount IndexField = "account"
	FieldCity    IndexField = "city"
	FieldBank    IndexField = "bank"
	FieldBranch  IndexField = "branch"
)

// Config is the top-level vaultsearch configuration, corresponding to .vaultsearch.yml.
type Config struct {
	DataDir string       `yaml:"data_dir" koanf:"data_dir"`
	Server  ServerConfig `yaml:"server" koanf:"server"`
	Keys    KeysConfig   `yaml:"keys" koanf:"keys"`
	Search  SearchConfig `yaml:"search" koanf:"search"`
	Index   IndexConfig  `yaml:"index" koanf:"index"`
	Ingest  IngestConfig `yaml:"ingest" koanf:"ingest"`
	Log     LogConfig    `yaml:"log" koanf:"log"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Port            int           `yaml:"port" koanf:"port"`
	AllowAllOrigins bool          `yaml:"allow_all_origins" koanf:"allow_all_origins"`
	RequestTimeout  time.Duration `yaml:"request_timeout" koanf:"request_timeout"`
}

// KeysConfig tells the key provider where to find the cipher and index keys.
// Inline hex values win over the key file.
type KeysConfig struct {
	CipherKey string `yaml:"cipher_key,omitempty" koanf:"cipher_key"`
	IndexKey  string `yaml:"index_key,omitempty" koanf:"index_key"`
	File      string `yaml:"file" koanf:"file"`
	Locked    bool   `yaml:"locked" koanf:"locked"`
}

// SearchConfig holds search settings.
type SearchConfig struct {
	ResultCap int `yaml:"result_cap" koanf:"result_cap"`
}

// IndexConfig lists the fields that are blind-indexed at ingestion.
type IndexConfig struct {
	Fields []IndexField `yaml:"fields" koanf:"fields"`
}

// IngestConfig sizes the background ingestion queue.
type IngestConfig struct {
	Workers   int `yaml:"workers" koanf:"workers"`
	QueueSize int `yaml:"queue_size" koanf:"queue_size"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string    `yaml:"level" koanf:"level"`
	Format LogFormat `yaml:"format" koanf:"format"`
}
