package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/tolino-cloud/internal/partner"
	"github.com/florianilch/tolino-cloud/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
	LogFormatOTLP LogFormat = "otlp"
)

// StorageType represents the credential store backends.
type StorageType string

const (
	StorageTypeFile    StorageType = "file"
	StorageTypeKeyring StorageType = "keyring"
	// StorageTypeMemory keeps credentials for the lifetime of the process only.
	StorageTypeMemory StorageType = "memory"
)

// Default configuration values
const (
	DefaultConfigLogFormat      = LogFormatText
	DefaultConfigAccount        = "default"
	DefaultConfigStorageType    = StorageTypeFile
	DefaultConfigKeyringService = "tolino-cloud"
	DefaultConfigHTTPTimeout    = 30 * time.Second
	DefaultConfigUploadWorkers  = 4
)

// StorageConfig describes where credentials are persisted.
type StorageConfig struct {
	Type StorageType `json:"type" validate:"required,oneof=file keyring memory"`

	// Dir holds one record per account for file storage.
	Dir string `json:"dir,omitempty"`
	// KeyringService is the service name of keyring entries.
	KeyringService string `json:"keyring_service,omitempty"`
}

// NewStore creates the credential store described by the configuration.
func (s *StorageConfig) NewStore() (tokenstore.Store, error) {
	switch s.Type {
	case StorageTypeFile:
		return tokenstore.NewFileStore(s.Dir)
	case StorageTypeKeyring:
		return tokenstore.NewKeyringStore(s.KeyringService)
	case StorageTypeMemory:
		return tokenstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", s.Type)
	}
}

// HTTPConfig holds settings shared by every outgoing request.
type HTTPConfig struct {
	// Timeout bounds a single request to a partner.
	Timeout time.Duration `json:"timeout" validate:"gte=0"`
}

// UploadConfig holds batch upload settings.
type UploadConfig struct {
	// Workers is the number of files uploaded at the same time.
	Workers int `json:"workers" validate:"gte=1,lte=32"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level `json:"log_level"`
	LogFormat LogFormat  `json:"log_format" validate:"oneof=text json otlp"`

	// Partner selects the storefront, e.g. "thalia".
	Partner string `json:"partner" validate:"omitempty,excludesall=./\\"`
	// Account names the persisted session.
	Account string `json:"account" validate:"required"`
	// PartnersFile replaces the built-in partner registry.
	PartnersFile string `json:"partners_file,omitempty"`

	Storage StorageConfig `json:"storage"`
	HTTP    HTTPConfig    `json:"http"`
	Upload  UploadConfig  `json:"upload"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Account == "" {
		c.Account = DefaultConfigAccount
	}
	if c.Storage.Type == "" {
		c.Storage.Type = DefaultConfigStorageType
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = DefaultConfigHTTPTimeout
	}
	if c.Upload.Workers == 0 {
		c.Upload.Workers = DefaultConfigUploadWorkers
	}

	// Dynamic defaults based on storage type
	switch c.Storage.Type {
	case StorageTypeFile:
		if c.Storage.Dir == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("storage.dir required (auto-detect failed: %w)", err)
			}
			c.Storage.Dir = filepath.Join(configDir, "tolino-cloud", "accounts")
		}
	case StorageTypeKeyring:
		if c.Storage.KeyringService == "" {
			c.Storage.KeyringService = DefaultConfigKeyringService
		}
	case StorageTypeMemory:
		// nothing to locate
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if err := tokenstore.ValidateAccountName(c.Account); err != nil {
		return fmt.Errorf("account: %w", err)
	}

	switch c.Storage.Type {
	case StorageTypeFile:
		if c.Storage.Dir == "" {
			return errors.New("storage.dir required for file storage")
		}
	case StorageTypeKeyring:
		if c.Storage.KeyringService == "" {
			return errors.New("storage.keyring_service required for keyring storage")
		}
	}

	return nil
}

// NewRegistry loads the partner registry, either the built-in one or the
// file named by PartnersFile.
func (c *Config) NewRegistry() (*partner.Registry, error) {
	if c.PartnersFile != "" {
		return partner.LoadFile(c.PartnersFile)
	}
	return partner.Default()
}
