package app

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, LogFormatText, cfg.LogFormat)
	assert.Equal(t, DefaultConfigAccount, cfg.Account)
	assert.Equal(t, StorageTypeFile, cfg.Storage.Type)
	assert.Equal(t, "accounts", filepath.Base(cfg.Storage.Dir))
	assert.Equal(t, "tolino-cloud", filepath.Base(filepath.Dir(cfg.Storage.Dir)))
	assert.Equal(t, DefaultConfigHTTPTimeout, cfg.HTTP.Timeout)
	assert.Equal(t, DefaultConfigUploadWorkers, cfg.Upload.Workers)
	assert.NoError(t, cfg.Validate())
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		LogFormat: LogFormatJSON,
		Account:   "work",
		Storage:   StorageConfig{Type: StorageTypeKeyring},
		HTTP:      HTTPConfig{Timeout: 5 * time.Second},
		Upload:    UploadConfig{Workers: 2},
	}
	require.NoError(t, cfg.ApplyDefaults())

	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
	assert.Equal(t, "work", cfg.Account)
	assert.Equal(t, DefaultConfigKeyringService, cfg.Storage.KeyringService)
	assert.Empty(t, cfg.Storage.Dir)
	assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 2, cfg.Upload.Workers)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			LogFormat: LogFormatText,
			Partner:   "thalia",
			Account:   "default",
			Storage:   StorageConfig{Type: StorageTypeMemory},
			HTTP:      HTTPConfig{Timeout: time.Second},
			Upload:    UploadConfig{Workers: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "otlp log format", mutate: func(c *Config) { c.LogFormat = LogFormatOTLP }},
		{name: "no partner", mutate: func(c *Config) { c.Partner = "" }},
		{name: "unknown log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: true},
		{name: "missing account", mutate: func(c *Config) { c.Account = "" }, wantErr: true},
		{name: "account with separator", mutate: func(c *Config) { c.Account = "a/b" }, wantErr: true},
		{name: "partner with dot", mutate: func(c *Config) { c.Partner = "a.b" }, wantErr: true},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Type = "env" }, wantErr: true},
		{name: "file storage without dir", mutate: func(c *Config) { c.Storage.Type = StorageTypeFile }, wantErr: true},
		{name: "keyring without service", mutate: func(c *Config) { c.Storage.Type = StorageTypeKeyring }, wantErr: true},
		{name: "negative timeout", mutate: func(c *Config) { c.HTTP.Timeout = -time.Second }, wantErr: true},
		{name: "no workers", mutate: func(c *Config) { c.Upload.Workers = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewStore(t *testing.T) {
	for _, typ := range []StorageType{StorageTypeFile, StorageTypeKeyring, StorageTypeMemory} {
		t.Run(string(typ), func(t *testing.T) {
			s := StorageConfig{Type: typ, Dir: t.TempDir(), KeyringService: "tolino-test"}
			store, err := s.NewStore()
			require.NoError(t, err)
			assert.NotNil(t, store)
		})
	}

	_, err := (&StorageConfig{Type: "env"}).NewStore()
	assert.Error(t, err)
}

func TestNewRegistry(t *testing.T) {
	reg, err := (&Config{}).NewRegistry()
	require.NoError(t, err)
	assert.Contains(t, reg.Names(), "thalia")

	_, err = (&Config{PartnersFile: filepath.Join(t.TempDir(), "missing.toml")}).NewRegistry()
	assert.Error(t, err)
}
