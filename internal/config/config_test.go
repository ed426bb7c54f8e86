package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: "9090"
  mode: debug
database:
  driver: sqlite
  dsn: "file::memory:"
jwt:
  secret_key: "0123456789abcdef0123"
  expires_in: 30m
storage:
  default_disk: primary
  disks:
    primary:
      driver: local
      root: /tmp/docstore
    archive:
      driver: minio
      endpoint: localhost:9000
      bucket: docstore
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_File(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 30*time.Minute, cfg.JWT.ExpiresIn)
	assert.Equal(t, "primary", cfg.Storage.DefaultDisk)
	require.Len(t, cfg.Storage.Disks, 2)
	assert.Equal(t, "minio", cfg.Storage.Disks["archive"].Driver)
	// defaults
	assert.Equal(t, "blob_purge_queue", cfg.RabbitMQ.PurgeQueue)
	assert.Equal(t, "docstore:audit", cfg.Audit.Stream)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("GO_DOCSTORE_SERVER_PORT", "7000")
	t.Setenv("GO_DOCSTORE_DATABASE_DSN", "other.db")
	t.Setenv("GO_DOCSTORE_SERVER_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "other.db", cfg.Database.DSN)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: "8080"},
			Database: DatabaseConfig{Driver: "mysql", DSN: "dsn"},
			JWT:      JWTConfig{SecretKey: "0123456789abcdef", ExpiresIn: time.Hour},
			Storage: StorageConfig{
				DefaultDisk: "local",
				Disks:       map[string]DiskConfig{"local": {Driver: "local", Root: "/data"}},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{
			name:    "unknown database driver",
			mutate:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: "Driver",
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.JWT.SecretKey = "short" },
			wantErr: "SecretKey",
		},
		{
			name:    "default disk missing",
			mutate:  func(c *Config) { c.Storage.DefaultDisk = "remote" },
			wantErr: "storage.default_disk",
		},
		{
			name:    "local disk without root",
			mutate:  func(c *Config) { c.Storage.Disks["local"] = DiskConfig{Driver: "local"} },
			wantErr: "Root",
		},
		{
			name: "s3 disk without bucket",
			mutate: func(c *Config) {
				c.Storage.Disks["s3"] = DiskConfig{Driver: "s3", Region: "us-east-1"}
			},
			wantErr: "Bucket",
		},
		{
			name:    "rabbitmq enabled without url",
			mutate:  func(c *Config) { c.RabbitMQ.Enabled = true; c.RabbitMQ.PurgeQueue = "q" },
			wantErr: "URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
