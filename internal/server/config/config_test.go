package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults() *Config {
	c := &Config{}
	c.LoadDefaults()
	return c
}

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	c := defaults()

	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Equal(t, "pgx", c.DatabaseDriver)
	assert.Equal(t, 12*time.Hour, c.TokenTTL)
	assert.Equal(t, 5*time.Second, c.StoreTimeout)
	assert.Equal(t, "gatekeeper", c.SecondFactor.Issuer)
	assert.True(t, c.SecondFactor.EnableOnFirstVerify)
	assert.False(t, c.Directory.Enabled)
	assert.Equal(t, "none", c.Export.Backend)
	require.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "short secret", mutate: func(c *Config) { c.SecretKey = "short" }, wantErr: true},
		{name: "unknown driver", mutate: func(c *Config) { c.DatabaseDriver = "mysql" }, wantErr: true},
		{name: "zero ttl", mutate: func(c *Config) { c.TokenTTL = 0 }, wantErr: true},
		{name: "directory without base dn", mutate: func(c *Config) {
			c.Directory.Enabled = true
			c.Directory.BaseDN = ""
		}, wantErr: true},
		{name: "disabled directory ignores base dn", mutate: func(c *Config) { c.Directory.BaseDN = "" }},
		{name: "s3 export without bucket", mutate: func(c *Config) { c.Export.Backend = "s3" }, wantErr: true},
		{name: "s3 export with bucket", mutate: func(c *Config) {
			c.Export.Backend = "s3"
			c.Export.S3Bucket = "ldif"
		}},
		{name: "bad export backend", mutate: func(c *Config) { c.Export.Backend = "ftp" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := defaults()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseJSON(t *testing.T) {
	path := writeTempJSON(t, map[string]any{
		"http_addr":     "127.0.0.1:9000",
		"database_dsn":  "file.db",
		"token_ttl":     "90s",
		"store_timeout": 2000000000,
		"directory": map[string]any{
			"enabled":  true,
			"base_dn":  "dc=corp,dc=local",
			"roles":    []string{"admin"},
			"timeout":  "3s",
			"bind_dn":  "cn=admin,dc=corp,dc=local",
			"fallback_to_local": true,
		},
		"export": map[string]any{"backend": "file", "path": "/tmp/export.ldif"},
	})

	t.Run("overlays only present keys", func(t *testing.T) {
		cfg := defaults()
		require.NoError(t, parseJSON(cfg, []string{"-c", path}))

		want := defaults()
		want.HTTPAddr = "127.0.0.1:9000"
		want.DatabaseDSN = "file.db"
		want.TokenTTL = 90 * time.Second
		want.StoreTimeout = 2 * time.Second
		want.Directory.Enabled = true
		want.Directory.BaseDN = "dc=corp,dc=local"
		want.Directory.Roles = []string{"admin"}
		want.Directory.Timeout = 3 * time.Second
		want.Directory.BindDN = "cn=admin,dc=corp,dc=local"
		want.Directory.FallbackToLocal = true
		want.Export.Backend = "file"
		want.Export.Path = "/tmp/export.ldif"

		assert.Empty(t, cmp.Diff(want, cfg))
	})

	t.Run("no config flag leaves config alone", func(t *testing.T) {
		cfg := defaults()
		require.NoError(t, parseJSON(cfg, []string{"-a", ":1"}))
		assert.Empty(t, cmp.Diff(defaults(), cfg))
	})

	t.Run("invalid JSON", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ not json`), 0o600))
		assert.Error(t, parseJSON(defaults(), []string{"-config", bad}))
	})

	t.Run("missing file", func(t *testing.T) {
		assert.Error(t, parseJSON(defaults(), []string{"-c", filepath.Join(t.TempDir(), "nope.json")}))
	})
}

func TestParseEnvFrom(t *testing.T) {
	cfg := defaults()
	err := parseEnvFrom(cfg, map[string]string{
		"GATEKEEPER_SECRET_KEY":          "env-secret-0123456789",
		"GATEKEEPER_TOKEN_TTL":           "1h",
		"GATEKEEPER_LDAP_ENABLED":        "true",
		"GATEKEEPER_LDAP_ROLES":          "admin,editor",
		"GATEKEEPER_EXPORT_BACKEND":      "s3",
		"GATEKEEPER_EXPORT_S3_BUCKET":    "mirror",
		"GATEKEEPER_TOTP_ISSUER":         "Monitoring",
		"UNRELATED":                      "x",
	})
	require.NoError(t, err)

	assert.Equal(t, "env-secret-0123456789", cfg.SecretKey)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.True(t, cfg.Directory.Enabled)
	assert.Equal(t, []string{"admin", "editor"}, cfg.Directory.Roles)
	assert.Equal(t, "s3", cfg.Export.Backend)
	assert.Equal(t, "mirror", cfg.Export.S3Bucket)
	assert.Equal(t, "Monitoring", cfg.SecondFactor.Issuer)

	// untouched
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "dc=example,dc=com", cfg.Directory.BaseDN)
}

func TestParseFlags(t *testing.T) {
	cfg := defaults()
	err := parseFlags(cfg, []string{
		"-c", "ignored.json",
		"-a", "127.0.0.1:9090", "-r", "sqlite", "-d", "gk.db", "-s", "secret-secret-secret",
		"-t", "30", "-l", "debug", "-x", "file",
	})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.HTTPAddr)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "gk.db", cfg.DatabaseDSN)
	assert.Equal(t, "secret-secret-secret", cfg.SecretKey)
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "file", cfg.Export.Backend)
}

func TestParseFlags_UnsetTTLKeepsValue(t *testing.T) {
	cfg := defaults()
	cfg.TokenTTL = 90 * time.Second
	require.NoError(t, parseFlags(cfg, []string{"-a", ":1"}))
	assert.Equal(t, 90*time.Second, cfg.TokenTTL)
}

func TestParseFlags_BadValue(t *testing.T) {
	assert.Error(t, parseFlags(defaults(), []string{"-t", "soon"}))
}

func TestLoad_Precedence(t *testing.T) {
	path := writeTempJSON(t, map[string]any{"http_addr": ":7000", "log_level": "warn"})

	cfg, err := load([]string{"-c", path, "-a", ":7001"})
	require.NoError(t, err)

	assert.Equal(t, ":7001", cfg.HTTPAddr, "flags beat the file")
	assert.Equal(t, "warn", cfg.LogLevel, "file beats defaults")
}

func TestLoad_InvalidResult(t *testing.T) {
	_, err := load([]string{"-s", "short"})
	assert.Error(t, err)
}
