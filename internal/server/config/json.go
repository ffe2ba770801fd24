package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/gatekeeper/internal/flagx"
	"github.com/dmitrijs2005/gatekeeper/internal/timex"
)

// jsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "5s" and integer nanoseconds are accepted. Keys
// absent from the file leave the current value untouched.
type jsonConfig struct {
	HTTPAddr       string         `json:"http_addr"`
	DatabaseDriver string         `json:"database_driver"`
	DatabaseDSN    string         `json:"database_dsn"`
	SecretKey      string         `json:"secret_key"`
	TokenTTL       timex.Duration `json:"token_ttl"`
	StoreTimeout   timex.Duration `json:"store_timeout"`
	LogLevel       string         `json:"log_level"`

	SecondFactor struct {
		Issuer              string `json:"issuer"`
		EnableOnFirstVerify bool   `json:"enable_on_first_verify"`
	} `json:"second_factor"`

	Directory struct {
		Enabled         bool           `json:"enabled"`
		URL             string         `json:"url"`
		BindDN          string         `json:"bind_dn"`
		BindPassword    string         `json:"bind_password"`
		BaseDN          string         `json:"base_dn"`
		Roles           []string       `json:"roles"`
		Timeout         timex.Duration `json:"timeout"`
		FallbackToLocal bool           `json:"fallback_to_local"`
	} `json:"directory"`

	Export struct {
		Backend     string         `json:"backend"`
		Path        string         `json:"path"`
		Timeout     timex.Duration `json:"timeout"`
		S3Bucket    string         `json:"s3_bucket"`
		S3Key       string         `json:"s3_key"`
		S3Region    string         `json:"s3_region"`
		S3Endpoint  string         `json:"s3_endpoint"`
		S3AccessKey string         `json:"s3_access_key"`
		S3SecretKey string         `json:"s3_secret_key"`
	} `json:"export"`
}

// parseJSON overlays values from the JSON file named by -c/-config, if any.
func parseJSON(cfg *Config, args []string) error {
	path := flagx.ConfigFile(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	jc := toJSON(cfg)
	if err := json.Unmarshal(data, jc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	fromJSON(cfg, jc)
	return nil
}

func toJSON(c *Config) *jsonConfig {
	jc := &jsonConfig{
		HTTPAddr:       c.HTTPAddr,
		DatabaseDriver: c.DatabaseDriver,
		DatabaseDSN:    c.DatabaseDSN,
		SecretKey:      c.SecretKey,
		TokenTTL:       timex.Duration{Duration: c.TokenTTL},
		StoreTimeout:   timex.Duration{Duration: c.StoreTimeout},
		LogLevel:       c.LogLevel,
	}

	jc.SecondFactor.Issuer = c.SecondFactor.Issuer
	jc.SecondFactor.EnableOnFirstVerify = c.SecondFactor.EnableOnFirstVerify

	jc.Directory.Enabled = c.Directory.Enabled
	jc.Directory.URL = c.Directory.URL
	jc.Directory.BindDN = c.Directory.BindDN
	jc.Directory.BindPassword = c.Directory.BindPassword
	jc.Directory.BaseDN = c.Directory.BaseDN
	jc.Directory.Roles = c.Directory.Roles
	jc.Directory.Timeout = timex.Duration{Duration: c.Directory.Timeout}
	jc.Directory.FallbackToLocal = c.Directory.FallbackToLocal

	jc.Export.Backend = c.Export.Backend
	jc.Export.Path = c.Export.Path
	jc.Export.Timeout = timex.Duration{Duration: c.Export.Timeout}
	jc.Export.S3Bucket = c.Export.S3Bucket
	jc.Export.S3Key = c.Export.S3Key
	jc.Export.S3Region = c.Export.S3Region
	jc.Export.S3Endpoint = c.Export.S3Endpoint
	jc.Export.S3AccessKey = c.Export.S3AccessKey
	jc.Export.S3SecretKey = c.Export.S3SecretKey

	return jc
}

func fromJSON(c *Config, jc *jsonConfig) {
	c.HTTPAddr = jc.HTTPAddr
	c.DatabaseDriver = jc.DatabaseDriver
	c.DatabaseDSN = jc.DatabaseDSN
	c.SecretKey = jc.SecretKey
	c.TokenTTL = jc.TokenTTL.Duration
	c.StoreTimeout = jc.StoreTimeout.Duration
	c.LogLevel = jc.LogLevel

	c.SecondFactor = SecondFactorConfig{
		Issuer:              jc.SecondFactor.Issuer,
		EnableOnFirstVerify: jc.SecondFactor.EnableOnFirstVerify,
	}

	c.Directory = DirectoryConfig{
		Enabled:         jc.Directory.Enabled,
		URL:             jc.Directory.URL,
		BindDN:          jc.Directory.BindDN,
		BindPassword:    jc.Directory.BindPassword,
		BaseDN:          jc.Directory.BaseDN,
		Roles:           jc.Directory.Roles,
		Timeout:         jc.Directory.Timeout.Duration,
		FallbackToLocal: jc.Directory.FallbackToLocal,
	}

	c.Export = ExportConfig{
		Backend:     jc.Export.Backend,
		Path:        jc.Export.Path,
		Timeout:     jc.Export.Timeout.Duration,
		S3Bucket:    jc.Export.S3Bucket,
		S3Key:       jc.Export.S3Key,
		S3Region:    jc.Export.S3Region,
		S3Endpoint:  jc.Export.S3Endpoint,
		S3AccessKey: jc.Export.S3AccessKey,
		S3SecretKey: jc.Export.S3SecretKey,
	}
}
