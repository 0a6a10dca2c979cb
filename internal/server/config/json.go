package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/authkeeper/internal/flagx"
	"github.com/dmitrijs2005/authkeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration, so both "15m" and integer nanoseconds are accepted.
// Pointer fields distinguish "absent" from an explicit zero value.
type JsonConfig struct {
	EndpointAddrHTTP             string          `json:"endpoint_addr_http"`
	StoreBackend                 string          `json:"store_backend"`
	DatabaseDSN                  string          `json:"database_dsn"`
	MongoURI                     string          `json:"mongo_uri"`
	MongoDatabase                string          `json:"mongo_database"`
	SecretKey                    string          `json:"secret_key"`
	SigningKeyID                 string          `json:"signing_key_id"`
	AccessTokenValidityDuration  *timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration *timex.Duration `json:"refresh_token_validity_duration"`
	RefreshTokenTTL              *timex.Duration `json:"refresh_token_ttl"`
	OneTimeTokenValidityDuration *timex.Duration `json:"one_time_token_validity_duration"`
	SaveRetryAttempts            *int            `json:"save_retry_attempts"`
	CookieSecure                 *bool           `json:"cookie_secure"`
	LogLevel                     string          `json:"log_level"`
}

// parseJson overlays values from the JSON file named by -c or -config.
// Without either flag nothing is loaded. An unreadable or invalid file
// panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigFileFlag()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	if err := LoadFile(config, jsonConfigFile); err != nil {
		panic(err)
	}
}

// LoadFile overlays values from the JSON file at path. Keys missing from the
// file keep their current value.
func LoadFile(config *Config, path string) error {
	file, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}

	c.apply(config)
	return nil
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.StoreBackend, c.StoreBackend)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.MongoURI, c.MongoURI)
	setString(&config.MongoDatabase, c.MongoDatabase)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.SigningKeyID, c.SigningKeyID)
	setString(&config.LogLevel, c.LogLevel)

	if c.AccessTokenValidityDuration != nil {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.RefreshTokenValidityDuration != nil {
		config.RefreshTokenValidityDuration = c.RefreshTokenValidityDuration.Duration
	}
	if c.RefreshTokenTTL != nil {
		config.RefreshTokenTTL = c.RefreshTokenTTL.Duration
	}
	if c.OneTimeTokenValidityDuration != nil {
		config.OneTimeTokenValidityDuration = c.OneTimeTokenValidityDuration.Duration
	}
	if c.SaveRetryAttempts != nil {
		config.SaveRetryAttempts = *c.SaveRetryAttempts
	}
	if c.CookieSecure != nil {
		config.CookieSecure = *c.CookieSecure
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
