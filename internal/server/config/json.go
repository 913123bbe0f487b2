package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/flagx"
	"github.com/dmitrijs2005/authkeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations accept
// strings such as "90m" or integer nanoseconds.
type JsonConfig struct {
	EndpointAddrHTTP            string         `json:"endpoint_addr_http"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`
	ResetTokenValidityDuration  timex.Duration `json:"reset_token_validity_duration"`
	BcryptCost                  int            `json:"bcrypt_cost"`
	FrontendURL                 string         `json:"frontend_url"`
	AppName                     string         `json:"app_name"`
	SMTPHost                    string         `json:"smtp_host"`
	SMTPPort                    int            `json:"smtp_port"`
	SMTPUsername                string         `json:"smtp_username"`
	SMTPPassword                string         `json:"smtp_password"`
	SMTPFrom                    string         `json:"smtp_from"`
	LogLevel                    string         `json:"log_level"`
	CleanupSchedule             string         `json:"cleanup_schedule"`
	LoginRateLimit              int            `json:"login_rate_limit"`
	TrustProxyHeaders           bool           `json:"trust_proxy_headers"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}

// parseJson overlays values from the JSON file named by -c/-config (or the
// AUTHKEEPER_CONFIG variable). Keys absent from the file keep their current
// value. An unreadable or malformed file panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigFilePath(os.Args[1:])

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.ResetTokenValidityDuration, c.ResetTokenValidityDuration)
	setInt(&config.BcryptCost, c.BcryptCost)
	setString(&config.FrontendURL, c.FrontendURL)
	setString(&config.AppName, c.AppName)
	setString(&config.SMTPHost, c.SMTPHost)
	setInt(&config.SMTPPort, c.SMTPPort)
	setString(&config.SMTPUsername, c.SMTPUsername)
	setString(&config.SMTPPassword, c.SMTPPassword)
	setString(&config.SMTPFrom, c.SMTPFrom)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.CleanupSchedule, c.CleanupSchedule)
	setInt(&config.LoginRateLimit, c.LoginRateLimit)
	if c.TrustProxyHeaders {
		config.TrustProxyHeaders = true
	}
}
