package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ruralpay/ledger-ingest/internal/logger"
	"github.com/ruralpay/ledger-ingest/internal/spapi"
)

// SPAPIConfig holds the fetch client settings read from the environment.
type SPAPIConfig struct {
	ClientID          string
	ClientSecret      string
	RefreshToken      string
	TokenEndpoint     string        `validate:"omitempty,url"`
	Region            string        `validate:"required,oneof=na eu fe"`
	Sandbox           bool
	Timeout           time.Duration `validate:"gt=0"`
	MaxRetries        int           `validate:"gte=1,lte=20"`
	BackoffBase       time.Duration `validate:"gt=0"`
	BackoffMax        time.Duration `validate:"gtefield=BackoffBase"`
	RequestsPerSecond float64       `validate:"gt=0"`
	Burst             int           `validate:"gte=1"`
	MaxPages          int           `validate:"gte=1"`
	MarketplaceID     string        `validate:"omitempty,max=32"`
	LogLevel          string
}

func LoadSPAPIConfig() *SPAPIConfig {
	return &SPAPIConfig{
		ClientID:          getEnv("LWA_CLIENT_ID", ""),
		ClientSecret:      getEnv("LWA_CLIENT_SECRET", ""),
		RefreshToken:      getEnv("LWA_REFRESH_TOKEN", ""),
		TokenEndpoint:     getEnv("LWA_TOKEN_ENDPOINT", spapi.DefaultTokenEndpoint),
		Region:            strings.ToLower(getEnv("SPAPI_REGION", "na")),
		Sandbox:           getEnvAsBool("SPAPI_SANDBOX", false),
		Timeout:           getEnvAsDuration("SPAPI_TIMEOUT", 60*time.Second),
		MaxRetries:        getEnvAsInt("SPAPI_MAX_RETRIES", 6),
		BackoffBase:       getEnvAsDuration("SPAPI_BACKOFF_BASE", time.Second),
		BackoffMax:        getEnvAsDuration("SPAPI_BACKOFF_MAX", 60*time.Second),
		RequestsPerSecond: getEnvAsFloat("SPAPI_RATE", 0.5),
		Burst:             getEnvAsInt("SPAPI_BURST", 10),
		MaxPages:          getEnvAsInt("SPAPI_MAX_PAGES", 50),
		MarketplaceID:     getEnv("SPAPI_MARKETPLACE_ID", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks ranges only. Credentials are checked by RequireCredentials
// because mock runs do not need them.
func (c *SPAPIConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid SP-API configuration: %w", err)
	}
	return nil
}

func (c *SPAPIConfig) RequireCredentials() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "LWA_CLIENT_ID")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "LWA_CLIENT_SECRET")
	}
	if c.RefreshToken == "" {
		missing = append(missing, "LWA_REFRESH_TOKEN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", spapi.ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

func (c *SPAPIConfig) Credentials() spapi.Credentials {
	return spapi.Credentials{ClientID: c.ClientID, ClientSecret: c.ClientSecret, RefreshToken: c.RefreshToken}
}

func (c *SPAPIConfig) ClientConfig() spapi.Config {
	return spapi.Config{
		Region:  c.Region,
		Sandbox: c.Sandbox,
		Timeout: c.Timeout,
		Policy: spapi.Policy{
			MaxAttempts: c.MaxRetries,
			BaseDelay:   c.BackoffBase,
			MaxDelay:    c.BackoffMax,
		},
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
		MaxPages:          c.MaxPages,
	}
}

// NewClient builds the fetch client for a run. Mock runs replay scenario
// through the scripted transport; real runs exchange LWA credentials, caching
// the bearer in cache when it is non-nil.
func (c *SPAPIConfig) NewClient(mock bool, scenario string, cache spapi.TokenCache, events logger.EventLogger) (*spapi.Client, error) {
	if mock {
		if scenario == "" {
			scenario = spapi.ScenarioOK
		}
		client, _, err := spapi.NewMockClient(scenario, events)
		return client, err
	}

	if err := c.RequireCredentials(); err != nil {
		return nil, err
	}
	tokens := spapi.NewLWATokenSource(c.Credentials(), c.TokenEndpoint, nil, cache, nil)
	return spapi.NewClient(c.ClientConfig(), tokens, events)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
		// bare numbers are seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
