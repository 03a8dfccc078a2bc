package core

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ssokit/samlcore/internal/validate"
)

// Config holds the service-provider server configuration
type Config struct {
	// Environment (development, demo, production)
	Environment string

	// Server listening address
	ListenAddr string

	// Base URL for constructing absolute URLs (entity ID defaults derive
	// from this)
	BaseURL string

	// Path prefix the SAML endpoints are mounted under
	PathPrefix string

	// Entity ID of the hosted SP; empty means BaseURL + PathPrefix
	EntityID string

	// PEM files holding the SP signing key and certificate. Both empty
	// means a fresh self-signed pair is generated at startup.
	KeyFile  string
	CertFile string

	// IdP metadata files to trust at startup
	IdPMetadataFiles []string

	// Which element must be signed: "either", "response" or "assertion"
	SigningPolicy string

	// Clock skew tolerance for time-window checks
	ClockSkew time.Duration

	// How long an issued AuthnRequest remains correlatable
	RequestLifetime time.Duration

	// Accept IdP-initiated responses with no InResponseTo
	AllowUnsolicited bool

	// CORS allowed origins
	CORSOrigins []string

	// Enable debug logging
	Debug bool
}

// LoadConfig loads configuration from environment variables with sensible defaults
func LoadConfig() *Config {
	cfg := &Config{
		Environment:      getEnv("SP_ENV", "development"),
		ListenAddr:       getEnv("SP_LISTEN_ADDR", ":8080"),
		BaseURL:          getEnv("SP_BASE_URL", "http://localhost:8080"),
		PathPrefix:       getEnv("SP_PATH_PREFIX", "/saml"),
		EntityID:         getEnv("SP_ENTITY_ID", ""),
		KeyFile:          getEnv("SP_KEY_FILE", ""),
		CertFile:         getEnv("SP_CERT_FILE", ""),
		IdPMetadataFiles: getEnvList("SP_IDP_METADATA", nil),
		SigningPolicy:    getEnv("SP_SIGNING_POLICY", "either"),
		ClockSkew:        getEnvDuration("SP_CLOCK_SKEW", validate.DefaultClockSkew),
		RequestLifetime:  getEnvDuration("SP_REQUEST_LIFETIME", 5*time.Minute),
		AllowUnsolicited: getEnvBool("SP_ALLOW_UNSOLICITED", false),
		CORSOrigins:      getEnvList("SP_CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		Debug:            getEnvBool("SP_DEBUG", false),
	}

	if cfg.EntityID == "" {
		cfg.EntityID = cfg.BaseURL + cfg.PathPrefix
	}

	return cfg
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// ValidationConfig translates the string policy knobs into the validator's
// typed configuration.
func (c *Config) ValidationConfig() validate.Config {
	policy := validate.PolicyEitherSigned
	switch c.SigningPolicy {
	case "response":
		policy = validate.PolicyResponseSigned
	case "assertion":
		policy = validate.PolicyAssertionSigned
	}
	return validate.Config{
		SigningPolicy:    policy,
		ClockSkew:        c.ClockSkew,
		AllowUnsolicited: c.AllowUnsolicited,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.ToLower(value) == "true" || value == "1"
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.Split(value, ",")
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
