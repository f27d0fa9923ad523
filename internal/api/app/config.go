package app

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Identity provider. The provider selection is config, not code;
	// keycloak is the only implementation today.
	IdentityProvider     string // Optional: provider name (default: keycloak)
	KeycloakServerURL    string // Required: base URL of the Keycloak server
	KeycloakRealm        string // Required: realm name
	KeycloakClientID     string // Required: confidential client id
	KeycloakClientSecret string // Required: confidential client secret
	ProviderTimeout      time.Duration

	// Telemetry broker.
	BrokerHost    string // Optional: broker hostname (default: localhost)
	BrokerPort    int    // Optional: broker port (default: 4222)
	BrokerSubject string // Optional: telemetry subject (default: motor.metrics.all)
	BrokerUseTLS  bool
	BrokerCACert  string // Optional: CA bundle for broker TLS
	BrokerCert    string // Optional: client certificate for mutual TLS
	BrokerKey     string // Optional: client key for mutual TLS

	DatabaseFile string // Required: path to the SQLite database file
	SecretKey    string // Required: application secret

	Env                 string // Environment (dev, staging, prod) (default: dev)
	LogLevel            string // Log level (debug, info, warn, error) (default: info)
	LogFormat           string // Log format (json, text) (default: json)
	Port                int    // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration
}

func LoadConfig() Config {
	return Config{
		IdentityProvider:     getEnvOrDefault("IDENTITY_PROVIDER", "keycloak"),
		KeycloakServerURL:    os.Getenv("KEYCLOAK_SERVER_URL"),
		KeycloakRealm:        os.Getenv("KEYCLOAK_REALM"),
		KeycloakClientID:     os.Getenv("KEYCLOAK_CLIENT_ID"),
		KeycloakClientSecret: os.Getenv("KEYCLOAK_CLIENT_SECRET"),
		ProviderTimeout:      getEnvDurationOrDefault("PROVIDER_TIMEOUT", 10*time.Second),

		BrokerHost:    getEnvOrDefault("BROKER_HOST", "localhost"),
		BrokerPort:    getEnvIntOrDefault("BROKER_PORT", 4222),
		BrokerSubject: getEnvOrDefault("BROKER_SUBJECT", "motor.metrics.all"),
		BrokerUseTLS:  getEnvBoolOrDefault("BROKER_USE_TLS", false),
		BrokerCACert:  os.Getenv("BROKER_CA_CERT"),
		BrokerCert:    os.Getenv("BROKER_CLIENT_CERT"),
		BrokerKey:     os.Getenv("BROKER_CLIENT_KEY"),

		DatabaseFile: os.Getenv("DATABASE_FILE"),
		SecretKey:    os.Getenv("SECRET_KEY"),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}
}

// Validate checks the required settings. Startup fails fast on a missing
// one rather than limping along to the first request.
func (c Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"KEYCLOAK_SERVER_URL", c.KeycloakServerURL},
		{"KEYCLOAK_REALM", c.KeycloakRealm},
		{"KEYCLOAK_CLIENT_ID", c.KeycloakClientID},
		{"KEYCLOAK_CLIENT_SECRET", c.KeycloakClientSecret},
		{"DATABASE_FILE", c.DatabaseFile},
		{"SECRET_KEY", c.SecretKey},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("config: %s is required", r.name)
		}
	}

	if c.IdentityProvider != "keycloak" {
		return fmt.Errorf("config: unknown identity provider %q", c.IdentityProvider)
	}
	return nil
}

// BrokerURL renders the nats connection URL from host and port.
func (c Config) BrokerURL() string {
	scheme := "nats"
	if c.BrokerUseTLS {
		scheme = "tls"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.BrokerHost, c.BrokerPort)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	return defaultValue
}
