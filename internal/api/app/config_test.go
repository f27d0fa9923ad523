package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		IdentityProvider:     "keycloak",
		KeycloakServerURL:    "http://keycloak:8080",
		KeycloakRealm:        "engines",
		KeycloakClientID:     "enginewatch",
		KeycloakClientSecret: "secret",
		DatabaseFile:         "enginewatch.db",
		SecretKey:            "app-secret",
	}
}

func TestConfigValidate(t *testing.T) {
	t.Run("complete config passes", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("each required setting is enforced", func(t *testing.T) {
		mutations := map[string]func(*Config){
			"KEYCLOAK_SERVER_URL":    func(c *Config) { c.KeycloakServerURL = "" },
			"KEYCLOAK_REALM":         func(c *Config) { c.KeycloakRealm = "" },
			"KEYCLOAK_CLIENT_ID":     func(c *Config) { c.KeycloakClientID = "" },
			"KEYCLOAK_CLIENT_SECRET": func(c *Config) { c.KeycloakClientSecret = "" },
			"DATABASE_FILE":          func(c *Config) { c.DatabaseFile = "" },
			"SECRET_KEY":             func(c *Config) { c.SecretKey = "" },
		}
		for name, mutate := range mutations {
			cfg := validConfig()
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), name)
		}
	})

	t.Run("unknown provider is rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.IdentityProvider = "okta"
		require.Error(t, cfg.Validate())
	})
}

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"IDENTITY_PROVIDER", "BROKER_HOST", "BROKER_PORT", "BROKER_SUBJECT",
		"BROKER_USE_TLS", "PORT", "ENV", "LOG_LEVEL", "LOG_FORMAT",
		"SHUTDOWN_GRACE_PERIOD", "PROVIDER_TIMEOUT",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()
	require.Equal(t, "keycloak", cfg.IdentityProvider)
	require.Equal(t, "localhost", cfg.BrokerHost)
	require.Equal(t, 4222, cfg.BrokerPort)
	require.Equal(t, "motor.metrics.all", cfg.BrokerSubject)
	require.False(t, cfg.BrokerUseTLS)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "dev", cfg.Env)
	require.Equal(t, 10*time.Second, cfg.ShutdownGracePeriod)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("BROKER_HOST", "broker.internal")
	t.Setenv("BROKER_PORT", "4333")
	t.Setenv("BROKER_USE_TLS", "true")
	t.Setenv("SHUTDOWN_GRACE_PERIOD", "30s")
	t.Setenv("PORT", "not-a-number")

	cfg := LoadConfig()
	require.Equal(t, "broker.internal", cfg.BrokerHost)
	require.Equal(t, 4333, cfg.BrokerPort)
	require.True(t, cfg.BrokerUseTLS)
	require.Equal(t, 30*time.Second, cfg.ShutdownGracePeriod)

	// Unparseable values fall back to the default.
	require.Equal(t, 8080, cfg.Port)
}

func TestBrokerURL(t *testing.T) {
	cfg := validConfig()
	cfg.BrokerHost = "broker"
	cfg.BrokerPort = 4222
	require.Equal(t, "nats://broker:4222", cfg.BrokerURL())

	cfg.BrokerUseTLS = true
	require.Equal(t, "tls://broker:4222", cfg.BrokerURL())
}
