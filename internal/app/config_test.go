package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{AppEnv: "development", PlatformID: "partner-portal", SoftDeletePolicy: "retain"}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "retain", cfg.SoftDeletePolicy)
	assert.Equal(t, "partner-portal", cfg.PlatformID)
	assert.Equal(t, 10, cfg.SyncOutboxAttempts)
	assert.False(t, cfg.DirectoryEnabled())
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Config)
		ok     bool
	}{
		"defaults":               {func(*Config) {}, true},
		"test env":               {func(c *Config) { c.AppEnv = "test" }, true},
		"detach policy":          {func(c *Config) { c.SoftDeletePolicy = "detach" }, true},
		"unknown policy":         {func(c *Config) { c.SoftDeletePolicy = "purge" }, false},
		"blank platform":         {func(c *Config) { c.PlatformID = " " }, false},
		"fga url without store":  {func(c *Config) { c.FGAAPIURL = "http://fga:8080" }, false},
		"production without fga": {func(c *Config) { c.AppEnv = "production"; c.Auth0Domain = "t.auth0.com" }, false},
		"production without auth0": {func(c *Config) {
			c.AppEnv = "production"
			c.FGAAPIURL = "http://fga:8080"
			c.FGAStoreID = "store"
		}, false},
		"staging without auth0": {func(c *Config) {
			c.AppEnv = "staging"
			c.FGAAPIURL = "http://fga:8080"
			c.FGAStoreID = "store"
		}, false},
		"staging without fga": {func(c *Config) { c.AppEnv = "staging"; c.Auth0Domain = "t.auth0.com" }, false},
		"production complete": {func(c *Config) {
			c.AppEnv = "production"
			c.FGAAPIURL = "http://fga:8080"
			c.FGAStoreID = "store"
			c.Auth0Domain = "t.auth0.com"
		}, true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAuth0Issuer(t *testing.T) {
	cfg := validConfig()
	assert.Empty(t, cfg.Auth0Issuer())
	cfg.Auth0Domain = "https://tenant.eu.auth0.com/"
	assert.Equal(t, "https://tenant.eu.auth0.com/", cfg.Auth0Issuer())
	cfg.Auth0Domain = "tenant.eu.auth0.com"
	assert.Equal(t, "https://tenant.eu.auth0.com/", cfg.Auth0Issuer())
}

func TestDevelopmentClients(t *testing.T) {
	cfg := validConfig()
	logger := NewLogger(cfg)

	client, err := NewFGAClient(cfg, logger)
	require.NoError(t, err)
	assert.NotNil(t, client)

	pub := NewPublisher(cfg, logger)
	assert.NoError(t, pub.Close())

	authn, err := NewAuthenticator(t.Context(), cfg, nil, logger)
	require.NoError(t, err)
	assert.NotNil(t, authn.Verifier)
}

func TestDevTokensOnlyInLocalEnvironments(t *testing.T) {
	cfg := validConfig()
	cfg.AppEnv = "staging"
	cfg.FGAAPIURL = "http://fga:8080"
	cfg.FGAStoreID = "store"
	logger := NewLogger(cfg)

	_, err := NewAuthenticator(t.Context(), cfg, nil, logger)
	require.Error(t, err)

	cfg.FGAAPIURL = ""
	_, err = NewFGAClient(cfg, logger)
	require.Error(t, err)
}
