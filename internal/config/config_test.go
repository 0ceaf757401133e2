package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("CRM_CLIENT_ID", "cid")
	t.Setenv("CRM_CLIENT_SECRET", "csecret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3001", cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 720*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 10*time.Second, cfg.CRM.Timeout)
	assert.Equal(t, "https://services.leadconnectorhq.com/oauth/token", cfg.CRM.TokenURL)
}

func TestLoad_MissingSecretFails(t *testing.T) {
	t.Setenv("CRM_CLIENT_ID", "cid")
	t.Setenv("CRM_CLIENT_SECRET", "csecret")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_MissingCRMCredentialsFails(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("CRM_CLIENT_ID", "")
	t.Setenv("CRM_CLIENT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestRedirectURI(t *testing.T) {
	setRequired(t)
	t.Setenv("API_URL", "https://api.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/api/auth/oauth-callback", cfg.RedirectURI())
}

func TestAllowedOrigins(t *testing.T) {
	setRequired(t)
	t.Setenv("FRONTEND_URL", "https://app.example.com")
	t.Setenv("CORS_ORIGINS", "https://docs.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	origins := cfg.AllowedOrigins()
	assert.Contains(t, origins, "http://localhost:3000")
	assert.Contains(t, origins, "https://app.example.com")
	assert.Contains(t, origins, "https://docs.example.com")
}
