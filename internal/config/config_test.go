package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TRUST_APPROVER_ID", "owner")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "owner", cfg.OperatorID)
	assert.Zero(t, cfg.ValidationTimeout)
	assert.Equal(t, 15*time.Minute, cfg.ExpiryInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.ProposalTTL)
	assert.Equal(t, 30*time.Second, cfg.AuthCacheTTL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TRUST_APPROVER_ID", "owner")
	t.Setenv("TRUST_OPERATOR_ID", "ops")
	t.Setenv("TRUST_VALIDATION_TIMEOUT", "48h")
	t.Setenv("TRUST_HTTP_PORT", "9090")
	t.Setenv("TRUST_AUTH_CACHE_TTL_S", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ops", cfg.OperatorID)
	assert.Equal(t, 48*time.Hour, cfg.ValidationTimeout)
	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.AuthCacheTTL)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("TRUST_APPROVER_ID", "")
	_, err := Load()
	assert.ErrorContains(t, err, "TRUST_APPROVER_ID")

	t.Setenv("TRUST_APPROVER_ID", "owner")
	t.Setenv("TRUST_VALIDATION_TIMEOUT", "two days")
	_, err = Load()
	assert.ErrorContains(t, err, "TRUST_VALIDATION_TIMEOUT")
}

func TestMustBuildLogger(t *testing.T) {
	assert.NotNil(t, MustBuildLogger("debug"))
	assert.NotNil(t, MustBuildLogger("bogus"))
}
