package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:9090", cfg.HTTPAddr)
	assert.Equal(t, 24*time.Hour, cfg.Certificate.Validity)
	assert.Equal(t, 6*time.Hour, cfg.Certificate.RenewBefore)
	assert.Equal(t, AlgorithmRSA2048, cfg.Certificate.SigningAlgorithm)
	assert.Equal(t, RevocationRedis, cfg.Certificate.RevocationBackend)
	assert.Equal(t, "sender-certificate", cfg.Certificate.SigningKeyName)
	assert.Equal(t, "admin", cfg.Admin.User)
	assert.Empty(t, cfg.Admin.PasswordHash)
	assert.EqualValues(t, 1, cfg.Client.DeviceID)
	assert.True(t, cfg.Client.PreferSealed)
	assert.Equal(t, 7*24*time.Hour, cfg.Client.StateTTL)
	assert.Equal(t, time.Minute, cfg.Client.RevocationRefresh)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("CERT_VALIDITY", "2h")
	t.Setenv("CERT_RENEW_BEFORE", "30m")
	t.Setenv("CERT_SIGNING_ALGORITHM", AlgorithmEd25519)
	t.Setenv("REDIS_DB", "3")
	t.Setenv("SEALED_SENDER", "false")
	t.Setenv("DEVICE_ID", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Hour, cfg.Certificate.Validity)
	assert.Equal(t, 30*time.Minute, cfg.Certificate.RenewBefore)
	assert.Equal(t, AlgorithmEd25519, cfg.Certificate.SigningAlgorithm)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.False(t, cfg.Client.PreferSealed)
	assert.EqualValues(t, 2, cfg.Client.DeviceID)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("CERT_VALIDITY", "1h")
	t.Setenv("CERT_RENEW_BEFORE", "2h")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("CERT_RENEW_BEFORE", "10m")
	t.Setenv("CERT_SIGNING_ALGORITHM", "DSA")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("CERT_SIGNING_ALGORITHM", AlgorithmEd25519)
	t.Setenv("DEVICE_ID", "0")
	_, err = Load()
	assert.Error(t, err)
}
