package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.hcl"))
	require.NoError(t, err)
	assert.Equal(t, "allow", cfg.DefaultPolicy)
	assert.Equal(t, 16384, cfg.EventRingCapacity)
}

func TestLoadParsesHCLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flywall.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
bind_address     = "unix:/tmp/ctl.sock"
default_policy   = "drop"
max_rules        = 500
log_level        = "debug"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "unix:/tmp/ctl.sock", cfg.BindAddress)
	assert.Equal(t, "drop", cfg.DefaultPolicy)
	assert.Equal(t, 500, cfg.MaxRules)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestEnvOverrideWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flywall.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`default_policy = "drop"`), 0o644))

	t.Setenv("FLYWALL_DEFAULT_POLICY", "allow")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "allow", cfg.DefaultPolicy)
}

func TestValidateRejectsBadDefaultPolicy(t *testing.T) {
	cfg := Default()
	cfg.DefaultPolicy = "maybe"
	errs := cfg.Validate()
	require.True(t, errs.HasErrors())
}

func TestValidateRejectsNonPowerOfTwoRing(t *testing.T) {
	cfg := Default()
	cfg.EventRingCapacity = 1000
	errs := cfg.Validate()
	require.True(t, errs.HasErrors())
}

func TestIdleTimeoutHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, int64(300000), cfg.TCPIdleTimeoutMS)
	assert.Equal(t, 300000000000, int(cfg.TCPIdleTimeout()))
}
