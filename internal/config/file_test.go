package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetOptionCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flywall.hcl")

	require.NoError(t, SetOption(path, "default_policy", "drop"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "drop", cfg.DefaultPolicy)
}

func TestSetOptionPreservesOtherAttributes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flywall.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
bind_address   = "unix:/tmp/ctl.sock"
default_policy = "allow"
`), 0o644))

	require.NoError(t, SetOption(path, "max_rules", int64(500)))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "unix:/tmp/ctl.sock", cfg.BindAddress)
	assert.Equal(t, "allow", cfg.DefaultPolicy)
	assert.Equal(t, 500, cfg.MaxRules)
}

func TestSetOptionRejectsInvalidValueWithoutTouchingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flywall.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`default_policy = "allow"`), 0o644))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	err = SetOption(path, "default_policy", "maybe")
	require.Error(t, err)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
