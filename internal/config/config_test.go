package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	home := t.TempDir()
	t.Setenv("HOME", home)

	_, err := Load()
	require.Error(t, err)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("MEM_MODEL", "opus")
	t.Setenv("MEM_DEDUP_THRESHOLD", "1.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "opus", cfg.Model)
	assert.Equal(t, 1.0, cfg.DedupThreshold) // clamped
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01("x", -5))
	assert.Equal(t, 1.0, clamp01("x", 5))
	assert.Equal(t, 0.5, clamp01("x", 0.5))
}
