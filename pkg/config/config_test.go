package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nosip.cfg")
	contents := "[general]\nlocal_ip = 203.0.113.9\nrtp_port_range = 20000-20100\nevents = false\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg, err := Load(path, logger)
	require.NoError(t, err)

	assert.Equal(t, "203.0.113.9", cfg.General.LocalIP)
	assert.Equal(t, 20000, cfg.General.RTPPortMin)
	assert.Equal(t, 20100, cfg.General.RTPPortMax)
	assert.False(t, cfg.General.Events)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.cfg"), logger)
	require.NoError(t, err)

	assert.Equal(t, 10000, cfg.General.RTPPortMin)
	assert.Equal(t, 60000, cfg.General.RTPPortMax)
	assert.True(t, cfg.General.Events)
	assert.NotEmpty(t, cfg.General.LocalIP)
}

func TestParsePortRangeSwapsInverted(t *testing.T) {
	min, max, err := parsePortRange("40000-30000")
	require.NoError(t, err)
	assert.Equal(t, 30000, min)
	assert.Equal(t, 40000, max)
}

func TestParsePortRangeZeroMax(t *testing.T) {
	_, max, err := parsePortRange("5000-0")
	require.NoError(t, err)
	assert.Equal(t, 65535, max)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nosip.cfg")
	require.NoError(t, os.WriteFile(path, []byte("[general]\nrtp_port_range = 10000-11000\n"), 0o644))

	os.Setenv("NOSIP_RTP_PORT_RANGE", "12000-13000")
	defer os.Unsetenv("NOSIP_RTP_PORT_RANGE")

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	cfg, err := Load(path, logger)
	require.NoError(t, err)
	assert.Equal(t, 12000, cfg.General.RTPPortMin)
	assert.Equal(t, 13000, cfg.General.RTPPortMax)
}
