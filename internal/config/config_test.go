package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takumi-sec/gosecs/internal/config"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gosecs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaultsWhenFieldsOmitted(t *testing.T) {
	path := writeTempConfig(t, `
role: hsms_active
device_id: 1
ip_address: 127.0.0.1
port: 5000
`)
	f, cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.RoleHsmsActive, f.Role)
	assert.Equal(t, 45*time.Second, cfg.TimeoutT3)
	assert.Equal(t, 3, cfg.Retry)
}

func TestLoadParsesDurationStrings(t *testing.T) {
	path := writeTempConfig(t, `
role: hsms_passive
device_id: 1
ip_address: 127.0.0.1
port: 5000
timeout_t3: 5s
timeout_t5: 250ms
`)
	_, cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.TimeoutT3)
	assert.Equal(t, 250*time.Millisecond, cfg.TimeoutT5)
}

func TestLoadRejectsUnknownRole(t *testing.T) {
	path := writeTempConfig(t, `
role: carrier_pigeon
device_id: 1
`)
	_, _, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsHsmsWithoutAddress(t *testing.T) {
	path := writeTempConfig(t, `
role: hsms_active
device_id: 1
`)
	_, _, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoadAcceptsSecs1WithSerialPortOnly(t *testing.T) {
	path := writeTempConfig(t, `
role: secs1
device_id: 1
serial_port: /dev/ttyUSB0
baud_rate: 9600
`)
	f, cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.RoleSecs1, f.Role)
	assert.Equal(t, "/dev/ttyUSB0", cfg.SerialPort)
}

func TestLoadRejectsExplicitlyNamedMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, _, err := config.Load(filepath.Join(dir, "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestBuildCommunicatorDispatchesByRole(t *testing.T) {
	path := writeTempConfig(t, `
role: hsms_active
device_id: 1
ip_address: 127.0.0.1
port: 5000
`)
	f, cfg, err := config.Load(path)
	require.NoError(t, err)
	comm, err := config.BuildCommunicator(f, cfg)
	require.NoError(t, err)
	assert.False(t, comm.IsOpen())
}
