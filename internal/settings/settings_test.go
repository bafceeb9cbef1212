package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleIni = `
[serial]
port = /dev/ttyUSB1
baud_rate = 9600

[can]
interface = socketcan
channel = can1
bitrate = 250000

[timing]
poll_period_ms = 250
publisher_period_ms = 500
keepalive_interval_ms = 1000
keepalive_timeout_ms = 3000
keepalive_retries = 5

[identity]
manufacturer = acme
battery_name = pack-7

[storage]
energy_store_path = /var/lib/vbms/energy.json

[cvl]
enabled = true
bulk_target_voltage_v = 57.6
series_cell_count = 15
`

func writeSampleIni(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.ini")
	require.NoError(t, os.WriteFile(path, []byte(sampleIni), 0o644))
	return path
}

func TestLoadParsesAllSections(t *testing.T) {
	path := writeSampleIni(t)

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB1", s.SerialPort)
	assert.Equal(t, 9600, s.SerialBaudRate)
	assert.Equal(t, "can1", s.CanChannel)
	assert.Equal(t, 250000, s.CanBitrate)
	assert.Equal(t, 250*time.Millisecond, s.PollPeriod)
	assert.Equal(t, 5, s.KeepaliveRetries)
	assert.Equal(t, "acme", s.Manufacturer)
	assert.Equal(t, "pack-7", s.BatteryName)
	assert.Equal(t, "/var/lib/vbms/energy.json", s.EnergyStorePath)
	assert.Equal(t, 57.6, s.Cvl.BulkTargetVoltageV)
	assert.Equal(t, 15, s.Cvl.SeriesCellCount)
	assert.True(t, s.Cvl.Enabled)
}

func TestLoadAppliesDefaultsForMissingSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "minimal.ini")
	require.NoError(t, os.WriteFile(path, []byte("[serial]\nport = /dev/ttyS0\n"), 0o644))

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyS0", s.SerialPort)
	assert.Equal(t, 115200, s.SerialBaudRate)
	assert.Equal(t, "socketcan", s.CanInterface)
	assert.Equal(t, 500*time.Millisecond, s.PollPeriod)
	assert.False(t, s.Cvl.SustainSocExitPercent > s.Cvl.SustainSocEntryPercent)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/path/gateway.ini")
	assert.Error(t, err)
}
