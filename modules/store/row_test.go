package store

import (
	"bytes"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JesusCabrera84/siscom-consumer/pkg/telemetry"
)

func TestPrepareRowNumericParsing(t *testing.T) {
	row := PrepareRow(log.NewNopLogger(), &telemetry.Observation{
		UUID:       "uuid-1",
		DeviceID:   "dev-1",
		Latitude:   "+19.432608",
		Longitude:  "-99.133209",
		Speed:      "not-a-number",
		Satellites: "8",
		Odometer:   "",
	})

	require.NotNil(t, row.Latitude)
	assert.Equal(t, 19.432608, *row.Latitude)
	require.NotNil(t, row.Longitude)
	assert.Equal(t, -99.133209, *row.Longitude)
	assert.Nil(t, row.Speed, "unparseable values bind as NULL, never zero")
	require.NotNil(t, row.Satellites)
	assert.Equal(t, int32(8), *row.Satellites)
	assert.Nil(t, row.Odometer)
}

func TestPrepareRowGPSDatetime(t *testing.T) {
	row := PrepareRow(log.NewNopLogger(), &telemetry.Observation{
		UUID:        "uuid-1",
		DeviceID:    "dev-1",
		GPSDatetime: "2024-05-01 10:20:30",
	})
	require.NotNil(t, row.GPSDatetime)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC), row.GPSDatetime.UTC())
}

func TestPrepareRowUnparseableGPSDatetimeWarnsAndStoresNull(t *testing.T) {
	var buf bytes.Buffer
	row := PrepareRow(log.NewLogfmtLogger(&buf), &telemetry.Observation{
		UUID:        "uuid-1",
		DeviceID:    "dev-1",
		GPSDatetime: "01/05/2024 10:20",
	})

	assert.Nil(t, row.GPSDatetime)
	out := buf.String()
	require.Contains(t, out, "unparseable gps_datetime")
	require.Contains(t, out, "dev-1")
	require.Contains(t, out, "uuid-1")
}

func TestPrepareRowEmptyGPSDatetimeIsSilent(t *testing.T) {
	var buf bytes.Buffer
	row := PrepareRow(log.NewLogfmtLogger(&buf), &telemetry.Observation{
		UUID:     "uuid-1",
		DeviceID: "dev-1",
	})

	assert.Nil(t, row.GPSDatetime)
	assert.NotContains(t, buf.String(), "unparseable gps_datetime")
}
