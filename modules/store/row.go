package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/JesusCabrera84/siscom-consumer/pkg/telemetry"
)

// Length limits of the VARCHAR columns. Over-long values are warned
// about at preparation and identified in the failure diagnostics, but
// forwarded unchanged: the database is the arbiter.
const (
	maxLenCellID   = 10
	maxLenLAC      = 10
	maxLenMCC      = 10
	maxLenMNC      = 10
	maxLenModel    = 50
	maxLenFirmware = 50
	maxLenMsgClass = 20
)

const gpsDatetimeLayout = "2006-01-02 15:04:05"

// Row is one prepared record with the columns typed and ready to bind.
// Pointer fields bind as SQL NULL when nil.
type Row struct {
	UUID     string
	DeviceID string

	BackupBatteryVoltage *float64
	BackupBatteryPercent *float64
	CellID               string
	Course               *float64
	DeliveryType         string
	EngineStatus         string
	Firmware             string
	FixStatus            string
	GPSDatetime          *time.Time
	GPSEpoch             *int64
	IdleTime             *int32
	LAC                  string
	Latitude             *float64
	Longitude            *float64
	MainBatteryVoltage   *float64
	MCC                  string
	MNC                  string
	Model                string
	MsgClass             string
	MsgCounter           *int32
	AlertType            *string
	NetworkStatus        string
	Odometer             *int64
	RxLvl                *int32
	Satellites           *int32
	Speed                *float64
	SpeedTime            *int32
	TotalDistance        *int64
	TripDistance         *int64
	TripHourmeter        *int32

	BytesCount    int32
	ClientIP      *string
	ClientPort    int32
	DecodedEpoch  int64
	ReceivedEpoch int64
	RawMessage    string
	ReceivedAt    time.Time
	CreatedAt     time.Time

	// Manufacturer routes the row to its history table. Not a column.
	Manufacturer telemetry.Manufacturer
}

// PrepareRow converts an observation into a bind-ready row. Numeric
// strings parse with an optional leading '+'; empty or unparseable
// values become NULL, never zero. gps_datetime outside the
// "YYYY-MM-DD HH:MM:SS" layout becomes NULL. received_at and
// created_at are assigned here, same instant, UTC.
func PrepareRow(logger log.Logger, obs *telemetry.Observation) *Row {
	warnFieldLength(logger, "cell_id", obs.CellID, maxLenCellID, obs.DeviceID)
	warnFieldLength(logger, "lac", obs.LAC, maxLenLAC, obs.DeviceID)
	warnFieldLength(logger, "mcc", obs.MCC, maxLenMCC, obs.DeviceID)
	warnFieldLength(logger, "mnc", obs.MNC, maxLenMNC, obs.DeviceID)
	warnFieldLength(logger, "model", obs.Model, maxLenModel, obs.DeviceID)
	warnFieldLength(logger, "firmware", obs.Firmware, maxLenFirmware, obs.DeviceID)
	warnFieldLength(logger, "msg_class", obs.MsgClass, maxLenMsgClass, obs.DeviceID)

	var gpsDatetime *time.Time
	if obs.GPSDatetime != "" {
		if ts, err := time.Parse(gpsDatetimeLayout, obs.GPSDatetime); err == nil {
			gpsDatetime = &ts
		} else {
			level.Warn(logger).Log("msg", "unparseable gps_datetime, storing NULL",
				"device_id", obs.DeviceID, "uuid", obs.UUID, "value", obs.GPSDatetime)
		}
	}

	var clientIP *string
	if obs.ClientIP != "" {
		ip := obs.ClientIP
		clientIP = &ip
	}
	var alertType *string
	if obs.Alert != "" {
		alert := obs.Alert
		alertType = &alert
	}

	now := time.Now().UTC()

	return &Row{
		UUID:     obs.UUID,
		DeviceID: obs.DeviceID,

		BackupBatteryVoltage: parseFloat(obs.BackupBatteryVoltage),
		BackupBatteryPercent: parseFloat(obs.BackupBatteryPercent),
		CellID:               obs.CellID,
		Course:               parseFloat(obs.Course),
		DeliveryType:         obs.DeliveryType,
		EngineStatus:         obs.EngineStatus,
		Firmware:             obs.Firmware,
		FixStatus:            obs.FixStatus,
		GPSDatetime:          gpsDatetime,
		GPSEpoch:             parseInt64(obs.GPSEpoch),
		IdleTime:             parseInt32(obs.IdleTime),
		LAC:                  obs.LAC,
		Latitude:             parseFloat(obs.Latitude),
		Longitude:            parseFloat(obs.Longitude),
		MainBatteryVoltage:   parseFloat(obs.MainBatteryVoltage),
		MCC:                  obs.MCC,
		MNC:                  obs.MNC,
		Model:                obs.Model,
		MsgClass:             obs.MsgClass,
		MsgCounter:           parseInt32(obs.MsgCounter),
		AlertType:            alertType,
		NetworkStatus:        obs.NetworkStatus,
		Odometer:             parseInt64(obs.Odometer),
		RxLvl:                parseInt32(obs.RxLvl),
		Satellites:           parseInt32(obs.Satellites),
		Speed:                parseFloat(obs.Speed),
		SpeedTime:            parseInt32(obs.SpeedTime),
		TotalDistance:        parseInt64(obs.TotalDistance),
		TripDistance:         parseInt64(obs.TripDistance),
		TripHourmeter:        parseInt32(obs.TripHourmeter),

		BytesCount:    obs.BytesCount,
		ClientIP:      clientIP,
		ClientPort:    obs.ClientPort,
		DecodedEpoch:  obs.DecodedEpoch,
		ReceivedEpoch: obs.ReceivedEpoch,
		RawMessage:    obs.RawMessage,
		ReceivedAt:    now,
		CreatedAt:     now,

		Manufacturer: obs.Manufacturer,
	}
}

// columns is the bind order of every INSERT this package emits.
// r.args() must stay in lockstep with it.
var columns = []string{
	"uuid", "device_id", "backup_battery_voltage", "backup_battery_percent",
	"cell_id", "course", "delivery_type", "engine_status", "firmware",
	"fix_status", "gps_datetime", "gps_epoch", "idle_time", "lac",
	"latitude", "longitude", "main_battery_voltage", "mcc", "mnc", "model",
	"msg_class", "msg_counter", "alert_type", "network_status", "odometer",
	"rx_lvl", "satellites", "speed", "speed_time", "total_distance",
	"trip_distance", "trip_hourmeter", "bytes_count", "client_ip",
	"client_port", "decoded_epoch", "received_epoch", "raw_message",
	"received_at", "created_at",
}

func (r *Row) args() []any {
	return []any{
		r.UUID, r.DeviceID, r.BackupBatteryVoltage, r.BackupBatteryPercent,
		r.CellID, r.Course, r.DeliveryType, r.EngineStatus, r.Firmware,
		r.FixStatus, r.GPSDatetime, r.GPSEpoch, r.IdleTime, r.LAC,
		r.Latitude, r.Longitude, r.MainBatteryVoltage, r.MCC, r.MNC, r.Model,
		r.MsgClass, r.MsgCounter, r.AlertType, r.NetworkStatus, r.Odometer,
		r.RxLvl, r.Satellites, r.Speed, r.SpeedTime, r.TotalDistance,
		r.TripDistance, r.TripHourmeter, r.BytesCount, r.ClientIP,
		r.ClientPort, r.DecodedEpoch, r.ReceivedEpoch, r.RawMessage,
		r.ReceivedAt, r.CreatedAt,
	}
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimPrefix(s, "+"), 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseInt64(s string) *int64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseInt32(s string) *int32 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return nil
	}
	n := int32(v)
	return &n
}

func warnFieldLength(logger log.Logger, field, value string, maxLen int, deviceID string) {
	if len(value) <= maxLen {
		return
	}
	level.Warn(logger).Log(
		"msg", fmt.Sprintf("Campo '%s' excede límite", field),
		"device_id", deviceID,
		"longitud", len(value),
		"limite", maxLen,
		"valor_truncado", value[:maxLen],
	)
}
