package telemetry

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/JesusCabrera84/siscom-consumer/pkg/siscompb"
)

// Canonical keys of the normalized data map, as published by the
// decoder fleet. Missing keys read as empty strings, never errors.
const (
	keyAlert                = "ALERT"
	keyAltitude             = "ALTITUDE"
	keyBackupBatteryVoltage = "BACKUP_BATTERY_VOLTAGE"
	keyBackupBatteryPercent = "PERCENT_BACKUP"
	keyCellID               = "CELL_ID"
	keyCourse               = "COURSE"
	keyDeliveryType         = "DELIVERY_TYPE"
	keyDeviceID             = "DEVICE_ID"
	keyEngineStatus         = "ENGINE_STATUS"
	keyFirmware             = "FIRMWARE"
	keyFixStatus            = "FIX_"
	keyGPSDatetime          = "GPS_DATETIME"
	keyGPSEpoch             = "GPS_EPOCH"
	keyIdleTime             = "IDLE_TIME"
	keyLAC                  = "LAC"
	keyLatitude             = "LATITUD"
	keyLongitude            = "LONGITUD"
	keyMainBatteryVoltage   = "MAIN_BATTERY_VOLTAGE"
	keyMCC                  = "MCC"
	keyMNC                  = "MNC"
	keyModel                = "MODEL"
	keyMsgClass             = "MSG_CLASS"
	keyMsgCounter           = "MSG_COUNTER"
	keyNetworkStatus        = "NETWORK_STATUS"
	keyOdometer             = "ODOMETER"
	keyRxLvl                = "RX_LVL"
	keySatellites           = "SATELLITES"
	keySpeed                = "SPEED"
	keySpeedTime            = "SPEED_TIME"
	keyTotalDistance        = "TOTAL_DISTANCE"
	keyTripDistance         = "TRIP_DISTANCE"
	keyTripHourmeter        = "TRIP_HOURMETER"
)

// Decoder converts wire payloads into Observations. It is safe for use
// by a single goroutine per instance.
type Decoder struct {
	logger log.Logger
}

func NewDecoder(logger log.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// Decode parses a protobuf payload and normalizes it. Malformed wire
// data, missing metadata, and empty uuid or device id reject the
// record.
func (d *Decoder) Decode(payload []byte) (*Observation, error) {
	var msg siscompb.Message
	if err := msg.Unmarshal(payload); err != nil {
		return nil, errors.Wrap(err, "decoding record")
	}
	return d.FromMessage(&msg)
}

// FromMessage normalizes an already-decoded message. Used directly by
// sources whose wire format is not protobuf.
func (d *Decoder) FromMessage(msg *siscompb.Message) (*Observation, error) {
	if msg.Metadata == nil {
		return nil, errors.Errorf("record %s: missing metadata", msg.UUID)
	}

	var (
		manufacturer Manufacturer
		rawBlock     map[string]string
	)
	switch {
	case msg.Suntech != nil:
		manufacturer, rawBlock = Suntech, msg.Suntech.Fields
	case msg.Queclink != nil:
		manufacturer, rawBlock = Queclink, msg.Queclink.Fields
	default:
		// Legacy payloads occasionally arrive without a decoded block.
		// They are treated as suntech with an empty raw block.
		level.Warn(d.logger).Log("msg", "record without decoded variant, defaulting to suntech", "uuid", msg.UUID)
		manufacturer = Suntech
	}
	if rawBlock == nil {
		rawBlock = map[string]string{}
	}

	obs := &Observation{
		UUID:         msg.UUID,
		DeviceID:     msg.Data[keyDeviceID],
		Manufacturer: manufacturer,

		Alert:                msg.Data[keyAlert],
		Altitude:             msg.Data[keyAltitude],
		BackupBatteryVoltage: msg.Data[keyBackupBatteryVoltage],
		BackupBatteryPercent: msg.Data[keyBackupBatteryPercent],
		CellID:               msg.Data[keyCellID],
		Course:               msg.Data[keyCourse],
		DeliveryType:         msg.Data[keyDeliveryType],
		EngineStatus:         msg.Data[keyEngineStatus],
		Firmware:             msg.Data[keyFirmware],
		FixStatus:            msg.Data[keyFixStatus],
		GPSDatetime:          msg.Data[keyGPSDatetime],
		GPSEpoch:             msg.Data[keyGPSEpoch],
		IdleTime:             msg.Data[keyIdleTime],
		LAC:                  msg.Data[keyLAC],
		Latitude:             msg.Data[keyLatitude],
		Longitude:            msg.Data[keyLongitude],
		MainBatteryVoltage:   msg.Data[keyMainBatteryVoltage],
		MCC:                  msg.Data[keyMCC],
		MNC:                  msg.Data[keyMNC],
		Model:                msg.Data[keyModel],
		MsgClass:             msg.Data[keyMsgClass],
		MsgCounter:           msg.Data[keyMsgCounter],
		NetworkStatus:        msg.Data[keyNetworkStatus],
		Odometer:             msg.Data[keyOdometer],
		RxLvl:                msg.Data[keyRxLvl],
		Satellites:           msg.Data[keySatellites],
		Speed:                msg.Data[keySpeed],
		SpeedTime:            msg.Data[keySpeedTime],
		TotalDistance:        msg.Data[keyTotalDistance],
		TripDistance:         msg.Data[keyTripDistance],
		TripHourmeter:        msg.Data[keyTripHourmeter],

		RawBlock:   rawBlock,
		RawMessage: msg.Raw,

		BytesCount:    msg.Metadata.Bytes,
		ClientIP:      msg.Metadata.ClientIP,
		ClientPort:    msg.Metadata.ClientPort,
		DecodedEpoch:  msg.Metadata.DecodedEpoch,
		ReceivedEpoch: msg.Metadata.ReceivedEpoch,
		WorkerID:      msg.Metadata.WorkerID,
	}

	if obs.UUID == "" {
		return nil, errors.New("record with empty uuid")
	}
	if obs.DeviceID == "" {
		return nil, errors.Errorf("record %s: empty device id", obs.UUID)
	}
	return obs, nil
}
