// Package telemetry defines the normalized device observation that
// flows from the broker sources to the batcher, and the decoder that
// produces it from wire payloads.
package telemetry

// Manufacturer identifies the device family an observation came from.
// It selects the history table the record is appended to.
type Manufacturer string

const (
	Suntech  Manufacturer = "SUNTECH"
	Queclink Manufacturer = "QUECLINK"
)

// Observation is one normalized device report. Payload fields are kept
// in the raw textual form the decoder fleet published; typed conversion
// happens at row preparation, not here.
type Observation struct {
	UUID         string
	DeviceID     string
	Manufacturer Manufacturer

	Alert                string
	Altitude             string
	BackupBatteryVoltage string
	BackupBatteryPercent string
	CellID               string
	Course               string
	DeliveryType         string
	EngineStatus         string
	Firmware             string
	FixStatus            string
	GPSDatetime          string
	GPSEpoch             string
	IdleTime             string
	LAC                  string
	Latitude             string
	Longitude            string
	MainBatteryVoltage   string
	MCC                  string
	MNC                  string
	Model                string
	MsgClass             string
	MsgCounter           string
	NetworkStatus        string
	Odometer             string
	RxLvl                string
	Satellites           string
	Speed                string
	SpeedTime            string
	TotalDistance        string
	TripDistance         string
	TripHourmeter        string

	// RawBlock is the manufacturer-specific key/value block, preserved
	// verbatim for traceability.
	RawBlock map[string]string

	// RawMessage is the original textual frame.
	RawMessage string

	// Receiver metadata.
	BytesCount    int32
	ClientIP      string
	ClientPort    int32
	DecodedEpoch  int64
	ReceivedEpoch int64
	WorkerID      int32
}
