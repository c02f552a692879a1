package consumer

import (
	"context"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/JesusCabrera84/siscom-consumer/pkg/siscompb"
	"github.com/JesusCabrera84/siscom-consumer/pkg/telemetry"
)

const mqttDisconnectQuiesce = 250 // milliseconds

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MQTTSource is the legacy broker variant. Payloads are JSON documents
// with the same logical fields as the protobuf wire format. Reconnects
// are delegated to the paho client.
type MQTTSource struct {
	cfg     Config
	auth    MQTTAuth
	decoder *telemetry.Decoder
	logger  log.Logger

	client mqtt.Client
	out    chan *telemetry.Observation

	// done is closed before out so a handler blocked on a full channel
	// exits instead of sending into the close; handlers tracks in-flight
	// handler invocations so out only closes once they have returned.
	done     chan struct{}
	handlers sync.WaitGroup
}

func NewMQTTSource(cfg Config, auth MQTTAuth, decoder *telemetry.Decoder, bufferSize int, logger log.Logger) *MQTTSource {
	return &MQTTSource{
		cfg:     cfg,
		auth:    auth,
		decoder: decoder,
		logger:  log.With(logger, "source", "mqtt"),
		out:     make(chan *telemetry.Observation, bufferSize),
		done:    make(chan struct{}),
	}
}

func (s *MQTTSource) Start(context.Context) (<-chan *telemetry.Observation, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.MQTTBrokerURL()).
		SetClientID(s.cfg.GroupID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryWait).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			metricFetchErrors.Inc()
			level.Error(s.logger).Log("msg", "mqtt connection lost", "err", err)
		})
	if s.auth.Username != "" {
		opts = opts.SetUsername(s.auth.Username).SetPassword(s.auth.Password)
	}

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrapf(token.Error(), "connecting to mqtt broker %s", s.cfg.MQTTBrokerURL())
	}
	if token := s.client.Subscribe(s.cfg.Topic, 1, s.handleMessage); token.Wait() && token.Error() != nil {
		s.client.Disconnect(mqttDisconnectQuiesce)
		return nil, errors.Wrapf(token.Error(), "subscribing to %s", s.cfg.Topic)
	}

	level.Info(s.logger).Log("msg", "mqtt consumer started",
		"broker", s.cfg.MQTTBrokerURL(), "topic", s.cfg.Topic, "client_id", s.cfg.GroupID)
	return s.out, nil
}

// Disconnect unsubscribes, waits for in-flight handlers, and closes the
// out channel.
func (s *MQTTSource) Disconnect(context.Context) error {
	if token := s.client.Unsubscribe(s.cfg.Topic); token.Wait() && token.Error() != nil {
		level.Warn(s.logger).Log("msg", "error unsubscribing", "err", token.Error())
	}
	s.client.Disconnect(mqttDisconnectQuiesce)
	close(s.done)
	s.handlers.Wait()
	close(s.out)
	level.Info(s.logger).Log("msg", "mqtt consumer disconnected")
	return nil
}

func (s *MQTTSource) handleMessage(_ mqtt.Client, m mqtt.Message) {
	s.handlers.Add(1)
	defer s.handlers.Done()

	select {
	case <-s.done:
		metricRecordsDropped.WithLabelValues(reasonShutdown).Inc()
		return
	default:
	}

	obs, err := s.decodeJSON(m.Payload())
	if err != nil {
		metricRecordsDropped.WithLabelValues(reasonDecodeError).Inc()
		level.Error(s.logger).Log("msg", "dropping undecodable record", "topic", m.Topic(), "err", err)
		return
	}
	select {
	case s.out <- obs:
		metricRecordsConsumed.Inc()
	case <-s.done:
		metricRecordsDropped.WithLabelValues(reasonShutdown).Inc()
	}
}

// jsonMessage mirrors siscompb.Message for the MQTT wire.
type jsonMessage struct {
	Data     map[string]string `json:"data"`
	Metadata *jsonMetadata     `json:"metadata"`
	UUID     string            `json:"uuid"`
	Raw      string            `json:"raw"`
	Suntech  *jsonFields       `json:"suntech"`
	Queclink *jsonFields       `json:"queclink"`
}

type jsonMetadata struct {
	Bytes         int32  `json:"bytes"`
	ClientIP      string `json:"client_ip"`
	ClientPort    int32  `json:"client_port"`
	DecodedEpoch  int64  `json:"decoded_epoch"`
	ReceivedEpoch int64  `json:"received_epoch"`
	WorkerID      int32  `json:"worker_id"`
}

type jsonFields struct {
	Fields map[string]string `json:"fields"`
}

func (s *MQTTSource) decodeJSON(payload []byte) (*telemetry.Observation, error) {
	var jm jsonMessage
	if err := json.Unmarshal(payload, &jm); err != nil {
		return nil, errors.Wrap(err, "decoding record")
	}

	msg := &siscompb.Message{
		Data: jm.Data,
		UUID: jm.UUID,
		Raw:  jm.Raw,
	}
	if jm.Metadata != nil {
		msg.Metadata = &siscompb.Metadata{
			Bytes:         jm.Metadata.Bytes,
			ClientIP:      jm.Metadata.ClientIP,
			ClientPort:    jm.Metadata.ClientPort,
			DecodedEpoch:  jm.Metadata.DecodedEpoch,
			ReceivedEpoch: jm.Metadata.ReceivedEpoch,
			WorkerID:      jm.Metadata.WorkerID,
		}
	}
	if jm.Suntech != nil {
		msg.Suntech = &siscompb.DeviceFields{Fields: jm.Suntech.Fields}
	}
	if jm.Queclink != nil {
		msg.Queclink = &siscompb.DeviceFields{Fields: jm.Queclink.Fields}
	}
	return s.decoder.FromMessage(msg)
}
