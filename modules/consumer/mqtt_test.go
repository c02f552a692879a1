package consumer

import (
	"context"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JesusCabrera84/siscom-consumer/pkg/telemetry"
)

type fakeMQTTMessage struct {
	payload []byte
}

func (m fakeMQTTMessage) Duplicate() bool   { return false }
func (m fakeMQTTMessage) Qos() byte         { return 1 }
func (m fakeMQTTMessage) Retained() bool    { return false }
func (m fakeMQTTMessage) Topic() string     { return testTopic }
func (m fakeMQTTMessage) MessageID() uint16 { return 1 }
func (m fakeMQTTMessage) Payload() []byte   { return m.payload }
func (m fakeMQTTMessage) Ack()              {}

const mqttTestPayload = `{
	"data": {"DEVICE_ID": "867730050855555", "MSG_CLASS": "STT", "LATITUD": "19.432608"},
	"metadata": {"bytes": 64, "client_ip": "10.0.0.7", "received_epoch": 1700000000},
	"uuid": "uuid-mqtt-1",
	"raw": "ST300STT;867730050855555",
	"suntech": {"fields": {"HDR": "ST300STT"}}
}`

func newMQTTTestSource(bufferSize int) *MQTTSource {
	cfg := Config{Kind: KindMQTT, Host: "127.0.0.1", Topic: testTopic, GroupID: testGroup}
	s := NewMQTTSource(cfg, MQTTAuth{}, telemetry.NewDecoder(log.NewNopLogger()), bufferSize, log.NewNopLogger())
	// A client that never connected: Unsubscribe reports an error that
	// Disconnect logs and tolerates, and the paho disconnect is a no-op.
	s.client = mqtt.NewClient(mqtt.NewClientOptions().AddBroker(cfg.MQTTBrokerURL()))
	return s
}

func TestMQTTSourceDecodesMessages(t *testing.T) {
	s := newMQTTTestSource(1)

	s.handleMessage(nil, fakeMQTTMessage{payload: []byte(mqttTestPayload)})

	obs := <-s.out
	assert.Equal(t, "uuid-mqtt-1", obs.UUID)
	assert.Equal(t, "867730050855555", obs.DeviceID)
	assert.Equal(t, telemetry.Suntech, obs.Manufacturer)
	assert.Equal(t, int32(64), obs.BytesCount)
}

func TestMQTTSourceDropsUndecodablePayloads(t *testing.T) {
	s := newMQTTTestSource(1)

	s.handleMessage(nil, fakeMQTTMessage{payload: []byte("not json")})
	s.handleMessage(nil, fakeMQTTMessage{payload: []byte(`{"uuid": "u"}`)}) // missing metadata

	select {
	case obs := <-s.out:
		t.Fatalf("unexpected observation %q from undecodable payloads", obs.UUID)
	default:
	}
}

func TestMQTTSourceDisconnectUnblocksPendingHandler(t *testing.T) {
	s := newMQTTTestSource(1)

	// The first message fills the single-slot channel; the second
	// blocks inside its handler on the send.
	s.handleMessage(nil, fakeMQTTMessage{payload: []byte(mqttTestPayload)})
	blocked := make(chan struct{})
	go func() {
		s.handleMessage(nil, fakeMQTTMessage{payload: []byte(mqttTestPayload)})
		close(blocked)
	}()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, s.Disconnect(context.Background()))

	select {
	case <-blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("pending handler still blocked after disconnect")
	}

	// The buffered record drains and the channel ends up closed; the
	// pending record was dropped, not sent into the close.
	obs, ok := <-s.out
	require.True(t, ok)
	assert.Equal(t, "uuid-mqtt-1", obs.UUID)
	_, ok = <-s.out
	assert.False(t, ok)
}

func TestMQTTSourceHandlerAfterDisconnectDoesNotPanic(t *testing.T) {
	s := newMQTTTestSource(1)
	require.NoError(t, s.Disconnect(context.Background()))

	// A straggler delivery after the channel closed must be discarded.
	s.handleMessage(nil, fakeMQTTMessage{payload: []byte(mqttTestPayload)})

	_, ok := <-s.out
	assert.False(t, ok)
}
