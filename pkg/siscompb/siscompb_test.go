package siscompb

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestMarshalUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{
			name: "full suntech record",
			msg: &Message{
				Data: map[string]string{
					"DEVICE_ID":    "867698050000000",
					"GPS_DATETIME": "2024-05-01 10:20:30",
					"LATITUD":      "+20.673590",
					"LONGITUD":     "-103.416500",
					"SPEED":        "0.12",
					"MSG_CLASS":    "STT",
				},
				Metadata: &Metadata{
					Bytes:         128,
					ClientIP:      "10.0.0.7",
					ClientPort:    40312,
					DecodedEpoch:  1714558830,
					ReceivedEpoch: 1714558829,
					WorkerID:      3,
				},
				UUID: "0f0e8c4e-1111-4222-8333-444455556666",
				Raw:  "ST300STT;867698050000000;...",
				Suntech: &DeviceFields{
					Fields: map[string]string{"HEADER": "ST300STT", "MSG_TYPE": "STT"},
				},
			},
		},
		{
			name: "queclink record",
			msg: &Message{
				Data:     map[string]string{"DEVICE_ID": "135790246811220", "MSG_CLASS": "GTFRI"},
				Metadata: &Metadata{Bytes: 64, ClientPort: 9000},
				UUID:     "9b2f48f0-aaaa-bbbb-cccc-ddddeeee0000",
				Raw:      "+RESP:GTFRI,...",
				Queclink: &DeviceFields{
					Fields: map[string]string{"HEADER": "+RESP", "PROTOCOL_VERSION": "360100"},
				},
			},
		},
		{
			name: "no decoded variant",
			msg: &Message{
				Data:     map[string]string{"DEVICE_ID": "1"},
				Metadata: &Metadata{},
				UUID:     "u",
			},
		},
		{
			name: "empty map values survive",
			msg: &Message{
				Data:     map[string]string{"ALERT": "", "DEVICE_ID": "42"},
				Metadata: &Metadata{ReceivedEpoch: 7},
				UUID:     "u",
				Suntech:  &DeviceFields{},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := tc.msg.Marshal()
			require.NoError(t, err)

			var got Message
			require.NoError(t, got.Unmarshal(buf))

			require.Equal(t, tc.msg.Data, got.Data)
			require.Equal(t, tc.msg.UUID, got.UUID)
			require.Equal(t, tc.msg.Raw, got.Raw)
			if tc.msg.Metadata != nil {
				require.NotNil(t, got.Metadata)
				require.Equal(t, *tc.msg.Metadata, *got.Metadata)
			}
			requireSameFields(t, tc.msg.Suntech, got.Suntech)
			requireSameFields(t, tc.msg.Queclink, got.Queclink)
		})
	}
}

func requireSameFields(t *testing.T, want, got *DeviceFields) {
	t.Helper()
	if want == nil {
		require.Nil(t, got)
		return
	}
	require.NotNil(t, got)
	require.Equal(t, len(want.Fields), len(got.Fields))
	for k, v := range want.Fields {
		require.Equal(t, v, got.Fields[k])
	}
}

func TestMarshalDeterministic(t *testing.T) {
	msg := &Message{
		Data: map[string]string{"B": "2", "A": "1", "C": "3", "D": "4"},
		UUID: "u",
	}
	first, err := msg.Marshal()
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := msg.Marshal()
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestMarshalRejectsBothVariants(t *testing.T) {
	msg := &Message{
		UUID:     "u",
		Suntech:  &DeviceFields{},
		Queclink: &DeviceFields{},
	}
	_, err := msg.Marshal()
	require.Error(t, err)
}

func TestUnmarshalInvalidData(t *testing.T) {
	var msg Message
	require.Error(t, msg.Unmarshal([]byte("invalid data")))

	// A valid tag with a truncated length-delimited payload.
	b := protowire.AppendTag(nil, messageUUIDField, protowire.BytesType)
	b = protowire.AppendVarint(b, 100)
	b = append(b, "short"...)
	require.Error(t, msg.Unmarshal(b))
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	msg := &Message{UUID: "u", Raw: "r"}
	buf, err := msg.Marshal()
	require.NoError(t, err)

	// Unknown field numbers of every wire type must be ignored.
	buf = protowire.AppendTag(buf, 99, protowire.BytesType)
	buf = protowire.AppendString(buf, "future")
	buf = protowire.AppendTag(buf, 100, protowire.VarintType)
	buf = protowire.AppendVarint(buf, 12345)
	buf = protowire.AppendTag(buf, 101, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, 1)

	var got Message
	require.NoError(t, got.Unmarshal(buf))
	require.Equal(t, "u", got.UUID)
	require.Equal(t, "r", got.Raw)
}

func TestUnmarshalOneofLastWins(t *testing.T) {
	su := &Message{UUID: "u", Suntech: &DeviceFields{Fields: map[string]string{"HEADER": "ST300STT"}}}
	buf, err := su.Marshal()
	require.NoError(t, err)

	// Append a queclink variant after the suntech one; the decoder must
	// keep the last variant only.
	qc := &DeviceFields{Fields: map[string]string{"HEADER": "+RESP"}}
	buf = protowire.AppendTag(buf, messageQueclinkField, protowire.BytesType)
	buf = protowire.AppendBytes(buf, qc.marshal())

	var got Message
	require.NoError(t, got.Unmarshal(buf))
	require.Nil(t, got.Suntech)
	require.NotNil(t, got.Queclink)
	require.Equal(t, "+RESP", got.Queclink.Fields["HEADER"])
}

func TestUnmarshalNegativeInts(t *testing.T) {
	msg := &Message{
		UUID:     "u",
		Metadata: &Metadata{Bytes: -1, ClientPort: -2, DecodedEpoch: -3},
	}
	buf, err := msg.Marshal()
	require.NoError(t, err)

	var got Message
	require.NoError(t, got.Unmarshal(buf))
	require.Equal(t, int32(-1), got.Metadata.Bytes)
	require.Equal(t, int32(-2), got.Metadata.ClientPort)
	require.Equal(t, int64(-3), got.Metadata.DecodedEpoch)
}

func TestUnmarshalEmptyInput(t *testing.T) {
	var msg Message
	require.NoError(t, msg.Unmarshal(nil))
	require.Nil(t, msg.Data)
	require.Nil(t, msg.Metadata)
	require.Empty(t, msg.UUID)
}
