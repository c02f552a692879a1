// Package siscompb implements the wire format of the decoder fleet: a
// small protobuf schema (siscom.proto) encoded and decoded by hand on
// top of protowire. The schema is fixed and tiny, so the hand-rolled
// codec keeps the module free of generated code and of a protoc build
// step.
package siscompb

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from siscom.proto.
const (
	messageDataField     = 1
	messageMetadataField = 2
	messageUUIDField     = 3
	messageRawField      = 4
	messageSuntechField  = 5
	messageQueclinkField = 6

	metadataBytesField         = 1
	metadataClientIPField      = 2
	metadataClientPortField    = 3
	metadataDecodedEpochField  = 4
	metadataReceivedEpochField = 5
	metadataWorkerIDField      = 6

	deviceFieldsField = 1

	mapKeyField   = 1
	mapValueField = 2
)

// Message is one device observation. Exactly one of Suntech or
// Queclink is expected to be set; decoding keeps whichever variant
// appears last on the wire, matching proto3 oneof semantics.
type Message struct {
	Data     map[string]string
	Metadata *Metadata
	UUID     string
	Raw      string
	Suntech  *DeviceFields
	Queclink *DeviceFields
}

// Metadata describes the receiving server side of the observation.
type Metadata struct {
	Bytes         int32
	ClientIP      string
	ClientPort    int32
	DecodedEpoch  int64
	ReceivedEpoch int64
	WorkerID      int32
}

// DeviceFields is the manufacturer-specific raw key/value block.
type DeviceFields struct {
	Fields map[string]string
}

// Marshal encodes the message. Map entries are emitted in sorted key
// order so the output is deterministic.
func (m *Message) Marshal() ([]byte, error) {
	b := make([]byte, 0, m.size())
	b = appendStringMap(b, messageDataField, m.Data)
	if m.Metadata != nil {
		b = protowire.AppendTag(b, messageMetadataField, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Metadata.marshal())
	}
	if m.UUID != "" {
		b = protowire.AppendTag(b, messageUUIDField, protowire.BytesType)
		b = protowire.AppendString(b, m.UUID)
	}
	if m.Raw != "" {
		b = protowire.AppendTag(b, messageRawField, protowire.BytesType)
		b = protowire.AppendString(b, m.Raw)
	}
	if m.Suntech != nil && m.Queclink != nil {
		return nil, fmt.Errorf("both decoded variants set")
	}
	if m.Suntech != nil {
		b = protowire.AppendTag(b, messageSuntechField, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Suntech.marshal())
	}
	if m.Queclink != nil {
		b = protowire.AppendTag(b, messageQueclinkField, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Queclink.marshal())
	}
	return b, nil
}

// Unmarshal decodes the message, resetting m first. Unknown fields are
// skipped; truncated or malformed input is an error.
func (m *Message) Unmarshal(data []byte) error {
	*m = Message{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("reading field tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("skipping field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return fmt.Errorf("reading field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case messageDataField:
			key, val, err := consumeMapEntry(v)
			if err != nil {
				return fmt.Errorf("data entry: %w", err)
			}
			if m.Data == nil {
				m.Data = make(map[string]string)
			}
			m.Data[key] = val
		case messageMetadataField:
			md := &Metadata{}
			if err := md.unmarshal(v); err != nil {
				return fmt.Errorf("metadata: %w", err)
			}
			m.Metadata = md
		case messageUUIDField:
			m.UUID = string(v)
		case messageRawField:
			m.Raw = string(v)
		case messageSuntechField:
			df := &DeviceFields{}
			if err := df.unmarshal(v); err != nil {
				return fmt.Errorf("suntech block: %w", err)
			}
			m.Suntech, m.Queclink = df, nil
		case messageQueclinkField:
			df := &DeviceFields{}
			if err := df.unmarshal(v); err != nil {
				return fmt.Errorf("queclink block: %w", err)
			}
			m.Queclink, m.Suntech = df, nil
		}
	}
	return nil
}

func (m *Message) size() int {
	n := len(m.UUID) + len(m.Raw) + 64
	for k, v := range m.Data {
		n += len(k) + len(v) + 8
	}
	if m.Suntech != nil {
		for k, v := range m.Suntech.Fields {
			n += len(k) + len(v) + 8
		}
	}
	if m.Queclink != nil {
		for k, v := range m.Queclink.Fields {
			n += len(k) + len(v) + 8
		}
	}
	return n
}

func (md *Metadata) marshal() []byte {
	var b []byte
	b = appendVarintField(b, metadataBytesField, uint64(int64(md.Bytes)))
	if md.ClientIP != "" {
		b = protowire.AppendTag(b, metadataClientIPField, protowire.BytesType)
		b = protowire.AppendString(b, md.ClientIP)
	}
	b = appendVarintField(b, metadataClientPortField, uint64(int64(md.ClientPort)))
	b = appendVarintField(b, metadataDecodedEpochField, uint64(md.DecodedEpoch))
	b = appendVarintField(b, metadataReceivedEpochField, uint64(md.ReceivedEpoch))
	b = appendVarintField(b, metadataWorkerIDField, uint64(int64(md.WorkerID)))
	return b
}

func (md *Metadata) unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == metadataClientIPField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			md.ClientIP = string(v)
			data = data[n:]
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			switch num {
			case metadataBytesField:
				md.Bytes = int32(v)
			case metadataClientPortField:
				md.ClientPort = int32(v)
			case metadataDecodedEpochField:
				md.DecodedEpoch = int64(v)
			case metadataReceivedEpochField:
				md.ReceivedEpoch = int64(v)
			case metadataWorkerIDField:
				md.WorkerID = int32(v)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

func (df *DeviceFields) marshal() []byte {
	var b []byte
	b = appendStringMap(b, deviceFieldsField, df.Fields)
	return b
}

func (df *DeviceFields) unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		if num == deviceFieldsField && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			key, val, err := consumeMapEntry(v)
			if err != nil {
				return err
			}
			if df.Fields == nil {
				df.Fields = make(map[string]string)
			}
			df.Fields[key] = val
			data = data[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
	}
	return nil
}

func appendStringMap(b []byte, num protowire.Number, m map[string]string) []byte {
	if len(m) == 0 {
		return b
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var entry []byte
		if k != "" {
			entry = protowire.AppendTag(entry, mapKeyField, protowire.BytesType)
			entry = protowire.AppendString(entry, k)
		}
		if v := m[k]; v != "" {
			entry = protowire.AppendTag(entry, mapValueField, protowire.BytesType)
			entry = protowire.AppendString(entry, v)
		}
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	b = protowire.AppendVarint(b, v)
	return b
}

// consumeMapEntry decodes one map<string,string> entry. Absent key or
// value fields default to the empty string, as proto3 prescribes.
func consumeMapEntry(data []byte) (string, string, error) {
	var key, val string
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", "", protowire.ParseError(n)
		}
		data = data[n:]

		if typ == protowire.BytesType && (num == mapKeyField || num == mapValueField) {
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return "", "", protowire.ParseError(n)
			}
			if num == mapKeyField {
				key = string(v)
			} else {
				val = string(v)
			}
			data = data[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return "", "", protowire.ParseError(n)
		}
		data = data[n:]
	}
	return key, val, nil
}
