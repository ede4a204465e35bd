package trait

import (
	"bufio"
	"fmt"
	"io"

	"github.com/ethan/nest-nexus-bridge/pkg/nexus"
)

// State types carried in observe requests and trait states. ACCEPTED marks
// the backend-acknowledged copy of a pending write.
const (
	StateTypeConfirmed = 1
	StateTypeAccepted  = 2
)

// Wire layout, gateway observe:
//
//	ObserveRequest   1: stateTypes (varint, repeated)
//	                 2: traitTypeParams { 1: traitType (string) }
//	StreamBody       1: observeResponse (repeated; only the first is read)
//	ObserveResponse  1: traitStates    (repeated TraitState)
//	                 2: resourceMetas  (repeated ResourceMeta)
//	TraitState       1: traitId  { 1: resourceId, 2: traitLabel }
//	                 2: patch    { 1: values (Struct) }
//	                 3: stateTypes (varint, repeated)
//	ResourceMeta     1: resourceId (string)
//	                 2: status     (string)
//
// Patch values use the google.protobuf.Struct encoding, decoded here into
// plain maps so the store merge is shape-compatible with the REST source.

// TraitState is one decoded per-trait patch
type TraitState struct {
	ResourceID string
	TraitLabel string
	Values     map[string]any
	StateTypes []int
}

// Accepted reports whether the state carries the ACCEPTED marker
func (s TraitState) Accepted() bool {
	for _, t := range s.StateTypes {
		if t == StateTypeAccepted {
			return true
		}
	}
	return false
}

// ResourceMeta is a resource lifecycle marker
type ResourceMeta struct {
	ResourceID string
	Status     string
}

// Batch is one decoded observe response
type Batch struct {
	TraitStates   []TraitState
	ResourceMetas []ResourceMeta
}

// EncodeObserveRequest builds the observe body for a trait-type catalog
func EncodeObserveRequest(traitTypes []string) []byte {
	var w nexus.TLVWriter
	w.WriteVarintField(1, StateTypeConfirmed)
	w.WriteVarintField(1, StateTypeAccepted)
	for _, t := range traitTypes {
		var param nexus.TLVWriter
		param.WriteStringField(1, t)
		w.WriteBytesField(2, param.Bytes())
	}
	return w.Bytes()
}

// maxLengthVarintBytes bounds the frame length prefix
const maxLengthVarintBytes = 5

// StreamReader splits the chunked observe body into framed messages: one
// tag byte, a base-128 varint length, then the payload.
type StreamReader struct {
	r *bufio.Reader
}

func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{r: bufio.NewReader(r)}
}

// Next returns the next framed payload, or io.EOF at end of stream
func (s *StreamReader) Next() ([]byte, error) {
	if _, err := s.r.ReadByte(); err != nil {
		return nil, err
	}

	var length uint64
	for i := 0; ; i++ {
		if i == maxLengthVarintBytes {
			return nil, fmt.Errorf("frame length varint exceeds %d bytes", maxLengthVarintBytes)
		}
		b, err := s.r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("read frame length: %w", err)
		}
		length |= uint64(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			break
		}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(s.r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}

// DecodeBatch decodes one framed StreamBody payload
func DecodeBatch(payload []byte) (*Batch, error) {
	var first []byte
	err := nexus.ConsumeFields(payload, func(f nexus.TLVField) error {
		if f.Tag == 1 && first == nil {
			first = f.Bytes
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode stream body: %w", err)
	}
	if first == nil {
		return &Batch{}, nil
	}

	batch := &Batch{}
	err = nexus.ConsumeFields(first, func(f nexus.TLVField) error {
		switch f.Tag {
		case 1:
			state, err := decodeTraitState(f.Bytes)
			if err != nil {
				return err
			}
			batch.TraitStates = append(batch.TraitStates, state)
		case 2:
			meta, err := decodeResourceMeta(f.Bytes)
			if err != nil {
				return err
			}
			batch.ResourceMetas = append(batch.ResourceMetas, meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode observe response: %w", err)
	}
	return batch, nil
}

func decodeTraitState(b []byte) (TraitState, error) {
	var state TraitState
	err := nexus.ConsumeFields(b, func(f nexus.TLVField) error {
		switch f.Tag {
		case 1:
			return nexus.ConsumeFields(f.Bytes, func(id nexus.TLVField) error {
				switch id.Tag {
				case 1:
					state.ResourceID = id.String()
				case 2:
					state.TraitLabel = id.String()
				}
				return nil
			})
		case 2:
			return nexus.ConsumeFields(f.Bytes, func(p nexus.TLVField) error {
				if p.Tag == 1 {
					values, err := decodeStruct(p.Bytes)
					if err != nil {
						return err
					}
					state.Values = values
				}
				return nil
			})
		case 3:
			state.StateTypes = append(state.StateTypes, int(f.Varint))
		}
		return nil
	})
	return state, err
}

func decodeResourceMeta(b []byte) (ResourceMeta, error) {
	var meta ResourceMeta
	err := nexus.ConsumeFields(b, func(f nexus.TLVField) error {
		switch f.Tag {
		case 1:
			meta.ResourceID = f.String()
		case 2:
			meta.Status = f.String()
		}
		return nil
	})
	return meta, err
}

// decodeStruct decodes a google.protobuf.Struct payload into a plain map
func decodeStruct(b []byte) (map[string]any, error) {
	out := map[string]any{}
	err := nexus.ConsumeFields(b, func(f nexus.TLVField) error {
		if f.Tag != 1 {
			return nil
		}
		var key string
		var value any
		err := nexus.ConsumeFields(f.Bytes, func(e nexus.TLVField) error {
			switch e.Tag {
			case 1:
				key = e.String()
			case 2:
				v, err := decodeStructValue(e.Bytes)
				if err != nil {
					return err
				}
				value = v
			}
			return nil
		})
		if err != nil {
			return err
		}
		if key != "" {
			out[key] = value
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func decodeStructValue(b []byte) (any, error) {
	var out any
	err := nexus.ConsumeFields(b, func(f nexus.TLVField) error {
		switch f.Tag {
		case 1: // null_value
			out = nil
		case 2: // number_value
			out = f.Double()
		case 3: // string_value
			out = f.String()
		case 4: // bool_value
			out = f.Bool()
		case 5: // struct_value
			v, err := decodeStruct(f.Bytes)
			if err != nil {
				return err
			}
			out = v
		case 6: // list_value
			var list []any
			err := nexus.ConsumeFields(f.Bytes, func(item nexus.TLVField) error {
				if item.Tag != 1 {
					return nil
				}
				v, err := decodeStructValue(item.Bytes)
				if err != nil {
					return err
				}
				list = append(list, v)
				return nil
			})
			if err != nil {
				return err
			}
			out = list
		}
		return nil
	})
	return out, err
}

// EncodeStruct encodes a plain map as a google.protobuf.Struct payload.
// The observer only decodes; the dispatcher builds write payloads with it.
func EncodeStruct(m map[string]any) []byte {
	return encodeStruct(m)
}

// DecodeStruct decodes a google.protobuf.Struct payload into a plain map
func DecodeStruct(b []byte) (map[string]any, error) {
	return decodeStruct(b)
}

func encodeStruct(m map[string]any) []byte {
	var w nexus.TLVWriter
	for k, v := range m {
		var entry nexus.TLVWriter
		entry.WriteStringField(1, k)
		entry.WriteBytesField(2, encodeStructValue(v))
		w.WriteBytesField(1, entry.Bytes())
	}
	return w.Bytes()
}

func encodeStructValue(v any) []byte {
	var w nexus.TLVWriter
	switch t := v.(type) {
	case nil:
		w.WriteVarintField(1, 0)
	case float64:
		w.WriteDoubleField(2, t)
	case int:
		w.WriteDoubleField(2, float64(t))
	case string:
		w.WriteStringField(3, t)
	case bool:
		w.WriteBooleanField(4, t)
	case map[string]any:
		w.WriteBytesField(5, encodeStruct(t))
	case []any:
		var list nexus.TLVWriter
		for _, item := range t {
			list.WriteBytesField(1, encodeStructValue(item))
		}
		w.WriteBytesField(6, list.Bytes())
	}
	return w.Bytes()
}
