package nexus

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// The nexus payload encoding is the protobuf wire format: a varint tag with
// a 3-bit wire type followed by the value. protowire supplies the primitive
// codec; these helpers keep the message encoders declarative and make tag
// numbers explicit at every call site.

// TLVWriter accumulates tagged fields into a payload
type TLVWriter struct {
	buf []byte
}

// Bytes returns the encoded payload
func (w *TLVWriter) Bytes() []byte {
	return w.buf
}

// WriteVarintField appends an unsigned varint field
func (w *TLVWriter) WriteVarintField(tag int, v uint64) {
	w.buf = protowire.AppendTag(w.buf, protowire.Number(tag), protowire.VarintType)
	w.buf = protowire.AppendVarint(w.buf, v)
}

// WriteSVarintField appends a zig-zag encoded signed varint field
func (w *TLVWriter) WriteSVarintField(tag int, v int64) {
	w.buf = protowire.AppendTag(w.buf, protowire.Number(tag), protowire.VarintType)
	w.buf = protowire.AppendVarint(w.buf, protowire.EncodeZigZag(v))
}

// WriteBooleanField appends a bool as a 0/1 varint field
func (w *TLVWriter) WriteBooleanField(tag int, v bool) {
	var n uint64
	if v {
		n = 1
	}
	w.WriteVarintField(tag, n)
}

// WriteStringField appends a length-delimited string field
func (w *TLVWriter) WriteStringField(tag int, s string) {
	w.buf = protowire.AppendTag(w.buf, protowire.Number(tag), protowire.BytesType)
	w.buf = protowire.AppendString(w.buf, s)
}

// WriteBytesField appends a length-delimited bytes field
func (w *TLVWriter) WriteBytesField(tag int, b []byte) {
	w.buf = protowire.AppendTag(w.buf, protowire.Number(tag), protowire.BytesType)
	w.buf = protowire.AppendBytes(w.buf, b)
}

// WriteDoubleField appends a fixed64 IEEE-754 field
func (w *TLVWriter) WriteDoubleField(tag int, v float64) {
	w.buf = protowire.AppendTag(w.buf, protowire.Number(tag), protowire.Fixed64Type)
	w.buf = protowire.AppendFixed64(w.buf, math.Float64bits(v))
}

// TLVField is one decoded field. Exactly one of the value members is
// meaningful for a given wire type.
type TLVField struct {
	Tag    int
	Type   protowire.Type
	Varint uint64
	Bytes  []byte
	Fixed  uint64
}

// Bool interprets a varint field as a boolean
func (f TLVField) Bool() bool {
	return f.Varint != 0
}

// SVarint interprets a varint field as zig-zag signed
func (f TLVField) SVarint() int64 {
	return protowire.DecodeZigZag(f.Varint)
}

// Double interprets a fixed64 field as IEEE-754
func (f TLVField) Double() float64 {
	return math.Float64frombits(f.Fixed)
}

// String interprets a length-delimited field as a string
func (f TLVField) String() string {
	return string(f.Bytes)
}

// ConsumeFields walks every field in the payload, invoking fn for each.
// Unknown tags are the caller's to skip; decoders assign by tag into a
// record pre-filled with defaults so missing tags keep their default value.
func ConsumeFields(payload []byte, fn func(f TLVField) error) error {
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return fmt.Errorf("consume tag: %w", protowire.ParseError(n))
		}
		payload = payload[n:]

		field := TLVField{Tag: int(num), Type: typ}

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return fmt.Errorf("consume varint (tag %d): %w", num, protowire.ParseError(n))
			}
			field.Varint = v
			payload = payload[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(payload)
			if n < 0 {
				return fmt.Errorf("consume fixed64 (tag %d): %w", num, protowire.ParseError(n))
			}
			field.Fixed = v
			payload = payload[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(payload)
			if n < 0 {
				return fmt.Errorf("consume fixed32 (tag %d): %w", num, protowire.ParseError(n))
			}
			field.Fixed = uint64(v)
			payload = payload[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return fmt.Errorf("consume bytes (tag %d): %w", num, protowire.ParseError(n))
			}
			field.Bytes = v
			payload = payload[n:]
		default:
			return fmt.Errorf("unsupported wire type %d (tag %d)", typ, num)
		}

		if err := fn(field); err != nil {
			return err
		}
	}
	return nil
}
