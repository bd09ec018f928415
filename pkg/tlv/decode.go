package tlv

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"
)

// Unmarshaler allows custom types to implement their own TLV parsing logic.
type Unmarshaler interface {
	UnmarshalTLV(data []byte) error
}

// Unmarshal parses raw BER-TLV data and maps it into a target Go struct.
func Unmarshal(data []byte, target interface{}) error {
	packets, err := bertlv.Decode(data)
	if err != nil {
		return fmt.Errorf("bertlv decode failed: %w", err)
	}
	return UnmarshalFromPackets(packets, target)
}

// UnmarshalFromPackets maps pre-decoded packets to a target struct. The first
// packet matching a field's tag wins; later duplicates land in the unknown
// field if there is one.
func UnmarshalFromPackets(packets []bertlv.TLV, target interface{}) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("target must be a non-nil pointer")
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("target must point to a struct, got %s", v.Kind())
	}
	t := v.Type()

	consumed := make(map[int]bool)
	unknown := reflect.Value{}

	for i := 0; i < v.NumField(); i++ {
		ft := parseFieldTag(t.Field(i))
		if ft.unknown {
			unknown = v.Field(i)
			continue
		}
		if ft.tag == "" {
			continue
		}

		idx := findPacket(packets, ft.tag)
		if idx < 0 {
			if ft.required {
				return fmt.Errorf("mandatory tag '%s' not found", ft.tag)
			}
			continue
		}
		consumed[idx] = true

		raw := packetData(packets[idx])
		if ft.length > 0 && len(raw) != ft.length {
			return fmt.Errorf("tag '%s': want %d bytes, got %d", ft.tag, ft.length, len(raw))
		}
		if err := decodeToValue(packets[idx], v.Field(i)); err != nil {
			return fmt.Errorf("tag '%s': %w", ft.tag, err)
		}
	}

	if unknown.IsValid() && unknown.CanSet() {
		var leftovers []bertlv.TLV
		for idx, p := range packets {
			if !consumed[idx] {
				leftovers = append(leftovers, p)
			}
		}
		if len(leftovers) > 0 {
			unknown.Set(reflect.ValueOf(leftovers))
		}
	}
	return nil
}

func findPacket(packets []bertlv.TLV, tag string) int {
	for idx, p := range packets {
		if strings.EqualFold(p.Tag, tag) {
			return idx
		}
	}
	return -1
}

// decodeToValue handles one matched packet: custom unmarshaler, raw bytes,
// or a nested template.
func decodeToValue(packet bertlv.TLV, field reflect.Value) error {
	if field.CanAddr() {
		if u, ok := field.Addr().Interface().(Unmarshaler); ok {
			return u.UnmarshalTLV(packetData(packet))
		}
	}

	switch {
	case isByteSlice(field):
		field.SetBytes(append([]byte(nil), packetData(packet)...))
		return nil
	case isStructOrPtrToStruct(field):
		target := field
		if field.Kind() == reflect.Ptr {
			if field.IsNil() {
				field.Set(reflect.New(field.Type().Elem()))
			}
		} else {
			target = field.Addr()
		}
		if len(packet.TLVs) > 0 {
			return UnmarshalFromPackets(packet.TLVs, target.Interface())
		}
		return Unmarshal(packet.Value, target.Interface())
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
}

// packetData returns the value bytes, re-encoding the children of a
// constructed packet.
func packetData(p bertlv.TLV) []byte {
	if len(p.TLVs) > 0 {
		if enc, err := bertlv.Encode(p.TLVs); err == nil {
			return enc
		}
	}
	return p.Value
}
