package tlv

import (
	"fmt"
	"reflect"

	"github.com/moov-io/bertlv"
)

// Marshaler allows custom types to produce their own value bytes.
type Marshaler interface {
	MarshalTLV() ([]byte, error)
}

// Marshal encodes the tagged fields of source as the children of a single
// constructed template.
func Marshal(template string, source interface{}) ([]byte, error) {
	children, err := MarshalToPackets(source)
	if err != nil {
		return nil, err
	}
	out, err := bertlv.Encode([]bertlv.TLV{{Tag: template, TLVs: children}})
	if err != nil {
		return nil, fmt.Errorf("bertlv encode failed: %w", err)
	}
	return out, nil
}

// MarshalToPackets turns the tagged fields of source into packets, in field
// order. Empty optional fields are skipped; the unknown field is appended
// verbatim.
func MarshalToPackets(source interface{}) ([]bertlv.TLV, error) {
	v, ok := structValue(source)
	if !ok {
		return nil, fmt.Errorf("source must be a struct or a non-nil pointer to one")
	}
	t := v.Type()

	var packets []bertlv.TLV
	var extra []bertlv.TLV

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		ft := parseFieldTag(t.Field(i))
		if ft.unknown {
			if tlvs, ok := field.Interface().([]bertlv.TLV); ok {
				extra = tlvs
			}
			continue
		}
		if ft.tag == "" {
			continue
		}

		p, present, err := encodeValue(ft.tag, field)
		if err != nil {
			return nil, fmt.Errorf("tag '%s': %w", ft.tag, err)
		}
		if !present {
			if ft.required {
				return nil, fmt.Errorf("mandatory tag '%s' is empty", ft.tag)
			}
			continue
		}
		if ft.length > 0 && len(p.Value) != ft.length && len(p.TLVs) == 0 {
			return nil, fmt.Errorf("tag '%s': want %d bytes, got %d", ft.tag, ft.length, len(p.Value))
		}
		packets = append(packets, p)
	}

	return append(packets, extra...), nil
}

func encodeValue(tag string, field reflect.Value) (bertlv.TLV, bool, error) {
	if isMarshaler(field) {
		b, err := field.Interface().(Marshaler).MarshalTLV()
		if err != nil {
			return bertlv.TLV{}, false, err
		}
		return bertlv.TLV{Tag: tag, Value: b}, len(b) > 0, nil
	}

	switch {
	case isByteSlice(field):
		if field.Len() == 0 {
			return bertlv.TLV{}, false, nil
		}
		return bertlv.TLV{Tag: tag, Value: field.Bytes()}, true, nil
	case isStructOrPtrToStruct(field):
		if field.Kind() == reflect.Ptr && field.IsNil() {
			return bertlv.TLV{}, false, nil
		}
		children, err := MarshalToPackets(field.Interface())
		if err != nil {
			return bertlv.TLV{}, false, err
		}
		return bertlv.TLV{Tag: tag, TLVs: children}, len(children) > 0, nil
	default:
		return bertlv.TLV{}, false, fmt.Errorf("unsupported field kind %s", field.Kind())
	}
}
