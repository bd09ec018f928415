package tlv

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"
)

// WriteStructFields writes one line per populated tagged field of s to sb.
// Lines are joined with newlines without a trailing one; a newline is
// prepended when sb already holds content. Nested templates are walked with
// their field name appended to the prefix.
//
// The `fmt` struct tag selects the rendering of byte values: "ascii",
// "int" (big endian unsigned) or hex by default.
func WriteStructFields(sb *strings.Builder, prefix string, s interface{}) {
	lines := structLines(prefix, s)
	if len(lines) == 0 {
		return
	}
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(strings.Join(lines, "\n"))
}

func structLines(prefix string, s interface{}) []string {
	val, ok := structValue(s)
	if !ok {
		return nil
	}
	typ := val.Type()

	var lines []string
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		sf := typ.Field(i)
		ft := parseFieldTag(sf)

		switch {
		case ft.unknown:
			if tlvs, ok := field.Interface().([]bertlv.TLV); ok {
				for _, t := range tlvs {
					lines = append(lines, fmt.Sprintf("    - %s.Unknown Tag %s: %X", prefix, strings.ToUpper(t.Tag), packetData(t)))
				}
			}
		case isMarshaler(field):
			data, err := field.Interface().(Marshaler).MarshalTLV()
			if err != nil || len(data) == 0 {
				continue
			}
			lines = append(lines, fmt.Sprintf("    - %s.%s: %s", prefix, fieldName(sf.Name, ft.tag), formatByteValue(data, sf.Tag.Get("fmt"))))
		case isByteSlice(field):
			if field.Len() == 0 {
				continue
			}
			lines = append(lines, fmt.Sprintf("    - %s.%s: %s", prefix, fieldName(sf.Name, ft.tag), formatByteValue(field.Bytes(), sf.Tag.Get("fmt"))))
		case isStructOrPtrToStruct(field) && ft.tag != "":
			if field.Kind() == reflect.Ptr && field.IsNil() {
				continue
			}
			lines = append(lines, structLines(prefix+"."+sf.Name, field.Interface())...)
		}
	}
	return lines
}

func fieldName(name, tag string) string {
	if tag == "" {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, tag)
}

func formatByteValue(data []byte, format string) string {
	switch format {
	case "ascii":
		return fmt.Sprintf("%X (%q)", data, MakeSafeASCII(data))
	case "int":
		var integer uint64
		for _, b := range data {
			integer = integer<<8 | uint64(b)
		}
		return fmt.Sprintf("%X (Dec: %d)", data, integer)
	default:
		return fmt.Sprintf("%X", data)
	}
}

// MakeSafeASCII replaces non-printable bytes with dots.
func MakeSafeASCII(data []byte) string {
	return strings.Map(func(r rune) rune {
		if r >= 32 && r <= 126 {
			return r
		}
		return '.'
	}, string(data))
}
