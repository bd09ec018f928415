// Package tlv maps BER-TLV (Basic Encoding Rules - Tag-Length-Value) data to
// and from Go structures using struct tags.
//
// A field is bound to a tag with `tlv:"DF01"`. Options follow the tag:
//
//	tlv:"DF02,len=8"        the value must be exactly 8 bytes
//	tlv:"DF07,required"     decoding fails when the tag is absent
//	tlv:",unknown"          collects tags no other field claimed
//
// A field named Unknown of type []bertlv.TLV is treated as ",unknown".
package tlv

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/moov-io/bertlv"
)

type fieldTag struct {
	tag      string
	length   int
	required bool
	unknown  bool
}

func parseFieldTag(f reflect.StructField) fieldTag {
	if f.Name == "Unknown" && f.Type == reflect.TypeOf([]bertlv.TLV{}) {
		return fieldTag{unknown: true}
	}

	cfg := f.Tag.Get("tlv")
	if cfg == "" {
		return fieldTag{}
	}

	parts := strings.Split(cfg, ",")
	ft := fieldTag{tag: strings.ToUpper(strings.TrimSpace(parts[0]))}
	for _, opt := range parts[1:] {
		opt = strings.TrimSpace(opt)
		switch {
		case opt == "unknown":
			ft.unknown = true
		case opt == "required":
			ft.required = true
		case strings.HasPrefix(opt, "len="):
			if n, err := strconv.Atoi(strings.TrimPrefix(opt, "len=")); err == nil {
				ft.length = n
			}
		}
	}
	return ft
}

var marshalerType = reflect.TypeOf((*Marshaler)(nil)).Elem()

// isMarshaler reports whether v encodes itself through MarshalTLV.
func isMarshaler(v reflect.Value) bool {
	if v.Kind() == reflect.Ptr && v.IsNil() {
		return false
	}
	return v.CanInterface() && v.Type().Implements(marshalerType)
}

func isByteSlice(v reflect.Value) bool {
	return v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8
}

func isStructOrPtrToStruct(v reflect.Value) bool {
	if v.Kind() == reflect.Struct {
		return true
	}
	return v.Kind() == reflect.Ptr && v.Type().Elem().Kind() == reflect.Struct
}

func structValue(target interface{}) (reflect.Value, bool) {
	v := reflect.ValueOf(target)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	return v, v.Kind() == reflect.Struct
}
