package tlv

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

// Hex decodes test fixtures written as hex fragments, one per TLV element
// if convenient. Whitespace and colons are skipped. Each fragment must
// hold whole bytes; anything else panics.
func Hex(parts ...string) []byte {
	var out []byte
	for _, p := range parts {
		digits := strings.Map(func(r rune) rune {
			if r == ':' || unicode.IsSpace(r) {
				return -1
			}
			return r
		}, p)

		var err error
		if out, err = hex.AppendDecode(out, []byte(digits)); err != nil {
			panic(fmt.Sprintf("tlv.Hex: fragment %q: %v", p, err))
		}
	}
	return out
}
