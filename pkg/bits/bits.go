// Package bits extracts and sets bit ranges in SD card registers.
//
// Bits are numbered from 0 (least significant), the way the SD Physical Layer
// specification numbers register fields, e.g. CSD_STRUCTURE is [127:126].
package bits

// Bit returns a word with only the n-th bit set (0 to 31).
func Bit(n uint) uint32 {
	if n > 31 {
		return 0
	}
	return 1 << n
}

// IsSet checks if the n-th bit is set (0 to 31).
func IsSet(w uint32, n uint) bool {
	return w&Bit(n) != 0
}

// Set returns w with bit n set.
func Set(w uint32, n uint) uint32 {
	return w | Bit(n)
}

// Clear returns w with bit n cleared.
func Clear(w uint32, n uint) uint32 {
	return w &^ Bit(n)
}

// GetRange extracts the value from a range of bits (e.g., bits 12 to 9).
// Example: GetRange(0x00000900, 12, 9) returns 4.
func GetRange(w uint32, high, low uint) uint32 {
	return uint32(GetRange64(uint64(w), high, low))
}

// GetRange64 is GetRange over a 64-bit value (bits 63 to 0).
func GetRange64(v uint64, high, low uint) uint64 {
	if high < low || high > 63 {
		return 0
	}
	width := high - low + 1
	if width == 64 {
		return v
	}
	return (v >> low) & (1<<width - 1)
}

// Field128 extracts bits high..low from a 128-bit register stored as four
// 32-bit words, word 0 holding bits 31..0. The field may straddle two words
// but must not be wider than 32 bits.
func Field128(words [4]uint32, high, low uint) uint32 {
	if high < low || high > 127 || high-low >= 32 {
		return 0
	}
	w := low / 32
	window := uint64(words[w])
	if w < 3 {
		window |= uint64(words[w+1]) << 32
	}
	off := low % 32
	return uint32(GetRange64(window, off+(high-low), off))
}

// SetField128 stores v into bits high..low of a 128-bit register.
// Bits of v above the field width are dropped.
func SetField128(words *[4]uint32, high, low uint, v uint32) {
	if high < low || high > 127 || high-low >= 32 {
		return
	}
	for n := low; n <= high; n++ {
		w, off := n/32, n%32
		if IsSet(v, n-low) {
			words[w] = Set(words[w], off)
		} else {
			words[w] = Clear(words[w], off)
		}
	}
}
