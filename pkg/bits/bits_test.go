package bits

import "testing"

func TestBit(t *testing.T) {
	tests := []struct {
		n        uint
		expected uint32
	}{
		{0, 0x01}, {4, 0x10}, {8, 0x100}, {31, 0x80000000},
		{32, 0x00}, //out of range silently ignored
	}

	for _, tt := range tests {
		if res := Bit(tt.n); res != tt.expected {
			t.Errorf("Bit(%d) = 0x%08X; want 0x%08X", tt.n, res, tt.expected)
		}
	}
}

func TestIsSetSetClear(t *testing.T) {
	w := uint32(0x80000101)
	if !IsSet(w, 31) {
		t.Error("Bit 31 should be set")
	}
	if IsSet(w, 30) {
		t.Error("Bit 30 should NOT be set")
	}
	if !IsSet(w, 8) {
		t.Error("Bit 8 should be set")
	}
	if got := Set(0, 9); got != 0x200 {
		t.Errorf("Set(0, 9) = 0x%X; want 0x200", got)
	}
	if got := Clear(w, 31); got != 0x101 {
		t.Errorf("Clear(w, 31) = 0x%X; want 0x101", got)
	}
}

func TestGetRange(t *testing.T) {
	tests := []struct {
		name     string
		input    uint32
		high     uint
		low      uint
		expected uint32
	}{
		{"Card state tran", 0x00000900, 12, 9, 4},
		{"RCA upper half", 0xB36D0500, 31, 16, 0xB36D},
		{"Single bit", 0x40000000, 30, 30, 1},
		{"Full word", 0xDEADBEEF, 31, 0, 0xDEADBEEF},
		{"Inverted range", 0xFFFFFFFF, 3, 4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if res := GetRange(tt.input, tt.high, tt.low); res != tt.expected {
				t.Errorf("GetRange(0x%08X, %d, %d) = 0x%X; want 0x%X", tt.input, tt.high, tt.low, res, tt.expected)
			}
		})
	}
}

func TestGetRange64(t *testing.T) {
	v := uint64(0x0235800000000000)
	if got := GetRange64(v, 51, 48); got != 0x5 {
		t.Errorf("GetRange64 bus widths = 0x%X; want 0x5", got)
	}
	if got := GetRange64(v, 63, 0); got != v {
		t.Errorf("GetRange64 full = 0x%X; want 0x%X", got, v)
	}
	if got := GetRange64(v, 64, 0); got != 0 {
		t.Errorf("GetRange64 out of range = 0x%X; want 0", got)
	}
}

func TestField128(t *testing.T) {
	var reg [4]uint32

	// C_SIZE of a CSD v2 straddles words 1 and 2.
	SetField128(&reg, 69, 48, 0x0EE7)
	SetField128(&reg, 127, 126, 1)

	if got := Field128(reg, 69, 48); got != 0x0EE7 {
		t.Errorf("Field128(69, 48) = 0x%X; want 0xEE7", got)
	}
	if got := Field128(reg, 127, 126); got != 1 {
		t.Errorf("Field128(127, 126) = %d; want 1", got)
	}
	if reg[3] != 0x40000000 {
		t.Errorf("word 3 = 0x%08X; want 0x40000000", reg[3])
	}
	if got := Field128(reg, 127, 64); got != 0 {
		t.Errorf("Field128 wider than 32 bits = 0x%X; want 0", got)
	}

	SetField128(&reg, 69, 48, 0)
	if reg[1] != 0 || reg[2] != 0 {
		t.Errorf("clearing C_SIZE left words 0x%08X 0x%08X", reg[1], reg[2])
	}
}
