package sdxx

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/gregLibert/sd-card/pkg/bits"
)

// CARD REGISTERS:
// CID and CSD are 128-bit registers read with R2 responses during
// identification. SCR is 64 bits, read as an 8-byte data block by ACMD51.
//
// CSD_STRUCTURE (bits 127:126) selects the layout of the size fields:
// - v1.0 (SDSC): capacity = (C_SIZE+1) * 2^(C_SIZE_MULT+2) * 2^READ_BL_LEN
// - v2.0 (SDHC/SDXC): capacity = (C_SIZE+1) * 512 KiB, block length 512
//
// SD_BUS_WIDTHS (SCR bits 51:48): bit 0 = 1-bit, bit 2 = 4-bit.

// BlockSize is the transfer block length used in data transfer mode.
const BlockSize = 512

// sdhcMaxCapacity is the largest capacity of the SDHC class; high capacity
// cards above it are SDXC.
const sdhcMaxCapacity = 32 << 30

// Register is a 128-bit card register as four words, word 0 holding
// bits 31..0.
type Register [4]uint32

// Field extracts bits high..low (at most 32 bits wide).
func (r Register) Field(high, low uint) uint32 {
	return bits.Field128(r, high, low)
}

// Bytes returns the register most significant byte first, the order in
// which it travels on the CMD line.
func (r Register) Bytes() []byte {
	out := make([]byte, 16)
	for i := 0; i < 4; i++ {
		binary.BigEndian.PutUint32(out[i*4:], r[3-i])
	}
	return out
}

// RegisterFromBytes is the inverse of Register.Bytes.
func RegisterFromBytes(b []byte) (Register, error) {
	var r Register
	if len(b) != 16 {
		return r, fmt.Errorf("%w: register must be 16 bytes, got %d", ErrInvalidArgument, len(b))
	}
	for i := 0; i < 4; i++ {
		r[3-i] = binary.BigEndian.Uint32(b[i*4:])
	}
	return r, nil
}

// MarshalTLV encodes the register as 16 bytes, bit 127 first.
func (r Register) MarshalTLV() ([]byte, error) {
	return r.Bytes(), nil
}

// UnmarshalTLV decodes the 16 byte form written by MarshalTLV.
func (r *Register) UnmarshalTLV(data []byte) error {
	reg, err := RegisterFromBytes(data)
	if err != nil {
		return err
	}
	*r = reg
	return nil
}

// CID is the decoded Card Identification register.
type CID struct {
	ManufacturerID uint8
	OEMID          string
	ProductName    string
	Revision       uint8 // BCD n.m
	SerialNumber   uint32
	Year           int
	Month          int
}

// DecodeCID unpacks a raw CID.
func DecodeCID(r Register) CID {
	var name strings.Builder
	for hi := uint(103); hi >= 71; hi -= 8 {
		name.WriteByte(byte(r.Field(hi, hi-7)))
	}
	oid := r.Field(119, 104)
	return CID{
		ManufacturerID: uint8(r.Field(127, 120)),
		OEMID:          string([]byte{byte(oid >> 8), byte(oid)}),
		ProductName:    name.String(),
		Revision:       uint8(r.Field(63, 56)),
		SerialNumber:   r.Field(55, 24),
		Year:           2000 + int(r.Field(19, 12)),
		Month:          int(r.Field(11, 8)),
	}
}

// CSD is the decoded Card-Specific Data register.
type CSD struct {
	Structure uint8
	TranSpeed uint8
	ReadBlLen uint8
	CSize     uint32
	CSizeMult uint8 // v1.0 only
	Capacity  uint64
}

// Version returns the CSD structure version (1 or 2).
func (c CSD) Version() int {
	return int(c.Structure) + 1
}

// ReadBlockLen returns the maximum read block length in bytes.
func (c CSD) ReadBlockLen() uint32 {
	return 1 << c.ReadBlLen
}

// DecodeCSD unpacks a raw CSD and computes the card capacity.
// Structures other than v1.0 and v2.0 yield ErrNotSupported.
func DecodeCSD(r Register) (CSD, error) {
	csd := CSD{
		Structure: uint8(r.Field(127, 126)),
		TranSpeed: uint8(r.Field(103, 96)),
		ReadBlLen: uint8(r.Field(83, 80)),
	}

	switch csd.Structure {
	case 0:
		csd.CSize = r.Field(73, 62)
		csd.CSizeMult = uint8(r.Field(49, 47))
		csd.Capacity = uint64(csd.CSize+1) << (uint(csd.CSizeMult) + 2 + uint(csd.ReadBlLen))
	case 1:
		csd.CSize = r.Field(69, 48)
		csd.Capacity = uint64(csd.CSize+1) << 19
	default:
		return csd, fmt.Errorf("%w: CSD structure %d", ErrNotSupported, csd.Structure)
	}

	return csd, nil
}

// SCR is the decoded SD Configuration Register.
type SCR struct {
	Structure          uint8
	SDSpec             uint8
	DataStatAfterErase uint8
	Security           uint8
	BusWidths          uint8
	SDSpec3            bool
	ExSecurity         uint8
	SDSpec4            bool
	SDSpecX            uint8
	CmdSupport         uint8
}

// SupportsWideBus reports whether the card accepts a 4-bit bus.
func (s SCR) SupportsWideBus() bool {
	return s.BusWidths&0x04 != 0
}

// DecodeSCR unpacks the 8 bytes returned by ACMD51.
func DecodeSCR(raw [8]byte) SCR {
	v := binary.BigEndian.Uint64(raw[:])
	return SCR{
		Structure:          uint8(bits.GetRange64(v, 63, 60)),
		SDSpec:             uint8(bits.GetRange64(v, 59, 56)),
		DataStatAfterErase: uint8(bits.GetRange64(v, 55, 55)),
		Security:           uint8(bits.GetRange64(v, 54, 52)),
		BusWidths:          uint8(bits.GetRange64(v, 51, 48)),
		SDSpec3:            bits.GetRange64(v, 47, 47) == 1,
		ExSecurity:         uint8(bits.GetRange64(v, 46, 43)),
		SDSpec4:            bits.GetRange64(v, 42, 42) == 1,
		SDSpecX:            uint8(bits.GetRange64(v, 41, 38)),
		CmdSupport:         uint8(bits.GetRange64(v, 35, 32)),
	}
}

// Info groups the decoded card registers.
type Info struct {
	CID CID
	CSD CSD
	SCR SCR
}
