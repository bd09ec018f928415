// Package sdsim simulates an SD card behind the sdxx.Transport contract.
//
// The simulated card follows the SD state machine closely enough to drive a
// real initialization: it answers CMD8 and ACMD41 like a v2 card (or stays
// silent like a v1 card), hands out its CID, RCA and CSD, accepts CMD7 and
// then serves block reads and writes from an in-memory store. Tests steer it
// through a Profile and inject faults per command.
package sdsim

import (
	"github.com/gregLibert/sd-card/pkg/bits"
	"github.com/gregLibert/sd-card/pkg/sdxx"
	"periph.io/x/conn/v3/physic"
)

// Profile describes the card being simulated.
type Profile struct {
	// HighCapacity makes the card report CCS and use a v2.0 CSD.
	HighCapacity bool

	// CSize is C_SIZE. For v2.0 capacity is (CSize+1)*512 KiB.
	CSize uint32

	// ReadBlLen and CSizeMult complete the v1.0 size computation.
	ReadBlLen uint8
	CSizeMult uint8

	// WideBus advertises the 4-bit bus in the SCR.
	WideBus bool

	// RCA published with CMD3.
	RCA uint16

	// V1 makes the card ignore CMD8 like a version 1.x card.
	V1 bool

	// EchoMismatch corrupts the CMD8 check pattern.
	EchoMismatch bool

	// BusyPolls is the number of ACMD41 polls answered busy before the
	// card reports power-up done.
	BusyPolls int

	// NeverReady keeps the card busy forever.
	NeverReady bool

	// R3CRCError reports ErrCRC on every ACMD41 response, like hosts that
	// check the CRC of R3.
	R3CRCError bool

	// CID and CSD, when non-zero, replace the generated registers.
	CID sdxx.Register
	CSD sdxx.Register
}

// SDHC returns a 1.86 GiB high capacity card with a 4-bit bus.
func SDHC() Profile {
	return Profile{
		HighCapacity: true,
		CSize:        0x0EE7,
		WideBus:      true,
		RCA:          0xB368,
	}
}

// SDXC returns a 59 GiB high capacity card with a 4-bit bus.
func SDXC() Profile {
	return Profile{
		HighCapacity: true,
		CSize:        0x1DB3F,
		WideBus:      true,
		RCA:          0x59B4,
	}
}

// SDSC returns a 1 GiB standard capacity card with a v1.0 CSD.
func SDSC() Profile {
	return Profile{
		CSize:     0xFFF,
		CSizeMult: 7,
		ReadBlLen: 9,
		WideBus:   true,
		RCA:       0x1234,
	}
}

// Capacity returns the card size in bytes as encoded in the CSD.
func (p Profile) Capacity() uint64 {
	if p.HighCapacity {
		return uint64(p.CSize+1) << 19
	}
	return uint64(p.CSize+1) << (uint(p.CSizeMult) + 2 + uint(p.ReadBlLen))
}

// Blocks returns the number of 512 byte blocks.
func (p Profile) Blocks() uint32 {
	return uint32(p.Capacity() / sdxx.BlockSize)
}

// CIDRegister returns the CID the card answers CMD2 with.
func (p Profile) CIDRegister() sdxx.Register {
	if p.CID != (sdxx.Register{}) {
		return p.CID
	}

	r := [4]uint32{}
	bits.SetField128(&r, 127, 120, 0x03)   // MID
	bits.SetField128(&r, 119, 104, 0x5344) // OID "SD"
	for i, c := range []byte("SIM01") {
		hi := uint(103 - 8*i)
		bits.SetField128(&r, hi, hi-7, uint32(c))
	}
	bits.SetField128(&r, 63, 56, 0x10)       // PRV 1.0
	bits.SetField128(&r, 55, 24, 0x12345678) // PSN
	bits.SetField128(&r, 19, 12, 26)         // MDT year 2026
	bits.SetField128(&r, 11, 8, 10)          // MDT month
	bits.SetField128(&r, 0, 0, 1)
	return sdxx.Register(r)
}

// CSDRegister returns the CSD the card answers CMD9 with.
func (p Profile) CSDRegister() sdxx.Register {
	if p.CSD != (sdxx.Register{}) {
		return p.CSD
	}

	r := [4]uint32{}
	bits.SetField128(&r, 103, 96, 0x32) // TRAN_SPEED 25 MHz
	bits.SetField128(&r, 95, 84, 0x5B5) // CCC
	if p.HighCapacity {
		bits.SetField128(&r, 127, 126, 1)
		bits.SetField128(&r, 83, 80, 9)
		bits.SetField128(&r, 69, 48, p.CSize)
	} else {
		bits.SetField128(&r, 83, 80, uint32(p.ReadBlLen))
		bits.SetField128(&r, 73, 62, p.CSize)
		bits.SetField128(&r, 49, 47, uint32(p.CSizeMult))
	}
	bits.SetField128(&r, 0, 0, 1)
	return sdxx.Register(r)
}

// SCRBytes returns the 8 bytes served by ACMD51.
func (p Profile) SCRBytes() [8]byte {
	widths := byte(0x01)
	if p.WideBus {
		widths |= 0x04
	}
	return [8]byte{
		0x02,          // SCR_STRUCTURE 0, SD_SPEC 2
		0x20 | widths, // SD_SECURITY 2, SD_BUS_WIDTHS
		0x80,          // SD_SPEC3
		0x00, 0x00, 0x00, 0x00, 0x00,
	}
}

// defaultMaxFrequency models a 72 MHz host clock divided by three.
const defaultMaxFrequency = 24 * physic.MegaHertz
