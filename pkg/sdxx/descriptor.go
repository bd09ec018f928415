package sdxx

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/gregLibert/sd-card/pkg/tlv"
	"github.com/moov-io/bertlv"
	"periph.io/x/conn/v3/physic"
)

// REGISTER DESCRIPTOR:
// A descriptor is a BER-TLV snapshot of an initialized session, suitable for
// logging or shipping to a host tool. It is one constructed template holding
// private primitive tags:
//
//	E1 Card Descriptor Template
//	   DF01 Card type (1 byte)
//	   DF02 Capacity in bytes (8 bytes, big endian)
//	   DF03 Block size (4 bytes)
//	   DF04 RCA (2 bytes)
//	   DF05 Bus width (1 byte)
//	   DF06 Frequency in µHz (8 bytes)
//	   DF07 CID (16 bytes, bit 127 first)
//	   DF08 CSD (16 bytes, bit 127 first)
//	   DF09 SCR (8 bytes)

const tagDescriptor = "E1"

// DescriptorTemplate is the wire layout of the descriptor template.
type DescriptorTemplate struct {
	Type      []byte   `tlv:"DF01,len=1,required" fmt:"int"`
	Capacity  []byte   `tlv:"DF02,len=8,required" fmt:"int"`
	BlockSize []byte   `tlv:"DF03,len=4,required" fmt:"int"`
	RCA       []byte   `tlv:"DF04,len=2,required"`
	BusWidth  []byte   `tlv:"DF05,len=1,required" fmt:"int"`
	Frequency []byte   `tlv:"DF06,len=8,required" fmt:"int"`
	CID       Register `tlv:"DF07,len=16,required"`
	CSD       Register `tlv:"DF08,len=16,required"`
	SCR       []byte   `tlv:"DF09,len=8,required"`

	Unknown []bertlv.TLV
}

// Descriptor is the decoded form of Card.Descriptor.
type Descriptor struct {
	Type      CardType
	Capacity  uint64
	BlockSize uint32
	RCA       uint16
	BusWidth  BusWidth
	Frequency physic.Frequency
	CID       Register
	CSD       Register
	SCR       [8]byte

	// Raw is the template as found on the wire.
	Raw DescriptorTemplate
}

// Descriptor encodes the session parameters and raw registers as BER-TLV.
func (c *Card) Descriptor() ([]byte, error) {
	if !c.ready {
		return nil, fmt.Errorf("%w: card not initialized", ErrFailed)
	}

	t := DescriptorTemplate{
		Type:      []byte{byte(c.Type)},
		Capacity:  binary.BigEndian.AppendUint64(nil, c.Capacity),
		BlockSize: binary.BigEndian.AppendUint32(nil, c.BlockSize),
		RCA:       binary.BigEndian.AppendUint16(nil, c.RCA),
		BusWidth:  []byte{byte(c.BusWidth)},
		Frequency: binary.BigEndian.AppendUint64(nil, uint64(c.Frequency)),
		CID:       c.CID,
		CSD:       c.CSD,
		SCR:       append([]byte(nil), c.scrRaw[:]...),
	}

	data, err := tlv.Marshal(tagDescriptor, &t)
	if err != nil {
		return nil, fmt.Errorf("descriptor encoding failed: %w", err)
	}
	return data, nil
}

// ParseDescriptor decodes the output of Card.Descriptor. Unknown tags inside
// the template are kept in Raw.Unknown.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var envelope struct {
		Template DescriptorTemplate `tlv:"E1,required"`
	}
	if err := tlv.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: descriptor: %v", ErrInvalidArgument, err)
	}
	raw := envelope.Template

	d := &Descriptor{
		Type:      CardType(raw.Type[0]),
		Capacity:  binary.BigEndian.Uint64(raw.Capacity),
		BlockSize: binary.BigEndian.Uint32(raw.BlockSize),
		RCA:       binary.BigEndian.Uint16(raw.RCA),
		BusWidth:  BusWidth(raw.BusWidth[0]),
		Frequency: physic.Frequency(binary.BigEndian.Uint64(raw.Frequency)),
		CID:       raw.CID,
		CSD:       raw.CSD,
		Raw:       raw,
	}
	copy(d.SCR[:], raw.SCR)

	return d, nil
}

// SCRInfo decodes the SCR captured in the descriptor.
func (d *Descriptor) SCRInfo() SCR {
	return DecodeSCR(d.SCR)
}

// Describe lists the raw descriptor tags.
func (d *Descriptor) Describe() string {
	var sb strings.Builder
	sb.WriteString("=== DESCRIPTOR (E1) ===")
	tlv.WriteStructFields(&sb, "E1", &d.Raw)
	return sb.String()
}
