package sdxx

import (
	"fmt"
	"strings"

	"github.com/gregLibert/sd-card/pkg/tlv"
)

// Describe generates an ASCII-formatted report of the session: the
// negotiated parameters, the decoded registers and, when tracing is on,
// every command exchanged.
func (c *Card) Describe() string {
	var sb strings.Builder

	sb.WriteString("=== SD CARD REPORT ===\n")

	sb.WriteString("[1] Session\n")
	if !c.ready {
		sb.WriteString("    + State:     not initialized\n")
	}
	sb.WriteString(fmt.Sprintf("    + Type:      %s (OCR %08X)\n", c.Type, c.ocr))
	sb.WriteString(fmt.Sprintf("    + Capacity:  %d bytes (%.2f GiB)\n", c.Capacity, float64(c.Capacity)/(1<<30)))
	sb.WriteString(fmt.Sprintf("    + Block:     %d bytes\n", c.BlockSize))
	sb.WriteString(fmt.Sprintf("    + RCA:       %04X\n", c.RCA))
	sb.WriteString(fmt.Sprintf("    + Bus:       %d-bit @ %s\n", c.BusWidth, c.Frequency))
	sb.WriteString(fmt.Sprintf("    + Transfer:  read=%s write=%s\n", c.rxMode, c.txMode))
	sb.WriteString("\n")

	sb.WriteString("[2] Registers\n")
	cid := DecodeCID(c.CID)
	sb.WriteString(fmt.Sprintf("    + CID:       %X\n", c.CID.Bytes()))
	sb.WriteString(fmt.Sprintf("      MID %02X | OID %q | PNM %q | PRV %d.%d | PSN %08X | MDT %04d-%02d\n",
		cid.ManufacturerID, tlv.MakeSafeASCII([]byte(cid.OEMID)), tlv.MakeSafeASCII([]byte(cid.ProductName)),
		cid.Revision>>4, cid.Revision&0x0F, cid.SerialNumber, cid.Year, cid.Month))

	sb.WriteString(fmt.Sprintf("    + CSD:       %X\n", c.CSD.Bytes()))
	if csd, err := DecodeCSD(c.CSD); err != nil {
		sb.WriteString(fmt.Sprintf("      (!) %v\n", err))
	} else {
		sb.WriteString(fmt.Sprintf("      v%d | TRAN_SPEED %02X | READ_BL_LEN %d | C_SIZE %X",
			csd.Version(), csd.TranSpeed, csd.ReadBlockLen(), csd.CSize))
		if csd.Structure == 0 {
			sb.WriteString(fmt.Sprintf(" | C_SIZE_MULT %d", csd.CSizeMult))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("    + SCR:       %X\n", c.scrRaw))
	sb.WriteString(fmt.Sprintf("      SD_SPEC %d | SPEC3 %t | SPEC4 %t | SPECX %d | BUS_WIDTHS %04b | SECURITY %d | CMD_SUPPORT %04b\n",
		c.scr.SDSpec, c.scr.SDSpec3, c.scr.SDSpec4, c.scr.SDSpecX, c.scr.BusWidths, c.scr.Security, c.scr.CmdSupport))

	if len(c.trace) > 0 {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("[3] Trace (%d exchanges)\n", len(c.trace)))
		for i := range c.trace {
			sb.WriteString(fmt.Sprintf("    %3d %s\n", i+1, c.trace[i].String()))
		}
	}

	return sb.String()
}
