package sdxx

import "fmt"

// COMMAND SET (SD Physical Layer Simplified Specification):
// A command is a 6-bit index plus a 32-bit argument. Application specific
// commands (ACMDn) reuse the index space and must be preceded by CMD55
// addressed to the card, so the same Index value means different things
// depending on whether it follows an APP_CMD.
//
// RESPONSE TYPES:
// - none: CMD0
// - R2 (136 bits, CID or CSD): CMD2, CMD9
// - R1/R1b/R3/R6/R7 (48 bits, one 32-bit payload): everything else
//
// R3 (OCR, answer to ACMD41) carries no valid CRC. Hosts that check the CRC of
// every short response report ErrCRC for it, which the negotiation ignores.

// Index is a command index (0 to 63).
type Index uint8

// Basic commands.
const (
	CmdGoIdleState        Index = 0
	CmdAllSendCID         Index = 2
	CmdSendRelativeAddr   Index = 3
	CmdSelectCard         Index = 7
	CmdSendIfCond         Index = 8
	CmdSendCSD            Index = 9
	CmdStopTransmission   Index = 12
	CmdSendStatus         Index = 13
	CmdSetBlockLen        Index = 16
	CmdReadSingleBlock    Index = 17
	CmdReadMultipleBlock  Index = 18
	CmdWriteSingleBlock   Index = 24
	CmdWriteMultipleBlock Index = 25
	CmdAppCmd             Index = 55
)

// Application specific commands, sent after CmdAppCmd.
const (
	AcmdSetBusWidth        Index = 6
	AcmdSetWrBlkEraseCount Index = 23
	AcmdSendOpCond         Index = 41
	AcmdSendSCR            Index = 51
)

// Command arguments and response bits used during initialization.
const (
	ifCondArg = 1<<8 | 0xAA // VHS 2.7-3.6V, check pattern 0xAA
	ocrVddWin = 1 << 20     // 3.2-3.3V
	ocrHCS    = 1 << 30     // host supports high capacity
	ocrCCS    = 1 << 30     // card capacity status
	ocrBusy   = 1 << 31     // power up done
)

// ResponseWords returns how many 32-bit response words a command produces:
// 0 for CMD0, 4 for the long R2 responses of CMD2 and CMD9, 1 otherwise.
// Transports use it to pick the response length for an index.
func ResponseWords(index Index) int {
	switch index {
	case CmdGoIdleState:
		return 0
	case CmdAllSendCID, CmdSendCSD:
		return 4
	default:
		return 1
	}
}

// CommandName returns the mnemonic of a command, e.g. "CMD17" or "ACMD41".
func CommandName(index Index, app bool) string {
	if app {
		return fmt.Sprintf("ACMD%d", uint8(index))
	}
	return fmt.Sprintf("CMD%d", uint8(index))
}
