package sdxx

import (
	"fmt"
	"strings"

	"github.com/gregLibert/sd-card/pkg/bits"
)

// CARD STATUS (R1 payload, also returned by CMD13):
//
//	31 OUT_OF_RANGE        23 COM_CRC_ERROR       15 WP_ERASE_SKIP
//	30 ADDRESS_ERROR       22 ILLEGAL_COMMAND     14 CARD_ECC_DISABLED
//	29 BLOCK_LEN_ERROR     21 CARD_ECC_FAILED     13 ERASE_RESET
//	28 ERASE_SEQ_ERROR     20 CC_ERROR            12:9 CURRENT_STATE
//	27 ERASE_PARAM         19 ERROR                8 READY_FOR_DATA
//	26 WP_VIOLATION        18:17 reserved          5 APP_CMD
//	25 CARD_IS_LOCKED      16 CSD_OVERWRITE        3 AKE_SEQ_ERROR
//	24 LOCK_UNLOCK_FAILED
//
// A response is an error when any bit of statusErrorMask is set. The mask
// leaves out CARD_IS_LOCKED, CURRENT_STATE, READY_FOR_DATA, APP_CMD and the
// reserved low bits.

const statusErrorMask = 0xFDFFE008

// Card status bits.
const (
	StatusOutOfRange      CardStatus = 1 << 31
	StatusAddressError    CardStatus = 1 << 30
	StatusBlockLenError   CardStatus = 1 << 29
	StatusEraseSeqError   CardStatus = 1 << 28
	StatusEraseParam      CardStatus = 1 << 27
	StatusWPViolation     CardStatus = 1 << 26
	StatusCardIsLocked    CardStatus = 1 << 25
	StatusLockUnlockFail  CardStatus = 1 << 24
	StatusComCRCError     CardStatus = 1 << 23
	StatusIllegalCommand  CardStatus = 1 << 22
	StatusCardECCFailed   CardStatus = 1 << 21
	StatusCCError         CardStatus = 1 << 20
	StatusError           CardStatus = 1 << 19
	StatusCSDOverwrite    CardStatus = 1 << 16
	StatusWPEraseSkip     CardStatus = 1 << 15
	StatusCardECCDisabled CardStatus = 1 << 14
	StatusEraseReset      CardStatus = 1 << 13
	StatusReadyForData    CardStatus = 1 << 8
	StatusAppCmd          CardStatus = 1 << 5
	StatusAKESeqError     CardStatus = 1 << 3
)

var statusBitNames = []struct {
	bit  CardStatus
	name string
}{
	{StatusOutOfRange, "OUT_OF_RANGE"},
	{StatusAddressError, "ADDRESS_ERROR"},
	{StatusBlockLenError, "BLOCK_LEN_ERROR"},
	{StatusEraseSeqError, "ERASE_SEQ_ERROR"},
	{StatusEraseParam, "ERASE_PARAM"},
	{StatusWPViolation, "WP_VIOLATION"},
	{StatusLockUnlockFail, "LOCK_UNLOCK_FAILED"},
	{StatusComCRCError, "COM_CRC_ERROR"},
	{StatusIllegalCommand, "ILLEGAL_COMMAND"},
	{StatusCardECCFailed, "CARD_ECC_FAILED"},
	{StatusCCError, "CC_ERROR"},
	{StatusError, "ERROR"},
	{StatusCSDOverwrite, "CSD_OVERWRITE"},
	{StatusWPEraseSkip, "WP_ERASE_SKIP"},
	{StatusCardECCDisabled, "CARD_ECC_DISABLED"},
	{StatusEraseReset, "ERASE_RESET"},
	{StatusAKESeqError, "AKE_SEQ_ERROR"},
}

// State is the CURRENT_STATE field of the card status.
type State uint8

// Card states. Values 9 to 15 are reserved and decode as StateReserved.
const (
	StateIdle State = iota
	StateReady
	StateIdent
	StateStby
	StateTran
	StateData
	StateRcv
	StatePrg
	StateDis
	StateReserved
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateIdent:
		return "ident"
	case StateStby:
		return "stby"
	case StateTran:
		return "tran"
	case StateData:
		return "data"
	case StateRcv:
		return "rcv"
	case StatePrg:
		return "prg"
	case StateDis:
		return "dis"
	default:
		return "reserved"
	}
}

// CardStatus is the 32-bit card status word.
type CardStatus uint32

// NewCardStatus builds a status word in the given state with extra bits set.
func NewCardStatus(state State, flags CardStatus) CardStatus {
	return flags&^(0x0F<<9) | CardStatus(state&0x0F)<<9
}

// State extracts the current state (bits 12 to 9).
func (s CardStatus) State() State {
	v := bits.GetRange(uint32(s), 12, 9)
	if v >= uint32(StateReserved) {
		return StateReserved
	}
	return State(v)
}

// HasError reports whether any error bit is set.
func (s CardStatus) HasError() bool {
	return s&statusErrorMask != 0
}

// ReadyForData reports the READY_FOR_DATA bit.
func (s CardStatus) ReadyForData() bool {
	return s&StatusReadyForData != 0
}

// Errors lists the names of the error bits set in the status.
func (s CardStatus) Errors() []string {
	var names []string
	for _, b := range statusBitNames {
		if s&b.bit&statusErrorMask != 0 {
			names = append(names, b.name)
		}
	}
	if rest := s & statusErrorMask &^ knownErrorBits(); rest != 0 {
		names = append(names, fmt.Sprintf("RESERVED(%08X)", uint32(rest)))
	}
	return names
}

func knownErrorBits() CardStatus {
	var all CardStatus
	for _, b := range statusBitNames {
		all |= b.bit
	}
	return all
}

// Verbose returns a human-readable description of the status word.
func (s CardStatus) Verbose() string {
	desc := fmt.Sprintf("[%08X] %s", uint32(s), s.State())
	if s.ReadyForData() {
		desc += " ready-for-data"
	}
	if errs := s.Errors(); len(errs) > 0 {
		desc += " errors=" + strings.Join(errs, "|")
	}
	return desc
}

// CheckR1 classifies the outcome of a command with an R1 response.
// A transport error is returned unchanged; the status is only inspected
// when the transport succeeded.
func CheckR1(err error, status CardStatus) error {
	if err != nil {
		return err
	}
	if status.HasError() {
		return fmt.Errorf("%w: card status %s", ErrFailed, status.Verbose())
	}
	return nil
}
