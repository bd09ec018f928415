package sdxx

import (
	"errors"
	"fmt"
)

// Code is the result of an SD operation. Every code other than OK is an
// error, so codes are returned directly or wrapped with fmt.Errorf("%w").
type Code uint8

// Result codes surfaced to callers.
const (
	OK Code = iota
	ErrFailed
	ErrTimeout
	ErrCRC
	ErrInvalidArgument
	ErrNotSupported
)

// ErrNoCard is returned by Init when the card-detect pin reports an empty slot.
var ErrNoCard = fmt.Errorf("%w: no card in slot", ErrFailed)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case ErrFailed:
		return "ERROR"
	case ErrTimeout:
		return "TIMEOUT"
	case ErrCRC:
		return "CRC_ERROR"
	case ErrInvalidArgument:
		return "INVALID_ARGUMENT"
	case ErrNotSupported:
		return "NOT_SUPPORTED"
	default:
		return fmt.Sprintf("Code(%d)", uint8(c))
	}
}

func (c Code) Error() string {
	switch c {
	case OK:
		return "sdxx: ok"
	case ErrFailed:
		return "sdxx: card error"
	case ErrTimeout:
		return "sdxx: timeout"
	case ErrCRC:
		return "sdxx: crc check failed"
	case ErrInvalidArgument:
		return "sdxx: invalid argument"
	case ErrNotSupported:
		return "sdxx: not supported"
	default:
		return fmt.Sprintf("sdxx: unknown result %d", uint8(c))
	}
}

// CodeOf maps an error returned by this package (or by a Transport) back to
// its result code. A nil error is OK; errors carrying no Code are ErrFailed.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return ErrFailed
}
