package sdxx

import "periph.io/x/conn/v3/physic"

// BusWidth is the number of data lines used for transfers.
type BusWidth uint8

// Supported bus widths.
const (
	Width1 BusWidth = 1
	Width4 BusWidth = 4
)

// MinFrequency is the lowest clock accepted once the card leaves
// identification mode.
const MinFrequency = 400 * physic.KiloHertz

// Bus is the host side configuration applied by Transport.Config.
type Bus struct {
	Width     BusWidth
	Frequency physic.Frequency
}

// Transport abstracts the host controller wiring (SDIO peripheral, DMA,
// interrupts). Implementations are supplied by the platform.
type Transport interface {
	// Init performs the one-time platform bring-up (pins, clocks) before
	// any command is issued.
	Init()

	// Config applies bus to the controller. It may lower bus.Frequency to
	// the clock it actually produces.
	Config(bus *Bus) error

	// Ask issues a command and fills resp with the response words:
	// ResponseWords(index) long. Long responses are stored with word 0
	// holding bits 31..0. The returned error is nil, ErrTimeout, ErrCRC
	// or ErrFailed.
	Ask(index Index, arg uint32, resp []uint32) error

	// Recv arms a card-to-host transfer into buf and returns immediately.
	Recv(buf []byte)

	// Send starts a host-to-card transfer of buf and returns immediately.
	Send(buf []byte)

	// TransferEnd reports whether the last Recv or Send has completed.
	TransferEnd() bool
}
