package sdsim

import (
	"github.com/gregLibert/sd-card/pkg/sdxx"
	"periph.io/x/conn/v3/physic"
)

// Command is one command received by the simulated card. App is set when
// the command arrived right after an accepted CMD55.
type Command struct {
	Index sdxx.Index
	App   bool
	Arg   uint32
}

// Name returns the command mnemonic.
func (c Command) Name() string {
	return sdxx.CommandName(c.Index, c.App)
}

// Card is a simulated SD card implementing sdxx.Transport.
type Card struct {
	Profile Profile

	// Fault is consulted before every command. A non-nil error is returned
	// to the host and the command has no effect on the card.
	Fault func(cmd Command) error

	// ConfigFault is consulted by Config before the bus is applied.
	ConfigFault func(bus sdxx.Bus) error

	// StallTransfers keeps TransferEnd false forever.
	StallTransfers bool

	// MaxFrequency is the fastest clock the host produces. Config lowers
	// faster requests to it.
	MaxFrequency physic.Frequency

	// Calls lists every command received, faulted ones included.
	Calls []Command

	// Buses lists every bus configuration applied successfully.
	Buses []sdxx.Bus

	// InitCalls counts platform bring-ups.
	InitCalls int

	state    sdxx.State
	appCmd   bool
	polls    int
	rca      uint16
	width    sdxx.BusWidth
	blocks   map[uint32][]byte
	pendingR uint32 // status bits reported by the next R1
	cursor   uint32 // next block of an open multi-block write
	multi    bool

	rx   []byte
	tx   []byte
	done bool
}

// New returns a powered-up card in the idle state.
func New(p Profile) *Card {
	return &Card{
		Profile:      p,
		MaxFrequency: defaultMaxFrequency,
		blocks:       make(map[uint32][]byte),
		width:        sdxx.Width1,
	}
}

// Init records the platform bring-up.
func (c *Card) Init() {
	c.InitCalls++
}

// Config applies a bus configuration, clamping the frequency.
func (c *Card) Config(bus *sdxx.Bus) error {
	if c.ConfigFault != nil {
		if err := c.ConfigFault(*bus); err != nil {
			return err
		}
	}
	if c.MaxFrequency > 0 && bus.Frequency > c.MaxFrequency {
		bus.Frequency = c.MaxFrequency
	}
	c.Buses = append(c.Buses, *bus)
	return nil
}

// Recv arms a card-to-host transfer. Data lands when the read command is
// accepted.
func (c *Card) Recv(buf []byte) {
	c.rx, c.tx = buf, nil
	c.done = false
}

// Send delivers a host-to-card transfer for the open write command.
func (c *Card) Send(buf []byte) {
	c.tx, c.rx = buf, nil
	c.done = false
	if c.state != sdxx.StateRcv {
		return
	}

	n := uint32(len(buf) / sdxx.BlockSize)
	for i := uint32(0); i < n; i++ {
		c.store(c.cursor+i, buf[i*sdxx.BlockSize:(i+1)*sdxx.BlockSize])
	}
	c.cursor += n
	c.done = true
	if !c.multi {
		c.state = sdxx.StateTran
	}
}

// TransferEnd reports whether the armed transfer completed.
func (c *Card) TransferEnd() bool {
	return c.done && !c.StallTransfers
}

// Ask executes one command against the simulated card.
func (c *Card) Ask(index sdxx.Index, arg uint32, resp []uint32) error {
	cmd := Command{Index: index, App: c.appCmd && index != sdxx.CmdAppCmd, Arg: arg}
	c.appCmd = false
	c.Calls = append(c.Calls, cmd)

	if c.Fault != nil {
		if err := c.Fault(cmd); err != nil {
			return err
		}
	}

	if cmd.App {
		return c.app(cmd, resp)
	}
	return c.basic(cmd, resp)
}

// Count returns how many times a command was received.
func (c *Card) Count(index sdxx.Index, app bool) int {
	n := 0
	for _, cmd := range c.Calls {
		if cmd.Index == index && cmd.App == app {
			n++
		}
	}
	return n
}

// State returns the current card state.
func (c *Card) State() sdxx.State {
	return c.state
}

// SetState forces the card into a state, e.g. to leave it mid-transfer.
func (c *Card) SetState(s sdxx.State) {
	c.state = s
}

// BusWidth returns the width last accepted with ACMD6.
func (c *Card) BusWidth() sdxx.BusWidth {
	return c.width
}

// Block returns a copy of a stored block; unwritten blocks read as zeros.
func (c *Card) Block(n uint32) []byte {
	out := make([]byte, sdxx.BlockSize)
	copy(out, c.blocks[n])
	return out
}

// SetBlock stores a block directly.
func (c *Card) SetBlock(n uint32, data []byte) {
	c.store(n, data)
}

func (c *Card) store(n uint32, data []byte) {
	b := make([]byte, sdxx.BlockSize)
	copy(b, data)
	c.blocks[n] = b
}

// status builds an R1 payload in the current state and clears the
// pending bits.
func (c *Card) status(extra sdxx.CardStatus) sdxx.CardStatus {
	flags := extra | sdxx.CardStatus(c.pendingR)
	c.pendingR = 0
	if c.state == sdxx.StateTran {
		flags |= sdxx.StatusReadyForData
	}
	return sdxx.NewCardStatus(c.state, flags)
}

func reply(resp []uint32, v uint32) {
	if len(resp) > 0 {
		resp[0] = v
	}
}

func (c *Card) addressed(arg uint32) bool {
	return uint16(arg>>16) == c.rca
}

// block converts a data command argument to a block number.
func (c *Card) block(arg uint32) (uint32, sdxx.CardStatus) {
	n := arg
	if !c.Profile.HighCapacity {
		if arg%sdxx.BlockSize != 0 {
			return 0, sdxx.StatusAddressError
		}
		n = arg / sdxx.BlockSize
	}
	if n >= c.Profile.Blocks() {
		return 0, sdxx.StatusOutOfRange
	}
	return n, 0
}

func (c *Card) basic(cmd Command, resp []uint32) error {
	switch cmd.Index {
	case sdxx.CmdGoIdleState:
		c.state = sdxx.StateIdle
		c.polls, c.rca, c.pendingR = 0, 0, 0
		c.width = sdxx.Width1
		return nil

	case sdxx.CmdSendIfCond:
		if c.Profile.V1 || c.state != sdxx.StateIdle {
			return sdxx.ErrTimeout
		}
		echo := cmd.Arg & 0xFFF
		if c.Profile.EchoMismatch {
			echo ^= 0xFF
		}
		reply(resp, echo)
		return nil

	case sdxx.CmdAllSendCID:
		if c.state != sdxx.StateReady {
			return sdxx.ErrTimeout
		}
		cid := c.Profile.CIDRegister()
		copy(resp, cid[:])
		c.state = sdxx.StateIdent
		return nil

	case sdxx.CmdSendRelativeAddr:
		if c.state != sdxx.StateIdent && c.state != sdxx.StateStby {
			return sdxx.ErrTimeout
		}
		c.rca = c.Profile.RCA
		reply(resp, uint32(c.rca)<<16|uint32(c.state)<<9)
		c.state = sdxx.StateStby
		return nil

	case sdxx.CmdSendCSD:
		if c.state != sdxx.StateStby || !c.addressed(cmd.Arg) {
			return sdxx.ErrTimeout
		}
		csd := c.Profile.CSDRegister()
		copy(resp, csd[:])
		return nil

	case sdxx.CmdSelectCard:
		if !c.addressed(cmd.Arg) {
			if c.state == sdxx.StateTran {
				c.state = sdxx.StateStby
			}
			return sdxx.ErrTimeout
		}
		switch c.state {
		case sdxx.StateStby:
			reply(resp, uint32(c.status(0)))
			c.state = sdxx.StateTran
			return nil
		case sdxx.StateTran:
			reply(resp, uint32(c.status(0)))
			return nil
		default:
			return sdxx.ErrTimeout
		}

	case sdxx.CmdStopTransmission:
		switch c.state {
		case sdxx.StateData, sdxx.StateRcv:
			reply(resp, uint32(c.status(0)))
			c.state = sdxx.StateTran
			c.multi = false
		default:
			reply(resp, uint32(c.status(sdxx.StatusIllegalCommand)))
		}
		return nil

	case sdxx.CmdSendStatus:
		if c.rca == 0 || !c.addressed(cmd.Arg) {
			return sdxx.ErrTimeout
		}
		reply(resp, uint32(c.status(0)))
		return nil

	case sdxx.CmdSetBlockLen:
		if c.state != sdxx.StateTran {
			return c.illegal(resp)
		}
		var flags sdxx.CardStatus
		if !c.Profile.HighCapacity && cmd.Arg != sdxx.BlockSize {
			flags = sdxx.StatusBlockLenError
		}
		reply(resp, uint32(c.status(flags)))
		return nil

	case sdxx.CmdReadSingleBlock, sdxx.CmdReadMultipleBlock:
		if c.state != sdxx.StateTran {
			return c.illegal(resp)
		}
		n, flags := c.block(cmd.Arg)
		reply(resp, uint32(c.status(flags)))
		if flags != 0 {
			return nil
		}
		count := uint32(1)
		if cmd.Index == sdxx.CmdReadMultipleBlock {
			count = uint32(len(c.rx) / sdxx.BlockSize)
			c.state = sdxx.StateData
		}
		for i := uint32(0); i < count && int(i+1)*sdxx.BlockSize <= len(c.rx); i++ {
			copy(c.rx[i*sdxx.BlockSize:], c.Block(n+i))
		}
		c.done = c.rx != nil
		return nil

	case sdxx.CmdWriteSingleBlock, sdxx.CmdWriteMultipleBlock:
		if c.state != sdxx.StateTran {
			return c.illegal(resp)
		}
		n, flags := c.block(cmd.Arg)
		reply(resp, uint32(c.status(flags)))
		if flags != 0 {
			return nil
		}
		c.cursor = n
		c.multi = cmd.Index == sdxx.CmdWriteMultipleBlock
		c.state = sdxx.StateRcv
		return nil

	case sdxx.CmdAppCmd:
		if c.rca != 0 && !c.addressed(cmd.Arg) {
			return sdxx.ErrTimeout
		}
		c.appCmd = true
		reply(resp, uint32(c.status(sdxx.StatusAppCmd)))
		return nil

	default:
		return c.illegal(resp)
	}
}

func (c *Card) app(cmd Command, resp []uint32) error {
	switch cmd.Index {
	case sdxx.AcmdSendOpCond:
		if c.state != sdxx.StateIdle && c.state != sdxx.StateReady {
			return sdxx.ErrTimeout
		}
		ocr := uint32(0x00FF8000)
		c.polls++
		if !c.Profile.NeverReady && c.polls > c.Profile.BusyPolls {
			ocr |= 1 << 31
			if c.Profile.HighCapacity && cmd.Arg&(1<<30) != 0 {
				ocr |= 1 << 30
			}
			c.state = sdxx.StateReady
		}
		reply(resp, ocr)
		if c.Profile.R3CRCError {
			return sdxx.ErrCRC
		}
		return nil

	case sdxx.AcmdSetBusWidth:
		if c.state != sdxx.StateTran {
			return c.illegal(resp)
		}
		switch {
		case cmd.Arg == 0:
			c.width = sdxx.Width1
		case cmd.Arg == 2 && c.Profile.WideBus:
			c.width = sdxx.Width4
		default:
			return c.illegal(resp)
		}
		reply(resp, uint32(c.status(sdxx.StatusAppCmd)))
		return nil

	case sdxx.AcmdSetWrBlkEraseCount:
		if c.state != sdxx.StateTran {
			return c.illegal(resp)
		}
		reply(resp, uint32(c.status(sdxx.StatusAppCmd)))
		return nil

	case sdxx.AcmdSendSCR:
		if c.state != sdxx.StateTran {
			return c.illegal(resp)
		}
		reply(resp, uint32(c.status(sdxx.StatusAppCmd)))
		scr := c.Profile.SCRBytes()
		copy(c.rx, scr[:])
		c.done = c.rx != nil
		return nil

	default:
		return c.illegal(resp)
	}
}

// illegal answers a command the card does not accept in its current state.
// The card stays silent and flags ILLEGAL_COMMAND in the next status.
func (c *Card) illegal(resp []uint32) error {
	c.pendingR |= uint32(sdxx.StatusIllegalCommand)
	reply(resp, 0)
	return sdxx.ErrTimeout
}
