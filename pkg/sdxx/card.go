package sdxx

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// INITIALIZATION SEQUENCE:
//  1. CMD0 resets every card to idle.
//  2. CMD8 checks the interface condition. A v2 card echoes the argument; an
//     old card does not answer and is driven without high capacity support.
//  3. ACMD41 is polled until the OCR busy bit reports power-up done. The CCS
//     bit then tells SDSC from SDHC/SDXC.
//  4. CMD2 reads the CID, CMD3 assigns the RCA, CMD9 reads the CSD.
//  5. The host leaves the identification clock and configures a 1-bit bus.
//  6. CMD7 selects the card, which enters the transfer state.
//  7. CSD and SCR are decoded. SDSC cards get a 512 byte block length.
//  8. A card advertising 4-bit support is switched to the wide bus, falling
//     back to 1-bit on any failure.

// CardType is the capacity class of a card.
type CardType uint8

// Capacity classes.
const (
	SDSC CardType = iota
	SDHC
	SDXC
)

func (t CardType) String() string {
	switch t {
	case SDSC:
		return "SDSC"
	case SDHC:
		return "SDHC"
	case SDXC:
		return "SDXC"
	default:
		return fmt.Sprintf("CardType(%d)", uint8(t))
	}
}

// HighCapacity reports whether the card is addressed by block index.
func (t CardType) HighCapacity() bool {
	return t == SDHC || t == SDXC
}

const (
	opCondAttempts  = 200
	scrPolls        = 3
	scrPollInterval = 250 * time.Microsecond

	transferPollInterval = 10 * time.Microsecond
)

// Options tunes a Card. The zero value of a field selects its default.
type Options struct {
	// Logger receives debug traffic and best-effort failures.
	// Defaults to a logger that discards everything.
	Logger *slog.Logger

	// Sleep is the delay primitive used by every polling loop.
	// Defaults to time.Sleep; tests inject a no-op.
	Sleep func(time.Duration)

	// Frequency is the requested data transfer clock. Values below
	// MinFrequency are raised to it. Defaults to 25 MHz.
	Frequency physic.Frequency

	// StateTimeout bounds the wait for the transfer state before each
	// block operation. Defaults to 500 ms.
	StateTimeout time.Duration

	// DataTimeout bounds the wait for a bulk transfer to complete. The
	// transport is polled every 10 µs and the bound counts those polls, so
	// the wall-clock wait also includes the cost of each Sleep call.
	// Defaults to 1 s.
	DataTimeout time.Duration

	// OpCondInterval is the delay between ACMD41 polls. Defaults to 1 ms.
	OpCondInterval time.Duration

	// CardDetect, when set, is sampled before initialization. The slot
	// switch pulls it Low when a card is inserted.
	CardDetect gpio.PinIn

	// Trace records every command exchange in Card.Trace.
	Trace bool
}

// DefaultOptions returns the options used when New is given nil.
func DefaultOptions() *Options {
	return &Options{
		Logger:         slog.New(slog.DiscardHandler),
		Sleep:          time.Sleep,
		Frequency:      25 * physic.MegaHertz,
		StateTimeout:   500 * time.Millisecond,
		DataTimeout:    time.Second,
		OpCondInterval: time.Millisecond,
	}
}

func (o *Options) withDefaults() Options {
	d := DefaultOptions()
	if o == nil {
		return *d
	}
	out := *o
	if out.Logger == nil {
		out.Logger = d.Logger
	}
	if out.Sleep == nil {
		out.Sleep = d.Sleep
	}
	if out.Frequency == 0 {
		out.Frequency = d.Frequency
	}
	if out.StateTimeout == 0 {
		out.StateTimeout = d.StateTimeout
	}
	if out.DataTimeout == 0 {
		out.DataTimeout = d.DataTimeout
	}
	if out.OpCondInterval == 0 {
		out.OpCondInterval = d.OpCondInterval
	}
	return out
}

// Card is a session with one physical SD card. It is not safe for
// concurrent use.
type Card struct {
	Type      CardType
	Capacity  uint64 // bytes
	BlockSize uint32 // bytes
	RCA       uint16
	BusWidth  BusWidth
	Frequency physic.Frequency

	// Raw registers captured during identification.
	CID Register
	CSD Register

	ocr    uint32
	scr    SCR
	scrRaw [8]byte

	reader BlockReader
	writer BlockWriter
	rxMode Mode
	txMode Mode

	t     Transport
	opts  Options
	log   *slog.Logger
	trace Trace
	ready bool
}

// New creates a session bound to a transport. Nil options select
// DefaultOptions. The card is unusable until Init succeeds.
func New(t Transport, opts *Options) *Card {
	o := opts.withDefaults()
	return &Card{
		BusWidth: Width1,
		reader:   singleBlockIter{},
		writer:   singleBlockIter{},
		t:        t,
		opts:     o,
		log:      o.Logger,
	}
}

// Trace returns the recorded command exchanges (Options.Trace).
func (c *Card) Trace() Trace {
	return c.trace
}

// Ready reports whether Init completed.
func (c *Card) Ready() bool {
	return c.ready
}

// OCR returns the operating conditions register reported by ACMD41.
func (c *Card) OCR() uint32 {
	return c.ocr
}

// Init runs the initialization and identification protocol and leaves the
// card selected, in the transfer state, ready for block operations.
func (c *Card) Init() error {
	if pin := c.opts.CardDetect; pin != nil && pin.Read() == gpio.High {
		return ErrNoCard
	}

	c.t.Init()
	c.reset()

	if err := c.initialize(); err != nil {
		return err
	}
	if err := c.identify(); err != nil {
		return err
	}

	c.Frequency = c.opts.Frequency
	if c.Frequency < MinFrequency {
		c.Frequency = MinFrequency
	}
	c.BusWidth = Width1
	if err := c.configBus(); err != nil {
		return fmt.Errorf("%w: bus configuration: %v", ErrFailed, err)
	}

	if err := c.Select(); err != nil {
		return fmt.Errorf("select card: %w", err)
	}

	if err := c.applyCSD(); err != nil {
		return err
	}

	if c.Type == SDSC {
		var resp [1]uint32
		err := c.send(CmdSetBlockLen, false, BlockSize, resp[:])
		if err := CheckR1(err, CardStatus(resp[0])); err != nil {
			return fmt.Errorf("set block length: %w", err)
		}
	}

	if scr, err := c.readSCR(); err != nil {
		c.log.Warn("sdxx: SCR unavailable, staying on 1-bit bus", "err", err)
	} else {
		c.scr = scr
		if scr.SupportsWideBus() {
			if err := c.SetBusWidth(Width4); err != nil {
				c.log.Warn("sdxx: wide bus rejected, staying on 1-bit bus", "err", err)
			}
		}
	}

	c.reader, c.writer = singleBlockIter{}, singleBlockIter{}
	c.rxMode, c.txMode = SingleBlockIter, SingleBlockIter
	c.ready = true

	c.log.Info("sdxx: card ready",
		"type", c.Type.String(),
		"capacity", c.Capacity,
		"rca", c.RCA,
		"bus_width", int(c.BusWidth),
		"frequency", c.Frequency.String())
	return nil
}

func (c *Card) reset() {
	c.ready = false
	c.Type = SDSC
	c.Capacity = 0
	c.BlockSize = 0
	c.RCA = 0
	c.BusWidth = Width1
	c.ocr = 0
	c.scr = SCR{}
	c.scrRaw = [8]byte{}
	c.trace = nil
}

// initialize covers reset, interface check and voltage negotiation.
func (c *Card) initialize() error {
	if err := c.send(CmdGoIdleState, false, 0, nil); err != nil {
		return fmt.Errorf("%w: go idle: not a valid card (%v)", ErrFailed, err)
	}

	var resp [1]uint32
	hcs := uint32(0)
	err := c.send(CmdSendIfCond, false, ifCondArg, resp[:])
	if err == nil {
		if resp[0] != ifCondArg {
			return fmt.Errorf("%w: voltage not accepted (echo %08X)", ErrFailed, resp[0])
		}
		hcs = ocrHCS
	} else {
		c.log.Debug("sdxx: interface condition rejected, assuming v1 card", "err", err)
	}

	for attempt := 1; ; attempt++ {
		err := c.sendApp(AcmdSendOpCond, ocrVddWin|hcs, resp[:])
		if err != nil && !errors.Is(err, ErrCRC) {
			return fmt.Errorf("%w: operating condition: %v", ErrFailed, err)
		}
		if resp[0]&ocrBusy != 0 {
			break
		}
		if attempt == opCondAttempts {
			return fmt.Errorf("%w: card still busy after %d operating condition polls", ErrFailed, attempt)
		}
		c.opts.Sleep(c.opts.OpCondInterval)
	}

	c.ocr = resp[0]
	if c.ocr&ocrCCS != 0 {
		c.Type = SDHC
	}
	return nil
}

// identify reads CID, RCA and CSD.
func (c *Card) identify() error {
	var cid, csd Register
	var resp [1]uint32

	if err := c.send(CmdAllSendCID, false, 0, cid[:]); err != nil {
		return fmt.Errorf("all send CID: not a valid card: %w", err)
	}
	if err := c.send(CmdSendRelativeAddr, false, 0, resp[:]); err != nil {
		return fmt.Errorf("send relative address: not a valid card: %w", err)
	}
	c.RCA = uint16(resp[0] >> 16)

	if err := c.send(CmdSendCSD, false, c.rcaArg(), csd[:]); err != nil {
		return fmt.Errorf("send CSD: not a valid card: %w", err)
	}

	c.CID, c.CSD = cid, csd
	return nil
}

// applyCSD derives capacity, block size and the SDXC class from the CSD.
func (c *Card) applyCSD() error {
	csd, err := DecodeCSD(c.CSD)
	if err != nil {
		return err
	}
	c.Capacity = csd.Capacity
	c.BlockSize = BlockSize
	if c.Type.HighCapacity() && c.Capacity > sdhcMaxCapacity {
		c.Type = SDXC
	}
	return nil
}

// Select issues CMD7 with the card's RCA, moving it from stby to tran.
func (c *Card) Select() error {
	var resp [1]uint32
	err := c.send(CmdSelectCard, false, c.rcaArg(), resp[:])
	return CheckR1(err, CardStatus(resp[0]))
}

// Status reads the card status with CMD13.
func (c *Card) Status() (CardStatus, error) {
	var resp [1]uint32
	if err := c.send(CmdSendStatus, false, c.rcaArg(), resp[:]); err != nil {
		return 0, err
	}
	return CardStatus(resp[0]), nil
}

// SetBusWidth switches both the card and the host to w. If either side
// refuses, the session and the host are put back on a 1-bit bus and the
// error is returned.
func (c *Card) SetBusWidth(w BusWidth) error {
	arg, err := busWidthArg(w)
	if err != nil {
		return err
	}
	if w == Width4 && !c.scr.SupportsWideBus() {
		return fmt.Errorf("%w: card does not advertise a 4-bit bus", ErrNotSupported)
	}

	c.BusWidth = w
	err = c.configBus()
	if err == nil {
		var resp [1]uint32
		err = CheckR1(c.sendApp(AcmdSetBusWidth, arg, resp[:]), CardStatus(resp[0]))
	}
	if err != nil {
		c.BusWidth = Width1
		if rerr := c.configBus(); rerr != nil {
			c.log.Warn("sdxx: restoring 1-bit bus failed", "err", rerr)
		}
		return fmt.Errorf("set bus width %d: %w", w, err)
	}
	return nil
}

func busWidthArg(w BusWidth) (uint32, error) {
	switch w {
	case Width1:
		return 0x00, nil
	case Width4:
		return 0x02, nil
	default:
		return 0, fmt.Errorf("%w: bus width %d", ErrInvalidArgument, w)
	}
}

func (c *Card) configBus() error {
	bus := Bus{Width: c.BusWidth, Frequency: c.Frequency}
	if err := c.t.Config(&bus); err != nil {
		return err
	}
	c.Frequency = bus.Frequency
	return nil
}

// Info decodes the CID and CSD captured at identification and reads a
// fresh SCR from the card.
func (c *Card) Info() (Info, error) {
	var info Info
	if !c.ready {
		return info, fmt.Errorf("%w: card not initialized", ErrFailed)
	}

	csd, err := DecodeCSD(c.CSD)
	if err != nil {
		return info, err
	}
	c.Capacity = csd.Capacity

	if err := c.waitTransferable(c.opts.StateTimeout); err != nil {
		return info, err
	}
	scr, err := c.readSCR()
	if err != nil {
		return info, err
	}
	c.scr = scr

	info.CID = DecodeCID(c.CID)
	info.CSD = csd
	info.SCR = scr
	return info, nil
}

// readSCR arms an 8-byte receive, issues ACMD51 and polls for the data to
// land. The transfer can trail the command response slightly.
func (c *Card) readSCR() (SCR, error) {
	var raw [8]byte
	c.t.Recv(raw[:])

	var resp [1]uint32
	err := c.sendApp(AcmdSendSCR, 0, resp[:])
	if err := CheckR1(err, CardStatus(resp[0])); err != nil {
		return SCR{}, fmt.Errorf("send SCR: %w", err)
	}

	for i := 0; i < scrPolls; i++ {
		if c.t.TransferEnd() {
			c.scrRaw = raw
			return DecodeSCR(raw), nil
		}
		c.opts.Sleep(scrPollInterval)
	}
	return SCR{}, fmt.Errorf("%w: SCR transfer did not complete", ErrFailed)
}

func (c *Card) rcaArg() uint32 {
	return uint32(c.RCA) << 16
}

// send issues one command through the transport and records it.
func (c *Card) send(index Index, app bool, arg uint32, resp []uint32) error {
	err := c.t.Ask(index, arg, resp)
	if c.opts.Trace {
		c.trace = append(c.trace, Exchange{
			Index:    index,
			App:      app,
			Arg:      arg,
			Response: append([]uint32(nil), resp...),
			Err:      err,
		})
	}
	if err != nil {
		c.log.Debug("sdxx: command failed", "cmd", CommandName(index, app), "arg", arg, "err", err)
	}
	return err
}

// sendApp issues CMD55 followed by the application command.
func (c *Card) sendApp(index Index, arg uint32, resp []uint32) error {
	var st [1]uint32
	err := c.send(CmdAppCmd, false, c.rcaArg(), st[:])
	if err := CheckR1(err, CardStatus(st[0])); err != nil {
		return fmt.Errorf("app command: %w", err)
	}
	return c.send(index, true, arg, resp)
}
