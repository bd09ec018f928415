package sdxx

import "fmt"

// Setting selects what Configure changes.
type Setting uint8

// Settings accepted by Configure.
const (
	// SettingRxMode takes a Mode for block reads.
	SettingRxMode Setting = iota
	// SettingTxMode takes a Mode for block writes.
	SettingTxMode
)

// Mode is a block transfer strategy.
type Mode uint8

// Transfer strategies.
const (
	// SingleBlockIter moves one block per command (CMD17/CMD24).
	SingleBlockIter Mode = iota
	// MultiBlock moves the whole span with one command (CMD18/CMD25).
	MultiBlock
)

func (m Mode) String() string {
	switch m {
	case SingleBlockIter:
		return "single-block-iter"
	case MultiBlock:
		return "multi-block"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

type strategy interface {
	BlockReader
	BlockWriter
}

func strategyFor(m Mode) (strategy, error) {
	switch m {
	case SingleBlockIter:
		return singleBlockIter{}, nil
	case MultiBlock:
		return multiBlock{}, nil
	default:
		return nil, fmt.Errorf("%w: transfer mode %d", ErrInvalidArgument, uint8(m))
	}
}

// Configure changes a run-time setting. Each setting takes exactly one
// argument of the type documented on it.
//
//	card.Configure(sdxx.SettingRxMode, sdxx.MultiBlock)
func (c *Card) Configure(setting Setting, args ...interface{}) error {
	if setting != SettingRxMode && setting != SettingTxMode {
		return fmt.Errorf("%w: setting %d", ErrNotSupported, uint8(setting))
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: setting %d takes one argument, got %d", ErrInvalidArgument, uint8(setting), len(args))
	}
	mode, ok := args[0].(Mode)
	if !ok {
		return fmt.Errorf("%w: setting %d takes a Mode, got %T", ErrInvalidArgument, uint8(setting), args[0])
	}

	if setting == SettingRxMode {
		return c.SetReadMode(mode)
	}
	return c.SetWriteMode(mode)
}

// SetReadMode selects the strategy used by ReadBlock.
func (c *Card) SetReadMode(m Mode) error {
	s, err := strategyFor(m)
	if err != nil {
		return err
	}
	c.reader, c.rxMode = s, m
	return nil
}

// SetWriteMode selects the strategy used by WriteBlock.
func (c *Card) SetWriteMode(m Mode) error {
	s, err := strategyFor(m)
	if err != nil {
		return err
	}
	c.writer, c.txMode = s, m
	return nil
}

// ReadMode returns the active read strategy.
func (c *Card) ReadMode() Mode {
	return c.rxMode
}

// WriteMode returns the active write strategy.
func (c *Card) WriteMode() Mode {
	return c.txMode
}
