package sdsim

import "github.com/gregLibert/sd-card/pkg/sdxx"

// FailAt returns a Fault hook failing the nth (1-based) occurrence of a
// command with err. Other commands pass through.
func FailAt(index sdxx.Index, app bool, nth int, err error) func(Command) error {
	seen := 0
	return func(cmd Command) error {
		if cmd.Index != index || cmd.App != app {
			return nil
		}
		seen++
		if seen == nth {
			return err
		}
		return nil
	}
}

// FailAlways returns a Fault hook failing every occurrence of a command.
func FailAlways(index sdxx.Index, app bool, err error) func(Command) error {
	return func(cmd Command) error {
		if cmd.Index == index && cmd.App == app {
			return err
		}
		return nil
	}
}

// Chain combines Fault hooks; the first error wins.
func Chain(hooks ...func(Command) error) func(Command) error {
	return func(cmd Command) error {
		for _, h := range hooks {
			if err := h(cmd); err != nil {
				return err
			}
		}
		return nil
	}
}
