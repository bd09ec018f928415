package sdxx

import "fmt"

// EXCHANGE:
// An Exchange is one command issued through the Transport together with its
// outcome. Application commands are recorded with App set; the CMD55 that
// precedes them is recorded as its own Exchange.
//
// TRACE:
// A Trace is the chronological sequence of exchanges of a session. It is
// only collected when Options.Trace is set.

// Exchange records a single command and its response.
type Exchange struct {
	Index    Index
	App      bool
	Arg      uint32
	Response []uint32
	Err      error
}

// Name returns the command mnemonic.
func (e *Exchange) Name() string {
	return CommandName(e.Index, e.App)
}

// IsSuccess reports whether the transport completed the command.
func (e *Exchange) IsSuccess() bool {
	return e.Err == nil
}

// String returns a one-line summary of the exchange.
func (e *Exchange) String() string {
	result := "OK"
	if e.Err != nil {
		result = CodeOf(e.Err).String()
	}
	s := fmt.Sprintf("%-7s arg=%08X -> %s", e.Name(), e.Arg, result)
	switch len(e.Response) {
	case 1:
		s += fmt.Sprintf(" resp=%08X", e.Response[0])
	case 4:
		s += fmt.Sprintf(" resp=%08X%08X%08X%08X", e.Response[3], e.Response[2], e.Response[1], e.Response[0])
	}
	return s
}

// Trace is a sequence of exchanges.
type Trace []Exchange

// Last returns the final exchange of the trace.
// Returns nil if the trace is empty.
func (t Trace) Last() *Exchange {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}

// Count returns how many times a command was issued.
func (t Trace) Count(index Index, app bool) int {
	n := 0
	for i := range t {
		if t[i].Index == index && t[i].App == app {
			n++
		}
	}
	return n
}

// IsSuccess checks if the FINAL exchange in the trace was successful.
func (t Trace) IsSuccess() bool {
	last := t.Last()
	if last == nil {
		return false
	}
	return last.IsSuccess()
}
