package swishtest

import (
	"fmt"
	"slices"
)

// Phase marks the start or end of a native call.
type Phase int

const (
	PhaseEnter Phase = iota
	PhaseExit
)

func (p Phase) String() string {
	if p == PhaseEnter {
		return "enter"
	}

	return "exit"
}

// Call is one entry in the engine's call log.
type Call struct {
	Seq   int
	Op    string
	Phase Phase
}

func (c Call) String() string {
	return fmt.Sprintf("%d %s %s", c.Seq, c.Phase, c.Op)
}

// Calls returns the call log.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()

	return slices.Clone(e.calls)
}

// Ops returns the names of the calls made, in the order they started.
func (e *Engine) Ops() []string {
	var ops []string

	for _, c := range e.Calls() {
		if c.Phase == PhaseEnter {
			ops = append(ops, c.Op)
		}
	}

	return ops
}

// CheckSerial verifies that no call in the log began before the previous
// one ended. It returns the first offending pair.
func (e *Engine) CheckSerial() error {
	calls := e.Calls()

	var open *Call

	for i := range calls {
		c := calls[i]

		switch c.Phase {
		case PhaseEnter:
			if open != nil {
				return fmt.Errorf("%s started before %s finished", c.Op, open.Op)
			}

			open = &calls[i]
		case PhaseExit:
			if open == nil || open.Op != c.Op {
				return fmt.Errorf("unmatched exit of %s at %d", c.Op, c.Seq)
			}

			open = nil
		}
	}

	return nil
}
