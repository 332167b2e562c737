package ticktree

import (
	"fmt"
	"strings"

	"github.com/kestrelrobotics/ticktree/value"
)

// Status is the verdict of one node activation.
type Status int

const (
	// Idle means the node has not been activated, or finished a prior
	// activation and awaits the next one.
	Idle Status = iota
	// Running means the node has work pending and must be ticked again.
	Running
	// Success is the positive terminal verdict of an activation.
	Success
	// Failure is the negative terminal verdict of an activation.
	Failure
	// Skipped means the node's precondition opted out of the tick.
	Skipped
)

// IsTerminal reports whether s ends the current activation.
func (s Status) IsTerminal() bool {
	return s == Success || s == Failure || s == Skipped
}

// IsCompleted reports whether s is a real verdict (Success or Failure),
// as opposed to Skipped.
func (s Status) IsCompleted() bool {
	return s == Success || s == Failure
}

func (s Status) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Running:
		return "RUNNING"
	case Success:
		return "SUCCESS"
	case Failure:
		return "FAILURE"
	case Skipped:
		return "SKIPPED"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ParseStatus parses the upper-case wire form produced by String.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IDLE":
		return Idle, nil
	case "RUNNING":
		return Running, nil
	case "SUCCESS":
		return Success, nil
	case "FAILURE":
		return Failure, nil
	case "SKIPPED":
		return Skipped, nil
	}
	return Idle, fmt.Errorf("invalid status %q", s)
}

func init() {
	// Status travels through ports (e.g. the Precondition decorator's
	// "else" port), so it is a registered named type.
	if err := value.Register("status", ParseStatus, Status.String); err != nil {
		panic(err)
	}
}
