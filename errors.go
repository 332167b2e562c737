package ticktree

import (
	"errors"

	"github.com/kestrelrobotics/ticktree/blackboard"
	"github.com/kestrelrobotics/ticktree/script"
	"github.com/kestrelrobotics/ticktree/value"
)

// Build- and tick-time error kinds. Build errors are accumulated and
// returned together (errors.Join); tick errors short-circuit the
// current tick and propagate to the root as hard errors, distinct from
// a Failure verdict.
var (
	// ErrXMLParse marks malformed XML or an unsupported format version.
	ErrXMLParse = errors.New("xml parse error")
	// ErrUnknownBehavior marks an XML reference to an unregistered name.
	ErrUnknownBehavior = errors.New("unknown behavior")
	// ErrUnknownTree marks a reference to a tree ID that was never loaded.
	ErrUnknownTree = errors.New("unknown tree")
	// ErrDuplicateName marks a registration conflict.
	ErrDuplicateName = errors.New("duplicate name")
	// ErrPortBinding marks a port type mismatch, a missing required
	// port, or an unparsable literal.
	ErrPortBinding = errors.New("port binding error")
	// ErrChildCount marks a control or decorator with the wrong number
	// of children.
	ErrChildCount = errors.New("wrong child count")
	// ErrHalted marks a pending deadline cancelled by a halt.
	ErrHalted = errors.New("halted")
)

// Re-exported kinds raised by the subsystem packages, so callers can
// match every spec error through this package alone.
var (
	ErrKeyNotFound        = blackboard.ErrKeyNotFound
	ErrTypeMismatch       = value.ErrTypeMismatch
	ErrImmutableRemapping = blackboard.ErrImmutableRemapping
	ErrScript             = script.ErrScript
)
