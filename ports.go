package ticktree

import (
	"fmt"
	"strings"

	"github.com/kestrelrobotics/ticktree/blackboard"
	"github.com/kestrelrobotics/ticktree/value"
)

// PortDirection tells which way data flows through a port.
type PortDirection int

const (
	// InputPort ports are read by the behavior.
	InputPort PortDirection = iota
	// OutputPort ports are written by the behavior.
	OutputPort
	// InOutPort ports are both read and written.
	InOutPort
)

func (d PortDirection) String() string {
	switch d {
	case InputPort:
		return "input"
	case OutputPort:
		return "output"
	case InOutPort:
		return "inout"
	}
	return "unknown"
}

// PortDecl declares one I/O port of a behavior type. Tag names the
// port's value type in the registry; Default, when HasDefault is set, is
// the literal (or "{key}" reference) used when the XML omits the
// attribute.
type PortDecl struct {
	Name        string
	Direction   PortDirection
	Tag         string
	Default     string
	HasDefault  bool
	Description string
}

// PortList is the ordered port declaration set of a behavior type.
type PortList []PortDecl

// Find returns the declaration named name.
func (pl PortList) Find(name string) (PortDecl, bool) {
	for _, p := range pl {
		if p.Name == name {
			return p, true
		}
	}
	return PortDecl{}, false
}

// Input declares an input port of type T.
func Input[T any](name, description string) PortDecl {
	return PortDecl{Name: name, Direction: InputPort, Tag: value.TagFor[T](), Description: description}
}

// InputDefault declares an input port of type T with a default literal
// (or "{key}" reference).
func InputDefault[T any](name, def, description string) PortDecl {
	p := Input[T](name, description)
	p.Default = def
	p.HasDefault = true
	return p
}

// Output declares an output port of type T.
func Output[T any](name, description string) PortDecl {
	return PortDecl{Name: name, Direction: OutputPort, Tag: value.TagFor[T](), Description: description}
}

// InOut declares a bidirectional port of type T.
func InOut[T any](name, description string) PortDecl {
	return PortDecl{Name: name, Direction: InOutPort, Tag: value.TagFor[T](), Description: description}
}

// portBinding is the build-time resolution of one port: either a
// blackboard key reference or a constant literal.
type portBinding struct {
	decl    PortDecl
	key     string // blackboard key when isKey
	literal string // raw literal otherwise
	parsed  any    // literal parsed once at build time, when the tag is typed
	isKey   bool
}

// IsKeyRef reports whether raw uses the "{key}" reference syntax.
func IsKeyRef(raw string) bool {
	return len(raw) >= 2 && strings.HasPrefix(raw, "{") && strings.HasSuffix(raw, "}")
}

// StripKeyRef removes the surrounding braces of a "{key}" reference,
// expanding the "{=}" shorthand to the port's own name.
func StripKeyRef(raw, portName string) string {
	key := strings.TrimSuffix(strings.TrimPrefix(raw, "{"), "}")
	if key == "=" {
		return portName
	}
	return key
}

// bindPort resolves a declared port against its XML attribute (raw,
// present=false when the attribute was omitted), per the build-time
// rules: absent attributes fall back to the declared default, then to
// an identity key reference; "{x}" binds key x; anything else is a
// literal validated against the declared tag.
func bindPort(decl PortDecl, raw string, present bool) (portBinding, error) {
	if !present {
		if decl.HasDefault {
			raw = decl.Default
		} else {
			return portBinding{decl: decl, key: decl.Name, isKey: true}, nil
		}
	}
	if IsKeyRef(raw) {
		return portBinding{decl: decl, key: StripKeyRef(raw, decl.Name), isKey: true}, nil
	}
	b := portBinding{decl: decl, literal: raw}
	if decl.Tag != "" && decl.Tag != "string" {
		parsed, err := value.Parse(decl.Tag, raw)
		if err != nil {
			return portBinding{}, fmt.Errorf("%w: port %q: literal %q is not a valid %s", ErrPortBinding, decl.Name, raw, decl.Tag)
		}
		// Parsing once here keeps literal-bound reference types (e.g.
		// shared queues) stable across activations.
		b.parsed = parsed
	}
	return b, nil
}

// InputValue reads the port named name on n, converting to T. Literal
// bindings parse the constant; key bindings read the node's blackboard
// scope through its remapping.
func InputValue[T any](n *Node, name string) (T, error) {
	var zero T
	b, ok := n.bindings[name]
	if !ok {
		return zero, fmt.Errorf("%w: %s has no port %q", ErrPortBinding, n.registered, name)
	}
	if b.decl.Direction == OutputPort {
		return zero, fmt.Errorf("%w: port %q is output-only", ErrPortBinding, name)
	}
	if !b.isKey {
		raw := any(b.literal)
		if b.parsed != nil {
			raw = b.parsed
		}
		v, err := value.As[T](raw)
		if err != nil {
			return zero, fmt.Errorf("%w: port %q: %v", ErrPortBinding, name, err)
		}
		return v, nil
	}
	v, err := blackboard.GetTyped[T](n.bb, b.key)
	if err != nil {
		return zero, fmt.Errorf("port %q: %w", name, err)
	}
	return v, nil
}

// SetOutput writes v to the port named name on n. Writes through a
// literal binding fail.
func SetOutput[T any](n *Node, name string, v T) error {
	b, ok := n.bindings[name]
	if !ok {
		return fmt.Errorf("%w: %s has no port %q", ErrPortBinding, n.registered, name)
	}
	if b.decl.Direction == InputPort {
		return fmt.Errorf("%w: port %q is input-only", ErrPortBinding, name)
	}
	if !b.isKey {
		return fmt.Errorf("%w: port %q is bound to a literal", blackboard.ErrImmutableRemapping, name)
	}
	return n.bb.SetFrom(n.Path(), b.key, v)
}

// PortKey returns the blackboard key a port is bound to, or false for
// literal bindings. Change-detection behaviors need the key itself,
// not the value.
func (n *Node) PortKey(name string) (string, bool) {
	b, ok := n.bindings[name]
	if !ok || !b.isKey {
		return "", false
	}
	return b.key, true
}
