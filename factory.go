package ticktree

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/beevik/etree"
)

// Registration describes one behavior type: its XML name, kind, port
// declarations, and a builder producing a fresh instance per node.
// Ports may be left nil when the built behavior implements
// PortProvider.
type Registration struct {
	Name        string
	Kind        Kind
	Ports       PortList
	Description string
	Build       func() Behavior
}

// Factory holds the behavior and subtree registries and turns loaded
// XML documents into ready-to-tick trees.
type Factory struct {
	mu         sync.Mutex
	regs       map[string]*Registration
	mocks      map[string]*Registration
	trees      map[string]*etree.Element
	model      []ModelNode
	mainTreeID string
	log        *slog.Logger
}

// ModelNode is one entry of a parsed <TreeNodesModel> metadata block,
// kept for introspection. The editable attribute is ignored.
type ModelNode struct {
	Kind  string
	ID    string
	Ports PortList
}

// NewFactory returns a factory with every built-in behavior
// registered.
func NewFactory() *Factory {
	f := &Factory{
		regs:  map[string]*Registration{},
		mocks: map[string]*Registration{},
		trees: map[string]*etree.Element{},
		log:   slog.Default(),
	}
	f.registerBuiltins()
	return f
}

// SetLogger replaces the logger used by the factory and the trees it
// creates.
func (f *Factory) SetLogger(log *slog.Logger) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if log != nil {
		f.log = log
	}
}

// Register adds a behavior type. Ports come from the Registration or,
// when nil, from a probe instance implementing PortProvider.
// Registering a name twice fails; use RegisterMock to shadow.
func (f *Factory) Register(r Registration) error {
	if r.Name == "" || r.Build == nil {
		return fmt.Errorf("registration needs a name and a builder")
	}
	if r.Ports == nil {
		if pp, ok := r.Build().(PortProvider); ok {
			r.Ports = pp.Ports()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.regs[r.Name]; ok {
		return fmt.Errorf("%w: behavior %q", ErrDuplicateName, r.Name)
	}
	f.regs[r.Name] = &r
	return nil
}

// RegisterMock shadows an existing registration (or adds a new one)
// for testing. Mock lookups win over regular registrations until
// ClearMocks.
func (f *Factory) RegisterMock(r Registration) error {
	if r.Name == "" || r.Build == nil {
		return fmt.Errorf("registration needs a name and a builder")
	}
	if r.Ports == nil {
		if pp, ok := r.Build().(PortProvider); ok {
			r.Ports = pp.Ports()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mocks[r.Name] = &r
	return nil
}

// ClearMocks removes every mock registration.
func (f *Factory) ClearMocks() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mocks = map[string]*Registration{}
}

// RegisterSimpleAction adds an action behavior from a plain callable.
func (f *Factory) RegisterSimpleAction(name string, fn SimpleFunc, ports ...PortDecl) error {
	return f.Register(Registration{
		Name:  name,
		Kind:  ActionKind,
		Ports: PortList(ports),
		Build: func() Behavior { return &simpleBehavior{fn: fn, ports: PortList(ports)} },
	})
}

// RegisterSimpleCondition adds a condition behavior from a plain
// callable.
func (f *Factory) RegisterSimpleCondition(name string, fn SimpleFunc, ports ...PortDecl) error {
	return f.Register(Registration{
		Name:  name,
		Kind:  ConditionKind,
		Ports: PortList(ports),
		Build: func() Behavior { return &simpleBehavior{fn: fn, ports: PortList(ports)} },
	})
}

// lookup resolves a registered name, mocks first.
func (f *Factory) lookup(name string) (*Registration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.mocks[name]; ok {
		return r, true
	}
	r, ok := f.regs[name]
	return r, ok
}

// Registrations returns every registered behavior, sorted by name.
// Mocks are not included.
func (f *Factory) Registrations() []Registration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Registration, 0, len(f.regs))
	for _, r := range f.regs {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Model returns the introspection metadata parsed from
// <TreeNodesModel> blocks of loaded documents.
func (f *Factory) Model() []ModelNode {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ModelNode, len(f.model))
	copy(out, f.model)
	return out
}

// ClearRegisteredTrees drops every loaded tree definition, keeping the
// behavior registry.
func (f *Factory) ClearRegisteredTrees() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trees = map[string]*etree.Element{}
	f.model = nil
	f.mainTreeID = ""
}

// TreeIDs returns the IDs of every loaded tree definition, sorted.
func (f *Factory) TreeIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.trees))
	for id := range f.trees {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (f *Factory) registerBuiltins() {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	// Controls.
	must(f.Register(Registration{Name: "Sequence", Kind: ControlKind, Build: func() Behavior { return &Sequence{} }}))
	must(f.Register(Registration{Name: "SequenceWithMemory", Kind: ControlKind, Build: func() Behavior { return &SequenceWithMemory{} }}))
	must(f.Register(Registration{Name: "ReactiveSequence", Kind: ControlKind, Build: func() Behavior { return &ReactiveSequence{} }}))
	must(f.Register(Registration{Name: "Fallback", Kind: ControlKind, Build: func() Behavior { return &Fallback{} }}))
	must(f.Register(Registration{Name: "ReactiveFallback", Kind: ControlKind, Build: func() Behavior { return &ReactiveFallback{} }}))
	must(f.Register(Registration{Name: "Parallel", Kind: ControlKind, Build: func() Behavior { return &Parallel{} }}))
	must(f.Register(Registration{Name: "ParallelAll", Kind: ControlKind, Build: func() Behavior { return &ParallelAll{} }}))
	must(f.Register(Registration{Name: "IfThenElse", Kind: ControlKind, Build: func() Behavior { return &IfThenElse{} }}))
	must(f.Register(Registration{Name: "WhileDoElse", Kind: ControlKind, Build: func() Behavior { return &WhileDoElse{} }}))
	for cases := 2; cases <= 6; cases++ {
		cases := cases
		must(f.Register(Registration{
			Name:  fmt.Sprintf("Switch%d", cases),
			Kind:  ControlKind,
			Build: func() Behavior { return NewSwitch(cases) },
		}))
	}
	// Decorators.
	must(f.Register(Registration{Name: "Inverter", Kind: DecoratorKind, Build: func() Behavior { return Inverter{} }}))
	must(f.Register(Registration{Name: "ForceSuccess", Kind: DecoratorKind, Build: func() Behavior { return &ForceState{Verdict: Success} }}))
	must(f.Register(Registration{Name: "ForceFailure", Kind: DecoratorKind, Build: func() Behavior { return &ForceState{Verdict: Failure} }}))
	must(f.Register(Registration{Name: "KeepRunningUntilFailure", Kind: DecoratorKind, Build: func() Behavior { return KeepRunningUntilFailure{} }}))
	must(f.Register(Registration{Name: "Repeat", Kind: DecoratorKind, Build: func() Behavior { return &Repeat{} }}))
	must(f.Register(Registration{Name: "RetryUntilSuccessful", Kind: DecoratorKind, Build: func() Behavior { return &RetryUntilSuccessful{} }}))
	must(f.Register(Registration{Name: "RunOnce", Kind: DecoratorKind, Build: func() Behavior { return &RunOnce{} }}))
	must(f.Register(Registration{Name: "EntryUpdated", Kind: DecoratorKind, Build: func() Behavior { return &EntryUpdated{} }}))
	must(f.Register(Registration{Name: "Timeout", Kind: DecoratorKind, Build: func() Behavior { return &Timeout{} }}))
	must(f.Register(Registration{Name: "Delay", Kind: DecoratorKind, Build: func() Behavior { return &Delay{} }}))
	must(f.Register(Registration{Name: "Precondition", Kind: DecoratorKind, Build: func() Behavior { return Precondition{} }}))
	must(f.Register(Registration{Name: "LoopString", Kind: DecoratorKind, Build: func() Behavior { return Loop[string]{} }}))
	must(f.Register(Registration{Name: "LoopInt", Kind: DecoratorKind, Build: func() Behavior { return Loop[int64]{} }}))
	must(f.Register(Registration{Name: "LoopDouble", Kind: DecoratorKind, Build: func() Behavior { return Loop[float64]{} }}))
	must(f.Register(Registration{Name: "LoopBool", Kind: DecoratorKind, Build: func() Behavior { return Loop[bool]{} }}))
	// Actions.
	must(f.Register(Registration{Name: "AlwaysSuccess", Kind: ActionKind, Build: func() Behavior { return AlwaysSuccess{} }}))
	must(f.Register(Registration{Name: "AlwaysFailure", Kind: ActionKind, Build: func() Behavior { return AlwaysFailure{} }}))
	must(f.Register(Registration{Name: "Script", Kind: ActionKind, Build: func() Behavior { return ScriptAction{} }}))
	must(f.Register(Registration{Name: "SetBlackboard", Kind: ActionKind, Build: func() Behavior { return SetBlackboard{} }}))
	must(f.Register(Registration{Name: "UnsetBlackboard", Kind: ActionKind, Build: func() Behavior { return UnsetBlackboard{} }}))
	must(f.Register(Registration{Name: "Sleep", Kind: ActionKind, Build: func() Behavior { return &Sleep{} }}))
	must(f.Register(Registration{Name: "PopFromQueue", Kind: ActionKind, Build: func() Behavior { return PopFromQueue[string]{} }}))
	must(f.Register(Registration{Name: "ChangeStateAfter", Kind: ActionKind, Build: func() Behavior { return &ChangeStateAfter{} }}))
	// Conditions.
	must(f.Register(Registration{Name: "WasEntryUpdated", Kind: ConditionKind, Build: func() Behavior { return &WasEntryUpdated{} }}))
	must(f.Register(Registration{Name: "ScriptCondition", Kind: ConditionKind, Build: func() Behavior { return ScriptCondition{} }}))
	must(f.Register(Registration{Name: "ExprCondition", Kind: ConditionKind, Build: func() Behavior { return ExprCondition{} }}))
}
