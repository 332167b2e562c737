package ticktree

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/kestrelrobotics/ticktree/blackboard"
	"github.com/kestrelrobotics/ticktree/script"
)

// Reserved attribute names that never bind ports.
const (
	attrName          = "name"
	attrID            = "ID"
	attrAutoRemap     = "_autoremap"
	attrPrecondition  = "_precondition"
	attrPostcondition = "_postcondition"
)

// LoadXML registers every <BehaviorTree> of a BTCPP-4 document and
// consumes <TreeNodesModel> metadata for introspection.
func (f *Factory) LoadXML(text string) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(text); err != nil {
		return fmt.Errorf("%w: %v", ErrXMLParse, err)
	}
	return f.loadDocument(doc)
}

// LoadXMLFile is LoadXML for a file on disk.
func (f *Factory) LoadXMLFile(path string) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return fmt.Errorf("%w: %v", ErrXMLParse, err)
	}
	return f.loadDocument(doc)
}

func (f *Factory) loadDocument(doc *etree.Document) error {
	root := doc.Root()
	if root == nil || root.Tag != "root" {
		return fmt.Errorf("%w: document root must be <root>", ErrXMLParse)
	}
	if format := root.SelectAttrValue("BTCPP_format", ""); format != "4" {
		return fmt.Errorf("%w: unsupported BTCPP_format %q", ErrXMLParse, format)
	}
	var errs []error
	f.mu.Lock()
	defer f.mu.Unlock()
	if main := root.SelectAttrValue("main_tree_to_execute", ""); main != "" {
		f.mainTreeID = main
	}
	for _, elem := range root.ChildElements() {
		switch elem.Tag {
		case "BehaviorTree":
			id := elem.SelectAttrValue(attrID, "")
			if id == "" {
				errs = append(errs, fmt.Errorf("%w: <BehaviorTree> without ID", ErrXMLParse))
				continue
			}
			if _, ok := f.trees[id]; ok {
				errs = append(errs, fmt.Errorf("%w: tree %q", ErrDuplicateName, id))
				continue
			}
			if len(elem.ChildElements()) != 1 {
				errs = append(errs, fmt.Errorf("%w: tree %q must have exactly one root node", ErrXMLParse, id))
				continue
			}
			f.trees[id] = elem.Copy()
		case "TreeNodesModel":
			f.model = append(f.model, parseModel(elem)...)
		case "include":
			// BTCPP include directives are resolved by the caller;
			// loading a directory of files achieves the same.
			errs = append(errs, fmt.Errorf("%w: <include> is not supported, load the referenced file instead", ErrXMLParse))
		default:
			errs = append(errs, fmt.Errorf("%w: unexpected element <%s>", ErrXMLParse, elem.Tag))
		}
	}
	return errors.Join(errs...)
}

// parseModel extracts introspection entries; the editable attribute is
// deliberately ignored.
func parseModel(elem *etree.Element) []ModelNode {
	var out []ModelNode
	for _, node := range elem.ChildElements() {
		m := ModelNode{Kind: node.Tag, ID: node.SelectAttrValue(attrID, "")}
		for _, port := range node.ChildElements() {
			decl := PortDecl{
				Name:        port.SelectAttrValue("name", ""),
				Tag:         port.SelectAttrValue("type", ""),
				Description: strings.TrimSpace(port.Text()),
			}
			if def := port.SelectAttr("default"); def != nil {
				decl.Default = def.Value
				decl.HasDefault = true
			}
			switch port.Tag {
			case "input_port":
				decl.Direction = InputPort
			case "output_port":
				decl.Direction = OutputPort
			case "inout_port":
				decl.Direction = InOutPort
			default:
				continue
			}
			m.Ports = append(m.Ports, decl)
		}
		out = append(out, m)
	}
	return out
}

// TreeOption configures tree instantiation.
type TreeOption func(*treeConfig)

type treeConfig struct {
	runtime Runtime
	log     *slog.Logger
}

// WithRuntime injects the Runtime driving every timing-dependent
// behavior of the created tree.
func WithRuntime(rt Runtime) TreeOption {
	return func(c *treeConfig) { c.runtime = rt }
}

// WithLogger sets the created tree's logger.
func WithLogger(log *slog.Logger) TreeOption {
	return func(c *treeConfig) { c.log = log }
}

// CreateTree instantiates the registered tree with the given ID.
// Build-time problems across the whole tree are accumulated and
// returned together.
func (f *Factory) CreateTree(id string, opts ...TreeOption) (*Tree, error) {
	cfg := &treeConfig{log: f.log}
	for _, opt := range opts {
		opt(cfg)
	}
	f.mu.Lock()
	elem, ok := f.trees[id]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTree, id)
	}
	top := blackboard.New()
	b := &builder{factory: f, scopes: []*blackboard.Blackboard{top}, visiting: map[string]bool{id: true}}
	root := b.buildNode(elem.ChildElements()[0], top)
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	return newTree(id, root, b.scopes, cfg.runtime, cfg.log), nil
}

// CreateMainTree instantiates the document's main tree: the explicit
// main_tree_to_execute attribute, or the only loaded tree.
func (f *Factory) CreateMainTree(opts ...TreeOption) (*Tree, error) {
	f.mu.Lock()
	id := f.mainTreeID
	if id == "" && len(f.trees) == 1 {
		for only := range f.trees {
			id = only
		}
	}
	f.mu.Unlock()
	if id == "" {
		return nil, fmt.Errorf("%w: no main tree; set main_tree_to_execute or pass an ID", ErrUnknownTree)
	}
	return f.CreateTree(id, opts...)
}

// CreateTreeFromXML loads a document and instantiates its main tree in
// one call.
func (f *Factory) CreateTreeFromXML(text string, opts ...TreeOption) (*Tree, error) {
	if err := f.LoadXML(text); err != nil {
		return nil, err
	}
	return f.CreateMainTree(opts...)
}

// builder carries the accumulated state of one instantiation pass.
type builder struct {
	factory  *Factory
	errs     []error
	uid      uint16
	scopes   []*blackboard.Blackboard
	visiting map[string]bool
}

func (b *builder) errf(format string, args ...any) {
	b.errs = append(b.errs, fmt.Errorf(format, args...))
}

// buildNode instantiates elem and its subtree depth-first, assigning
// uids in creation order. It returns nil after recording errors, so one
// pass reports every problem in the document.
func (b *builder) buildNode(elem *etree.Element, bb *blackboard.Blackboard) *Node {
	if elem.Tag == "SubTree" {
		return b.buildSubTree(elem, bb)
	}
	reg, ok := b.factory.lookup(elem.Tag)
	if !ok {
		b.errf("%w: <%s>", ErrUnknownBehavior, elem.Tag)
		return nil
	}
	b.uid++
	n := &Node{
		uid:        b.uid,
		registered: reg.Name,
		display:    elem.SelectAttrValue(attrName, reg.Name),
		kind:       reg.Kind,
		bb:         bb,
		behavior:   reg.Build(),
		bindings:   map[string]portBinding{},
	}
	b.bindPorts(n, reg, elem)
	b.bindScripts(n, elem)
	for _, child := range elem.ChildElements() {
		if c := b.buildNode(child, bb); c != nil {
			n.children = append(n.children, c)
		}
	}
	if err := validateChildCount(reg.Kind, n.behavior, len(n.children)); err != nil {
		b.errf("<%s>: %w", elem.Tag, err)
	}
	return n
}

func (b *builder) bindPorts(n *Node, reg *Registration, elem *etree.Element) {
	for _, decl := range reg.Ports {
		attr := elem.SelectAttr(decl.Name)
		raw, present := "", false
		if attr != nil {
			raw, present = attr.Value, true
		}
		binding, err := bindPort(decl, raw, present)
		if err != nil {
			b.errf("<%s>: %w", elem.Tag, err)
			continue
		}
		n.bindings[decl.Name] = binding
	}
	for _, attr := range elem.Attr {
		if attr.Key == attrName || attr.Key == attrID || strings.HasPrefix(attr.Key, "_") {
			continue
		}
		if _, ok := reg.Ports.Find(attr.Key); !ok {
			b.errf("%w: <%s> has no port %q", ErrPortBinding, elem.Tag, attr.Key)
		}
	}
}

func (b *builder) bindScripts(n *Node, elem *etree.Element) {
	if code := elem.SelectAttrValue(attrPrecondition, ""); code != "" {
		prog, err := script.Compile(code)
		if err != nil {
			b.errf("<%s> _precondition: %w", elem.Tag, err)
		} else {
			n.pre = prog
		}
	}
	if code := elem.SelectAttrValue(attrPostcondition, ""); code != "" {
		prog, err := script.Compile(code)
		if err != nil {
			b.errf("<%s> _postcondition: %w", elem.Tag, err)
		} else {
			n.post = prog
		}
	}
}

// buildSubTree instantiates a <SubTree> reference: a fresh blackboard
// scope whose remapping table comes from the element's attributes, then
// the referenced template inside it.
func (b *builder) buildSubTree(elem *etree.Element, bb *blackboard.Blackboard) *Node {
	id := elem.SelectAttrValue(attrID, "")
	if id == "" {
		b.errf("%w: <SubTree> without ID", ErrXMLParse)
		return nil
	}
	if b.visiting[id] {
		b.errf("%w: recursive subtree %q", ErrXMLParse, id)
		return nil
	}
	b.factory.mu.Lock()
	template, ok := b.factory.trees[id]
	b.factory.mu.Unlock()
	if !ok {
		b.errf("%w: subtree %q", ErrUnknownTree, id)
		return nil
	}
	scope := bb.NewChild()
	b.scopes = append(b.scopes, scope)
	for _, attr := range elem.Attr {
		switch attr.Key {
		case attrID, attrName:
			continue
		case attrAutoRemap:
			auto, err := strconv.ParseBool(attr.Value)
			if err != nil {
				b.errf("%w: _autoremap=%q", ErrXMLParse, attr.Value)
				continue
			}
			scope.SetAutoRemap(auto)
			continue
		}
		if strings.HasPrefix(attr.Key, "_") {
			continue
		}
		if IsKeyRef(attr.Value) {
			scope.Remap(attr.Key, StripKeyRef(attr.Value, attr.Key))
		} else {
			scope.RemapLiteral(attr.Key, attr.Value)
		}
	}
	b.uid++
	n := &Node{
		uid:        b.uid,
		registered: "SubTree",
		display:    elem.SelectAttrValue(attrName, id),
		kind:       SubTreeKind,
		bb:         bb,
		behavior:   subTree{},
		bindings:   map[string]portBinding{},
	}
	b.bindScripts(n, elem)
	b.visiting[id] = true
	if root := b.buildNode(template.ChildElements()[0], scope); root != nil {
		n.children = append(n.children, root)
	}
	delete(b.visiting, id)
	if len(n.children) != 1 {
		return nil
	}
	return n
}

// TreeNodesModelXML renders the <TreeNodesModel> document describing
// every registered behavior, the format Groot-style editors consume.
func (f *Factory) TreeNodesModelXML() (string, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("root")
	root.CreateAttr("BTCPP_format", "4")
	model := root.CreateElement("TreeNodesModel")
	for _, reg := range f.Registrations() {
		elem := model.CreateElement(reg.Kind.String())
		elem.CreateAttr("ID", reg.Name)
		for _, p := range reg.Ports {
			var tag string
			switch p.Direction {
			case InputPort:
				tag = "input_port"
			case OutputPort:
				tag = "output_port"
			case InOutPort:
				tag = "inout_port"
			}
			port := elem.CreateElement(tag)
			port.CreateAttr("name", p.Name)
			if p.Tag != "" {
				port.CreateAttr("type", p.Tag)
			}
			if p.HasDefault {
				port.CreateAttr("default", p.Default)
			}
			if p.Description != "" {
				port.SetText(p.Description)
			}
		}
	}
	doc.Indent(2)
	return doc.WriteToString()
}
