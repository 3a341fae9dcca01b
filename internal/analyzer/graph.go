package analyzer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/conneroisu/wasmscope/internal/types"
)

// BinaryKind distinguishes core modules from components.
type BinaryKind string

const (
	KindModule    BinaryKind = "module"
	KindComponent BinaryKind = "component"
)

// rootInterface names the pseudo-interface holding functions and types that
// are imported or exported directly rather than through a named interface.
const rootInterface = "$root"

// Producer is one entry of the producers custom section.
type Producer struct {
	Field   string `json:"field"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InterfaceGraph is the fully resolved interface surface of one binary.
type InterfaceGraph struct {
	Kind           BinaryKind                  `json:"kind"`
	Interfaces     []types.InterfaceDescriptor `json:"interfaces"`
	Dependencies   []string                    `json:"dependencies"`
	Producers      []Producer                  `json:"producers,omitempty"`
	CustomSections []string                    `json:"custom_sections,omitempty"`
	WIT            string                      `json:"wit"`
}

// Digest fingerprints the decoded content. Two graphs with the same digest
// describe the same interface surface.
func (g *InterfaceGraph) Digest() string {
	payload := struct {
		Kind         BinaryKind
		Interfaces   []types.InterfaceDescriptor
		Dependencies []string
		Producers    []Producer
		Customs      []string
	}{g.Kind, g.Interfaces, g.Dependencies, g.Producers, g.CustomSections}
	b, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Counts returns the number of import and export descriptors.
func (g *InterfaceGraph) Counts() (imports, exports int) {
	for _, d := range g.Interfaces {
		if d.Direction == types.DirectionImport {
			imports++
		} else {
			exports++
		}
	}
	return imports, exports
}

// ParseInterfaceName splits "ns:pkg/iface@1.2.3" into its package
// ("ns:pkg"), bare name ("ns:pkg/iface") and version ("1.2.3"). Names
// without a package return an empty package.
func ParseInterfaceName(full string) (name, pkg, version string) {
	name = full
	if at := strings.LastIndexByte(full, '@'); at > 0 {
		name, version = full[:at], full[at+1:]
	}
	colon := strings.IndexByte(name, ':')
	if colon <= 0 {
		return name, "", version
	}
	pkg = name
	if slash := strings.IndexByte(name, '/'); slash > colon {
		pkg = name[:slash]
	}
	return name, pkg, version
}

// Flattening limits. Outer aliases let each level of a component type refer
// to the previous one twice, so output can double per level of input.
const (
	maxFlattenDepth = 64
	maxFlattenSteps = 1 << 20
	maxFlattenItems = 1 << 16
)

// flattenBudget is shared by every builder of one decode.
type flattenBudget struct {
	budget *budget
	steps  int
	items  int
	err    error
}

func (f *flattenBudget) step() bool {
	if f.err != nil {
		return false
	}
	f.steps++
	if f.steps > maxFlattenSteps {
		f.err = newError(KindOversized, -1, "interface expansion exceeds %d steps", maxFlattenSteps)
		return false
	}
	if f.budget != nil {
		if err := f.budget.tick(-1); err != nil {
			f.err = err
			return false
		}
	}
	return true
}

func (f *flattenBudget) grow(n int) bool {
	if f.err != nil {
		return false
	}
	f.items += n
	if f.items > maxFlattenItems {
		f.err = newError(KindOversized, -1, "interface expansion exceeds %d functions and types", maxFlattenItems)
		return false
	}
	return true
}

// builder flattens decoded externs into ordered descriptors, keyed by
// direction and name so repeated mentions merge into one entry.
type builder struct {
	out   []types.InterfaceDescriptor
	index map[string]int
	limit *flattenBudget
}

func newBuilder(limit *flattenBudget) *builder {
	return &builder{index: map[string]int{}, limit: limit}
}

func (b *builder) descriptor(dir types.Direction, full string) *types.InterfaceDescriptor {
	key := string(dir) + "\x00" + full
	if i, ok := b.index[key]; ok {
		return &b.out[i]
	}
	d := types.InterfaceDescriptor{
		Name:      full,
		Direction: dir,
		Functions: []types.FunctionSignature{},
		Types:     []types.TypeDef{},
	}
	if full != rootInterface {
		d.Name, d.Package, d.Version = ParseInterfaceName(full)
	}
	b.index[key] = len(b.out)
	b.out = append(b.out, d)
	return &b.out[len(b.out)-1]
}

func (b *builder) addFunc(dir types.Direction, name string, fn *funcType) {
	if !b.limit.grow(1) {
		return
	}
	root := b.descriptor(dir, rootInterface)
	root.Functions = append(root.Functions, signature(name, fn))
}

func (b *builder) addType(dir types.Direction, def types.TypeDef) {
	if !b.limit.grow(1) {
		return
	}
	root := b.descriptor(dir, rootInterface)
	root.Types = append(root.Types, def)
}

func (b *builder) add(dir types.Direction, e extern, depth int) {
	if depth > maxFlattenDepth || !b.limit.step() {
		return
	}
	switch e.kind {
	case externInstance:
		d := b.descriptor(dir, e.name)
		if e.t == nil || e.t.inst == nil || len(d.Functions)+len(d.Types) > 0 {
			return
		}
		b.fillInstance(d, e.t.inst)
	case externFunc:
		var fn *funcType
		if e.t != nil {
			fn = e.t.fn
		}
		b.addFunc(dir, e.name, fn)
	case externType:
		if e.t != nil {
			switch e.t.kind {
			case typeComponent:
				b.world(e.t.comp, depth+1)
				return
			case typeInstance:
				b.add(types.DirectionExport, extern{name: e.name, kind: externInstance, t: e.t}, depth+1)
				return
			}
		}
		b.addType(dir, typeDef(e.name, e.t))
	case externComponent:
		if e.t != nil && e.t.comp != nil {
			b.world(e.t.comp, depth+1)
			return
		}
		b.addType(dir, types.TypeDef{Name: e.name, Kind: "component", Definition: "component " + e.name})
	default:
		b.addType(dir, types.TypeDef{Name: e.name, Kind: e.kind.String(), Definition: e.kind.String() + " " + e.name})
	}
}

// world expands a component type (a world) into its own imports and exports.
func (b *builder) world(ct *componentType, depth int) {
	if ct == nil {
		return
	}
	for _, e := range ct.imports {
		b.add(types.DirectionImport, e, depth)
	}
	for _, e := range ct.exports {
		b.add(types.DirectionExport, e, depth)
	}
}

func (b *builder) component(res *componentResult) {
	for _, e := range res.imports {
		b.add(types.DirectionImport, e, 0)
	}
	for _, e := range res.exports {
		b.add(types.DirectionExport, e, 0)
	}
}

// fillFrom copies definitions from nested descriptors into descriptors of
// the same name that are still empty at this level.
func (b *builder) fillFrom(nested []types.InterfaceDescriptor) {
	for _, nd := range nested {
		if !b.limit.step() {
			return
		}
		full := nd.Name
		if nd.Version != "" {
			full += "@" + nd.Version
		}
		key := string(nd.Direction) + "\x00" + full
		i, ok := b.index[key]
		if !ok {
			continue
		}
		d := &b.out[i]
		if len(d.Functions)+len(d.Types) == 0 {
			if !b.limit.grow(len(nd.Functions) + len(nd.Types)) {
				return
			}
			cp := types.CloneInterfaces([]types.InterfaceDescriptor{nd})[0]
			d.Functions, d.Types = cp.Functions, cp.Types
		}
	}
}

func (b *builder) fillInstance(d *types.InterfaceDescriptor, it *instanceType) {
	if !b.limit.grow(len(it.exports)) {
		return
	}
	for _, e := range it.exports {
		switch e.kind {
		case externFunc:
			var fn *funcType
			if e.t != nil {
				fn = e.t.fn
			}
			d.Functions = append(d.Functions, signature(e.name, fn))
		case externType:
			d.Types = append(d.Types, typeDef(e.name, e.t))
		default:
			d.Types = append(d.Types, types.TypeDef{Name: e.name, Kind: e.kind.String(), Definition: e.kind.String() + " " + e.name})
		}
	}
}

// componentInterfaces flattens a component and everything nested in it.
func componentInterfaces(res *componentResult, limit *flattenBudget) []types.InterfaceDescriptor {
	b := newBuilder(limit)
	b.component(res)
	for _, n := range res.nested {
		if limit.err != nil {
			break
		}
		b.fillFrom(componentInterfaces(n, limit))
	}
	return b.out
}

func dependencies(ifaces []types.InterfaceDescriptor) []string {
	seen := map[string]bool{}
	deps := []string{}
	for _, d := range ifaces {
		if d.Direction != types.DirectionImport || d.Package == "" {
			continue
		}
		dep := d.Package
		if d.Version != "" {
			dep += "@" + d.Version
		}
		if !seen[dep] {
			seen[dep] = true
			deps = append(deps, dep)
		}
	}
	return deps
}

func collectProducers(res *componentResult) []Producer {
	out := append([]Producer(nil), res.producers...)
	for _, n := range res.nested {
		out = append(out, collectProducers(n)...)
	}
	return out
}

func graphFromComponent(res *componentResult, bud *budget) (*InterfaceGraph, error) {
	limit := &flattenBudget{budget: bud}
	ifaces := componentInterfaces(res, limit)
	if limit.err != nil {
		return nil, limit.err
	}
	return &InterfaceGraph{
		Kind:           KindComponent,
		Interfaces:     ifaces,
		Dependencies:   dependencies(ifaces),
		Producers:      collectProducers(res),
		CustomSections: res.customs,
	}, nil
}

func graphFromModule(res *moduleResult, bud *budget) (*InterfaceGraph, error) {
	g := &InterfaceGraph{
		Kind:           KindModule,
		Producers:      res.producers,
		CustomSections: res.customs,
	}
	if len(res.worlds) > 0 {
		limit := &flattenBudget{budget: bud}
		b := newBuilder(limit)
		for _, w := range res.worlds {
			b.component(w)
			for _, n := range w.nested {
				b.fillFrom(componentInterfaces(n, limit))
			}
		}
		if limit.err != nil {
			return nil, limit.err
		}
		g.Interfaces = b.out
		g.Dependencies = dependencies(g.Interfaces)
		if len(g.Dependencies) == 0 {
			g.Dependencies = append([]string{}, res.modules...)
		}
		return g, nil
	}

	g.Interfaces = make([]types.InterfaceDescriptor, 0, len(res.imports)+1)
	for _, imp := range res.imports {
		imp.Name, imp.Package, imp.Version = ParseInterfaceName(imp.Name)
		g.Interfaces = append(g.Interfaces, imp)
	}
	if len(res.exports.Functions)+len(res.exports.Types) > 0 {
		g.Interfaces = append(g.Interfaces, res.exports)
	}
	g.Dependencies = append([]string{}, res.modules...)
	return g, nil
}
