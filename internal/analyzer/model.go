package analyzer

// The decoder resolves every index reference into a pointer as it reads,
// so rendering never needs the index spaces again. References can only
// point backwards, which keeps the type graph acyclic.

type externKind int

const (
	externModule externKind = iota
	externFunc
	externValue
	externType
	externComponent
	externInstance
)

func (k externKind) String() string {
	switch k {
	case externModule:
		return "module"
	case externFunc:
		return "func"
	case externValue:
		return "value"
	case externType:
		return "type"
	case externComponent:
		return "component"
	case externInstance:
		return "instance"
	}
	return "unknown"
}

type typeKind int

const (
	typeValue typeKind = iota
	typeFunc
	typeComponent
	typeInstance
	typeResource
)

// compType is one entry of a component-level type index space.
type compType struct {
	kind typeKind
	name string
	val  *valueType
	fn   *funcType
	inst *instanceType
	comp *componentType
}

// named returns a copy of t carrying name. Exporting or importing a type
// under a name creates a new index that refers to the same definition.
func (t *compType) named(name string) *compType {
	if t == nil {
		return &compType{kind: typeResource, name: name}
	}
	cp := *t
	cp.name = name
	return &cp
}

// valRef is either a primitive or a resolved type entry.
type valRef struct {
	prim string
	t    *compType
}

const (
	defRecord  byte = 0x72
	defVariant byte = 0x71
	defList    byte = 0x70
	defTuple   byte = 0x6f
	defFlags   byte = 0x6e
	defEnum    byte = 0x6d
	defOption  byte = 0x6b
	defResult  byte = 0x6a
	defOwn     byte = 0x69
	defBorrow  byte = 0x68
	defFixed   byte = 0x67
	defStream  byte = 0x66
	defFuture  byte = 0x65
)

// valueType is a defined value type. code is 0 for a primitive or a
// plain alias of elem.
type valueType struct {
	code   byte
	prim   string
	fields []namedVal
	labels []string
	elems  []valRef
	elem   *valRef
	ok     *valRef
	err    *valRef
	handle *compType
	length uint32
}

type namedVal struct {
	name string
	t    *valRef
}

type funcType struct {
	params  []namedVal
	results []namedVal
	async   bool
}

type extern struct {
	name string
	kind externKind
	t    *compType
}

type instanceType struct {
	exports []extern
}

func (it *instanceType) lookup(name string) (extern, bool) {
	for _, e := range it.exports {
		if e.name == name {
			return e, true
		}
	}
	return extern{}, false
}

type componentType struct {
	imports []extern
	exports []extern
}

var primitives = map[byte]string{
	0x7f: "bool",
	0x7e: "s8",
	0x7d: "u8",
	0x7c: "s16",
	0x7b: "u16",
	0x7a: "s32",
	0x79: "u32",
	0x78: "s64",
	0x77: "u64",
	0x76: "f32",
	0x75: "f64",
	0x74: "char",
	0x73: "string",
	0x64: "error-context",
}

// scope holds the index spaces of one component or one instance/component
// type body. parent links enable outer aliases.
type scope struct {
	parent     *scope
	types      []*compType
	funcs      []*compType
	instances  []*instanceType
	components []*componentType
	// funcsKnown is the length of funcs up to which indices are reliable,
	// or -1 when every index is.
	funcsKnown int
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, funcsKnown: -1}
}

func (s *scope) typeAt(r *reader, idx uint32) (*compType, error) {
	if int(idx) >= len(s.types) {
		return nil, newError(KindUnresolvedImport, r.offset(), "type index %d out of range", idx)
	}
	return s.types[idx], nil
}

// funcAt returns nil without error when the index falls in a region whose
// entries could not be tracked.
func (s *scope) funcAt(r *reader, idx uint32) (*compType, error) {
	if s.funcsKnown >= 0 && int(idx) >= s.funcsKnown {
		return nil, nil
	}
	if int(idx) >= len(s.funcs) {
		return nil, newError(KindUnresolvedImport, r.offset(), "function index %d out of range", idx)
	}
	return s.funcs[idx], nil
}

func (s *scope) instanceAt(r *reader, idx uint32) (*instanceType, error) {
	if int(idx) >= len(s.instances) {
		return nil, newError(KindUnresolvedImport, r.offset(), "instance index %d out of range", idx)
	}
	return s.instances[idx], nil
}

func (s *scope) componentAt(r *reader, idx uint32) (*componentType, error) {
	if int(idx) >= len(s.components) {
		return nil, newError(KindUnresolvedImport, r.offset(), "component index %d out of range", idx)
	}
	return s.components[idx], nil
}

func (s *scope) outer(r *reader, count uint32) (*scope, error) {
	cur := s
	for i := uint32(0); i < count; i++ {
		if cur.parent == nil {
			return nil, newError(KindUnresolvedImport, r.offset(), "outer alias count %d exceeds enclosing scopes", count)
		}
		cur = cur.parent
	}
	return cur, nil
}

// push adds an item to the index space matching kind. Type entries must
// already carry their name.
func (s *scope) push(kind externKind, t *compType) {
	switch kind {
	case externType:
		if t == nil {
			t = &compType{kind: typeResource}
		}
		s.types = append(s.types, t)
	case externFunc:
		s.funcs = append(s.funcs, t)
	case externInstance:
		if t != nil {
			s.instances = append(s.instances, t.inst)
		} else {
			s.instances = append(s.instances, nil)
		}
	case externComponent:
		if t != nil {
			s.components = append(s.components, t.comp)
		} else {
			s.components = append(s.components, nil)
		}
	}
}
