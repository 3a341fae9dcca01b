package testutils

// Encoders for hand-assembled WebAssembly binaries. They emit exactly the
// byte layout of the binary format so tests can build components and core
// modules without a toolchain.

// Value type codes.
const (
	Bool   byte = 0x7f
	S32    byte = 0x7a
	U8     byte = 0x7d
	U32    byte = 0x79
	U64    byte = 0x77
	F32    byte = 0x76
	F64    byte = 0x75
	Char   byte = 0x74
	String byte = 0x73
)

// Sort codes.
const (
	SortFunc      byte = 0x01
	SortValue     byte = 0x02
	SortType      byte = 0x03
	SortComponent byte = 0x04
	SortInstance  byte = 0x05
)

// Core value type codes.
const (
	I32 byte = 0x7f
	I64 byte = 0x7e
)

// Core export kinds.
const (
	CoreFunc   byte = 0x00
	CoreMemory byte = 0x02
)

// ULEB encodes v as unsigned LEB128.
func ULEB(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func u(v uint32) []byte { return ULEB(uint64(v)) }

// Cat concatenates byte slices.
func Cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Str encodes a length-prefixed name.
func Str(s string) []byte { return Cat(u(uint32(len(s))), []byte(s)) }

// Vec encodes a counted vector of pre-encoded items.
func Vec(items ...[]byte) []byte { return Cat(u(uint32(len(items))), Cat(items...)) }

// Section wraps a payload in a section header.
func Section(id byte, payload ...[]byte) []byte {
	body := Cat(payload...)
	return Cat([]byte{id}, u(uint32(len(body))), body)
}

// Component assembles a component binary.
func Component(sections ...[]byte) []byte {
	return Cat([]byte{0x00, 0x61, 0x73, 0x6d, 0x0d, 0x00, 0x01, 0x00}, Cat(sections...))
}

// Module assembles a core module binary.
func Module(sections ...[]byte) []byte {
	return Cat([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}, Cat(sections...))
}

// Prim encodes a primitive value type.
func Prim(code byte) []byte { return []byte{code} }

// TypeRef encodes a value type given by type index.
func TypeRef(idx uint32) []byte { return u(idx) }

// Field encodes a labelled value type, used by records and parameters.
func Field(name string, vt []byte) []byte { return Cat(Str(name), vt) }

// Param is an alias of Field for function parameters.
func Param(name string, vt []byte) []byte { return Field(name, vt) }

func Record(fields ...[]byte) []byte { return Cat([]byte{0x72}, Vec(fields...)) }

// Case encodes a variant case; a nil payload means no payload.
func Case(name string, payload []byte) []byte {
	return Cat(Str(name), optional(payload), []byte{0x00})
}

func Variant(cases ...[]byte) []byte { return Cat([]byte{0x71}, Vec(cases...)) }

func List(vt []byte) []byte { return Cat([]byte{0x70}, vt) }

func Tuple(vts ...[]byte) []byte { return Cat([]byte{0x6f}, Vec(vts...)) }

func Flags(labels ...string) []byte { return Cat([]byte{0x6e}, labelVec(labels)) }

func Enum(labels ...string) []byte { return Cat([]byte{0x6d}, labelVec(labels)) }

func Option(vt []byte) []byte { return Cat([]byte{0x6b}, vt) }

// Result encodes result<ok, err>; nil means the side is absent.
func Result(ok, err []byte) []byte { return Cat([]byte{0x6a}, optional(ok), optional(err)) }

func Own(idx uint32) []byte { return Cat([]byte{0x69}, u(idx)) }

func Borrow(idx uint32) []byte { return Cat([]byte{0x68}, u(idx)) }

// Resource encodes a resource type without destructor.
func Resource() []byte { return []byte{0x3f, 0x7f, 0x00} }

// Func encodes a function type. A nil result means no results.
func Func(params [][]byte, result []byte) []byte {
	out := Cat([]byte{0x40}, Vec(params...))
	if result == nil {
		return Cat(out, []byte{0x01, 0x00})
	}
	return Cat(out, []byte{0x00}, result)
}

// NamedResults encodes a function type with named results.
func NamedResults(params [][]byte, results ...[]byte) []byte {
	return Cat([]byte{0x40}, Vec(params...), []byte{0x01}, Vec(results...))
}

func InstanceType(decls ...[]byte) []byte { return Cat([]byte{0x42}, Vec(decls...)) }

func ComponentType(decls ...[]byte) []byte { return Cat([]byte{0x41}, Vec(decls...)) }

func DeclType(def []byte) []byte { return Cat([]byte{0x01}, def) }

func DeclExport(name string, desc []byte) []byte { return Cat([]byte{0x04, 0x00}, Str(name), desc) }

func DeclImport(name string, desc []byte) []byte { return Cat([]byte{0x03, 0x00}, Str(name), desc) }

// DeclAliasOuter aliases type idx from count scopes out.
func DeclAliasOuter(count, idx uint32) []byte {
	return Cat([]byte{0x02, SortType, 0x02}, u(count), u(idx))
}

func DescFunc(idx uint32) []byte { return Cat([]byte{0x01}, u(idx)) }

func DescComponent(idx uint32) []byte { return Cat([]byte{0x04}, u(idx)) }

func DescInstance(idx uint32) []byte { return Cat([]byte{0x05}, u(idx)) }

func DescTypeEq(idx uint32) []byte { return Cat([]byte{0x03, 0x00}, u(idx)) }

func DescSubResource() []byte { return []byte{0x03, 0x01} }

func TypeSection(defs ...[]byte) []byte { return Section(7, Vec(defs...)) }

func ImportSection(entries ...[]byte) []byte { return Section(10, Vec(entries...)) }

func Import(name string, desc []byte) []byte { return Cat([]byte{0x00}, Str(name), desc) }

func ExportSection(entries ...[]byte) []byte { return Section(11, Vec(entries...)) }

// Export encodes an export entry without type ascription.
func Export(name string, sort byte, idx uint32) []byte {
	return Cat([]byte{0x00}, Str(name), []byte{sort}, u(idx), []byte{0x00})
}

func AliasSection(aliases ...[]byte) []byte { return Section(6, Vec(aliases...)) }

// AliasExport aliases export name of component instance inst.
func AliasExport(sort byte, inst uint32, name string) []byte {
	return Cat([]byte{sort, 0x00}, u(inst), Str(name))
}

// AliasOuter aliases an item of an enclosing component.
func AliasOuter(sort byte, count, idx uint32) []byte {
	return Cat([]byte{sort, 0x02}, u(count), u(idx))
}

func CanonSection(entries ...[]byte) []byte { return Section(8, Vec(entries...)) }

// CanonLift lifts core function coreFunc to a component function of type typeIdx.
func CanonLift(coreFunc, typeIdx uint32) []byte {
	return Cat([]byte{0x00, 0x00}, u(coreFunc), Vec(), u(typeIdx))
}

// CanonLower lowers component function fn into a core function.
func CanonLower(fn uint32) []byte { return Cat([]byte{0x01, 0x00}, u(fn), Vec()) }

func InstanceSection(entries ...[]byte) []byte { return Section(5, Vec(entries...)) }

// InlineInstance builds an instance from inline exports.
func InlineInstance(exports ...[]byte) []byte { return Cat([]byte{0x01}, Vec(exports...)) }

func InlineExport(name string, sort byte, idx uint32) []byte {
	return Cat([]byte{0x00}, Str(name), []byte{sort}, u(idx))
}

// Instantiate instantiates component comp without arguments.
func Instantiate(comp uint32) []byte { return Cat([]byte{0x00}, u(comp), Vec()) }

// Nested wraps a complete component binary as a nested component section.
func Nested(binary []byte) []byte { return Section(4, binary) }

// CoreModuleSection embeds a core module binary.
func CoreModuleSection(binary []byte) []byte { return Section(1, binary) }

func Custom(name string, payload []byte) []byte { return Section(0, Str(name), payload) }

// Producers encodes a producers section payload.
func Producers(fields ...[]byte) []byte { return Vec(fields...) }

// ProducerField encodes one producers field with name/version pairs.
func ProducerField(field string, pairs ...string) []byte {
	var values [][]byte
	for i := 0; i+1 < len(pairs); i += 2 {
		values = append(values, Cat(Str(pairs[i]), Str(pairs[i+1])))
	}
	return Cat(Str(field), Vec(values...))
}

func CoreFuncType(params, results []byte) []byte {
	return Cat([]byte{0x60}, u(uint32(len(params))), params, u(uint32(len(results))), results)
}

func CoreTypeSection(types ...[]byte) []byte { return Section(1, Vec(types...)) }

func CoreImportSection(entries ...[]byte) []byte { return Section(2, Vec(entries...)) }

func CoreFuncImport(module, field string, typeIdx uint32) []byte {
	return Cat(Str(module), Str(field), []byte{0x00}, u(typeIdx))
}

func CoreMemoryImport(module, field string, min uint32) []byte {
	return Cat(Str(module), Str(field), []byte{0x02, 0x00}, u(min))
}

func CoreFunctionSection(typeIdx ...uint32) []byte {
	var items [][]byte
	for _, i := range typeIdx {
		items = append(items, u(i))
	}
	return Section(3, Vec(items...))
}

func CoreExportSection(entries ...[]byte) []byte { return Section(7, Vec(entries...)) }

func CoreExport(name string, kind byte, idx uint32) []byte {
	return Cat(Str(name), []byte{kind}, u(idx))
}

func optional(b []byte) []byte {
	if b == nil {
		return []byte{0x00}
	}
	return Cat([]byte{0x01}, b)
}

func labelVec(labels []string) []byte {
	items := make([][]byte, len(labels))
	for i, l := range labels {
		items[i] = Str(l)
	}
	return Vec(items...)
}
