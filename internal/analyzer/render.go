package analyzer

import (
	"fmt"
	"strings"

	"github.com/conneroisu/wasmscope/internal/types"
)

// maxTypeText bounds one rendered type. Shared sub-types can make the
// structural text grow exponentially with the size of the binary.
const maxTypeText = 4096

type typeWriter struct {
	sb strings.Builder
}

func (w *typeWriter) full() bool { return w.sb.Len() >= maxTypeText }

func (w *typeWriter) write(s string) {
	if w.full() {
		return
	}
	w.sb.WriteString(s)
	if w.full() {
		w.sb.WriteString("...")
	}
}

func (w *typeWriter) String() string { return w.sb.String() }

func typeString(ref valRef) string {
	w := &typeWriter{}
	w.ref(ref)
	return w.String()
}

func (w *typeWriter) ref(ref valRef) {
	if w.full() {
		return
	}
	if ref.prim != "" {
		w.write(ref.prim)
		return
	}
	t := ref.t
	if t == nil {
		w.write("_")
		return
	}
	if t.name != "" {
		w.write(t.name)
		return
	}
	switch t.kind {
	case typeResource:
		w.write("resource")
	case typeValue:
		w.body(t.val)
	default:
		w.write(t.kindName())
	}
}

func (t *compType) kindName() string {
	switch t.kind {
	case typeFunc:
		return "func"
	case typeComponent:
		return "component"
	case typeInstance:
		return "instance"
	case typeResource:
		return "resource"
	}
	if t.val != nil {
		return t.val.kindName()
	}
	return "type"
}

func (v *valueType) kindName() string {
	switch v.code {
	case 0:
		if v.prim != "" {
			return "primitive"
		}
		return "alias"
	case defRecord:
		return "record"
	case defVariant:
		return "variant"
	case defList, defFixed:
		return "list"
	case defTuple:
		return "tuple"
	case defFlags:
		return "flags"
	case defEnum:
		return "enum"
	case defOption:
		return "option"
	case defResult:
		return "result"
	case defOwn:
		return "own"
	case defBorrow:
		return "borrow"
	case defStream:
		return "stream"
	case defFuture:
		return "future"
	}
	return "type"
}

func (w *typeWriter) opt(prefix string, ref *valRef) {
	if ref == nil {
		w.write(prefix)
		return
	}
	w.write(prefix + "<")
	w.ref(*ref)
	w.write(">")
}

// body renders the structure of v as it appears in a use position.
func (w *typeWriter) body(v *valueType) {
	if v == nil {
		w.write("_")
		return
	}
	switch v.code {
	case 0:
		if v.prim != "" {
			w.write(v.prim)
		} else if v.elem != nil {
			w.ref(*v.elem)
		} else {
			w.write("_")
		}
	case defList:
		w.write("list<")
		w.ref(*v.elem)
		w.write(">")
	case defFixed:
		w.write("list<")
		w.ref(*v.elem)
		w.write(fmt.Sprintf(", %d>", v.length))
	case defOption:
		w.write("option<")
		w.ref(*v.elem)
		w.write(">")
	case defTuple:
		w.write("tuple<")
		for i, e := range v.elems {
			if i > 0 {
				w.write(", ")
			}
			w.ref(e)
		}
		w.write(">")
	case defResult:
		switch {
		case v.ok == nil && v.err == nil:
			w.write("result")
		case v.err == nil:
			w.opt("result", v.ok)
		default:
			w.write("result<")
			if v.ok == nil {
				w.write("_")
			} else {
				w.ref(*v.ok)
			}
			w.write(", ")
			w.ref(*v.err)
			w.write(">")
		}
	case defOwn:
		w.write(handleName(v.handle))
	case defBorrow:
		w.write("borrow<" + handleName(v.handle) + ">")
	case defStream:
		w.opt("stream", v.elem)
	case defFuture:
		w.opt("future", v.elem)
	case defRecord, defVariant, defFlags, defEnum:
		w.write(v.kindName() + " ")
		w.members(v)
	default:
		w.write("_")
	}
}

// members renders the braced member list of a record, variant, flags or enum.
func (w *typeWriter) members(v *valueType) {
	w.write("{ ")
	switch v.code {
	case defRecord:
		for i, f := range v.fields {
			if i > 0 {
				w.write(", ")
			}
			w.write(f.name + ": ")
			w.ref(*f.t)
		}
	case defVariant:
		for i, c := range v.fields {
			if i > 0 {
				w.write(", ")
			}
			w.write(c.name)
			if c.t != nil {
				w.write("(")
				w.ref(*c.t)
				w.write(")")
			}
		}
	default:
		w.write(strings.Join(v.labels, ", "))
	}
	w.write(" }")
}

func handleName(t *compType) string {
	if t == nil || t.name == "" {
		return "resource"
	}
	return t.name
}

// typeDef renders a named type declaration.
func typeDef(name string, t *compType) types.TypeDef {
	if t == nil {
		return types.TypeDef{Name: name, Kind: "resource", Definition: "resource " + name}
	}
	w := &typeWriter{}
	kind := t.kindName()
	switch {
	case t.kind == typeResource:
		w.write("resource " + name)
	case t.kind == typeValue && t.val != nil:
		switch t.val.code {
		case defRecord, defVariant, defFlags, defEnum:
			w.write(kind + " " + name + " ")
			w.members(t.val)
		default:
			w.write("type " + name + " = ")
			w.body(t.val)
		}
	default:
		w.write(kind + " " + name)
	}
	return types.TypeDef{Name: name, Kind: kind, Definition: w.String()}
}

// signature converts a function type. An unknown type yields a bare name.
func signature(name string, fn *funcType) types.FunctionSignature {
	sig := types.FunctionSignature{Name: name, Params: []types.Param{}, Results: []types.Param{}}
	if fn == nil {
		return sig
	}
	for _, p := range fn.params {
		sig.Params = append(sig.Params, types.Param{Name: p.name, Type: typeString(*p.t)})
	}
	for _, r := range fn.results {
		n := r.name
		if n == "" {
			n = "result"
		}
		sig.Results = append(sig.Results, types.Param{Name: n, Type: typeString(*r.t)})
	}
	return sig
}

// FormatFunc renders a signature as WIT function syntax.
func FormatFunc(f types.FunctionSignature) string {
	var sb strings.Builder
	sb.WriteString("func(")
	for i, p := range f.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.Name + ": " + p.Type)
	}
	sb.WriteString(")")
	switch {
	case len(f.Results) == 1 && f.Results[0].Name == "result":
		sb.WriteString(" -> " + f.Results[0].Type)
	case len(f.Results) > 0:
		sb.WriteString(" -> (")
		for i, r := range f.Results {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(r.Name + ": " + r.Type)
		}
		sb.WriteString(")")
	}
	return sb.String()
}

// RenderWIT produces the interface-definition text for a graph. Output is a
// pure function of the descriptors, so equal graphs render identically.
func RenderWIT(kind BinaryKind, ifaces []types.InterfaceDescriptor) string {
	wit, _ := renderWIT(kind, ifaces, nil)
	return wit
}

// renderWIT is RenderWIT polling b, when set, once per descriptor entry.
func renderWIT(kind BinaryKind, ifaces []types.InterfaceDescriptor, b *budget) (string, error) {
	tick := func() error {
		if b == nil {
			return nil
		}
		return b.tick(-1)
	}

	var sb strings.Builder
	if kind == KindModule {
		sb.WriteString("module {\n")
	} else {
		sb.WriteString("world root {\n")
	}
	for _, d := range ifaces {
		if err := tick(); err != nil {
			return "", err
		}
		dir := string(d.Direction)
		if d.Name == rootInterface {
			for _, t := range d.Types {
				fmt.Fprintf(&sb, "  %s %s;\n", dir, t.Definition)
			}
			for _, f := range d.Functions {
				if err := tick(); err != nil {
					return "", err
				}
				fmt.Fprintf(&sb, "  %s %s: %s;\n", dir, f.Name, FormatFunc(f))
			}
			continue
		}
		full := d.Name
		if d.Version != "" {
			full += "@" + d.Version
		}
		if len(d.Types)+len(d.Functions) == 0 {
			fmt.Fprintf(&sb, "  %s %s;\n", dir, full)
			continue
		}
		fmt.Fprintf(&sb, "  %s %s: interface {\n", dir, full)
		for _, t := range d.Types {
			fmt.Fprintf(&sb, "    %s;\n", t.Definition)
		}
		for _, f := range d.Functions {
			if err := tick(); err != nil {
				return "", err
			}
			fmt.Fprintf(&sb, "    %s: %s;\n", f.Name, FormatFunc(f))
		}
		sb.WriteString("  }\n")
	}
	sb.WriteString("}\n")
	return sb.String(), nil
}
