package analyzer

import (
	"fmt"
	"strings"

	"github.com/conneroisu/wasmscope/internal/types"
)

// Core module section ids.
const (
	modCustom   = 0
	modType     = 1
	modImport   = 2
	modFunction = 3
	modExport   = 7
)

// componentTypePrefix names the custom sections in which toolchains embed
// the component-level world a core module was built against.
const componentTypePrefix = "component-type"

type coreFunc struct {
	params  []string
	results []string
}

type moduleResult struct {
	imports   []types.InterfaceDescriptor
	exports   types.InterfaceDescriptor
	modules   []string
	producers []Producer
	customs   []string
	worlds    []*componentResult
}

var coreValTypes = map[byte]string{
	0x7f: "i32",
	0x7e: "i64",
	0x7d: "f32",
	0x7c: "f64",
	0x7b: "v128",
	0x74: "nullexnref",
	0x73: "nullfuncref",
	0x72: "nullexternref",
	0x71: "nullref",
	0x70: "funcref",
	0x6f: "externref",
	0x6e: "anyref",
	0x6d: "eqref",
	0x6c: "i31ref",
	0x6b: "structref",
	0x6a: "arrayref",
	0x69: "exnref",
}

func (d *decoder) coreValType(r *reader) (string, error) {
	b, err := r.byte()
	if err != nil {
		return "", err
	}
	if name, ok := coreValTypes[b]; ok {
		return name, nil
	}
	if b == 0x63 || b == 0x64 {
		ht, err := r.s33()
		if err != nil {
			return "", err
		}
		prefix := "ref"
		if b == 0x63 {
			prefix = "ref null"
		}
		if ht >= 0 {
			return fmt.Sprintf("%s %d", prefix, ht), nil
		}
		return prefix, nil
	}
	return "", newError(KindMalformedSection, r.offset()-1, "invalid core value type 0x%02x", b)
}

func (d *decoder) coreValTypes(r *reader) ([]string, error) {
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		v, err := d.coreValType(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (d *decoder) coreFuncType(r *reader) (coreFunc, error) {
	params, err := d.coreValTypes(r)
	if err != nil {
		return coreFunc{}, err
	}
	results, err := d.coreValTypes(r)
	if err != nil {
		return coreFunc{}, err
	}
	return coreFunc{params: params, results: results}, nil
}

// coreType reads a core:type appearing inside component type declarations.
func (d *decoder) coreType(r *reader, depth int) error {
	if err := d.budget.enter(depth, r.offset()); err != nil {
		return err
	}
	form, err := r.byte()
	if err != nil {
		return err
	}
	switch form {
	case 0x60:
		_, err := d.coreFuncType(r)
		return err
	case 0x50:
		return d.vec(r, func() error {
			tag, err := r.byte()
			if err != nil {
				return err
			}
			switch tag {
			case 0x00:
				if _, err := r.name(); err != nil {
					return err
				}
				if _, err := r.name(); err != nil {
					return err
				}
				_, err := d.importDesc(r, nil)
				return err
			case 0x01:
				return d.coreType(r, depth+1)
			case 0x02:
				if _, err := r.byte(); err != nil {
					return err
				}
				if err := d.expect(r, 0x01); err != nil {
					return err
				}
				if _, err := r.u32(); err != nil {
					return err
				}
				_, err := r.u32()
				return err
			case 0x03:
				if _, err := r.name(); err != nil {
					return err
				}
				_, err := d.importDesc(r, nil)
				return err
			}
			return r.malformed("invalid module type declaration 0x%02x", tag)
		})
	}
	return newError(KindMalformedSection, r.offset()-1, "unsupported core type form 0x%02x", form)
}

// coreImport is what an importdesc describes. fn is set for functions and
// resolved only when a type table is available.
type coreImport struct {
	kind string
	fn   *coreFunc
	desc string
}

func (d *decoder) limits(r *reader) (string, error) {
	flags, err := r.byte()
	if err != nil {
		return "", err
	}
	if flags > 0x07 {
		return "", r.malformed("invalid limits flags 0x%02x", flags)
	}
	read := func() (uint64, error) {
		if flags&0x04 != 0 {
			return r.u64()
		}
		v, err := r.u32()
		return uint64(v), err
	}
	min, err := read()
	if err != nil {
		return "", err
	}
	out := fmt.Sprintf("%d", min)
	if flags&0x01 != 0 {
		max, err := read()
		if err != nil {
			return "", err
		}
		out += fmt.Sprintf("..%d", max)
	}
	if flags&0x02 != 0 {
		out += " shared"
	}
	return out, nil
}

func (d *decoder) importDesc(r *reader, funcTypes []coreFunc) (coreImport, error) {
	tag, err := r.byte()
	if err != nil {
		return coreImport{}, err
	}
	switch tag {
	case 0x00:
		idx, err := r.u32()
		if err != nil {
			return coreImport{}, err
		}
		if funcTypes == nil {
			return coreImport{kind: "func"}, nil
		}
		if int(idx) >= len(funcTypes) {
			return coreImport{}, newError(KindUnresolvedImport, r.offset(), "function type index %d out of range", idx)
		}
		fn := funcTypes[idx]
		return coreImport{kind: "func", fn: &fn}, nil
	case 0x01:
		ref, err := d.coreValType(r)
		if err != nil {
			return coreImport{}, err
		}
		lim, err := d.limits(r)
		if err != nil {
			return coreImport{}, err
		}
		return coreImport{kind: "table", desc: fmt.Sprintf("table %s %s", lim, ref)}, nil
	case 0x02:
		lim, err := d.limits(r)
		if err != nil {
			return coreImport{}, err
		}
		return coreImport{kind: "memory", desc: "memory " + lim}, nil
	case 0x03:
		vt, err := d.coreValType(r)
		if err != nil {
			return coreImport{}, err
		}
		mut, err := r.byte()
		if err != nil {
			return coreImport{}, err
		}
		switch mut {
		case 0x00:
			return coreImport{kind: "global", desc: "global " + vt}, nil
		case 0x01:
			return coreImport{kind: "global", desc: "global mut " + vt}, nil
		}
		return coreImport{}, r.malformed("invalid global mutability 0x%02x", mut)
	case 0x04:
		if err := d.expect(r, 0x00); err != nil {
			return coreImport{}, err
		}
		if _, err := r.u32(); err != nil {
			return coreImport{}, err
		}
		return coreImport{kind: "tag", desc: "tag"}, nil
	}
	return coreImport{}, r.malformed("invalid import descriptor 0x%02x", tag)
}

func coreSignature(name string, fn *coreFunc) types.FunctionSignature {
	sig := types.FunctionSignature{Name: name, Params: []types.Param{}, Results: []types.Param{}}
	if fn == nil {
		return sig
	}
	for i, p := range fn.params {
		sig.Params = append(sig.Params, types.Param{Name: fmt.Sprintf("arg%d", i), Type: p})
	}
	for i, res := range fn.results {
		n := "result"
		if len(fn.results) > 1 {
			n = fmt.Sprintf("result%d", i)
		}
		sig.Results = append(sig.Results, types.Param{Name: n, Type: res})
	}
	return sig
}

// module decodes a core module body following its header.
func (d *decoder) module(r *reader, depth int) (*moduleResult, error) {
	res := &moduleResult{
		exports: types.InterfaceDescriptor{
			Name:      rootInterface,
			Direction: types.DirectionExport,
			Functions: []types.FunctionSignature{},
			Types:     []types.TypeDef{},
		},
	}
	var (
		funcTypes []coreFunc
		funcs     []*coreFunc
		byModule  = map[string]int{}
	)

	for !r.done() {
		id, p, err := d.section(r)
		if err != nil {
			return nil, err
		}
		switch id {
		case modCustom:
			name, err := p.name()
			if err != nil {
				return nil, err
			}
			switch {
			case name == "producers":
				prods, err := d.producers(p)
				if err != nil {
					return nil, err
				}
				res.producers = append(res.producers, prods...)
			case strings.HasPrefix(name, componentTypePrefix):
				world, err := d.nestedComponent(p, nil, depth+1)
				if err != nil {
					return nil, err
				}
				res.worlds = append(res.worlds, world)
				res.customs = append(res.customs, name)
			default:
				res.customs = append(res.customs, name)
			}
			continue
		case modType:
			err = d.vec(p, func() error {
				form, err := p.byte()
				if err != nil {
					return err
				}
				if form != 0x60 {
					return newError(KindMalformedSection, p.offset()-1, "unsupported type form 0x%02x", form)
				}
				fn, err := d.coreFuncType(p)
				if err != nil {
					return err
				}
				funcTypes = append(funcTypes, fn)
				return nil
			})
		case modImport:
			if funcTypes == nil {
				funcTypes = []coreFunc{}
			}
			err = d.vec(p, func() error {
				module, err := p.name()
				if err != nil {
					return err
				}
				field, err := p.name()
				if err != nil {
					return err
				}
				imp, err := d.importDesc(p, funcTypes)
				if err != nil {
					return err
				}
				pos, ok := byModule[module]
				if !ok {
					pos = len(res.imports)
					byModule[module] = pos
					res.imports = append(res.imports, types.InterfaceDescriptor{
						Name:      module,
						Direction: types.DirectionImport,
						Functions: []types.FunctionSignature{},
						Types:     []types.TypeDef{},
					})
					res.modules = append(res.modules, module)
				}
				desc := &res.imports[pos]
				if imp.kind == "func" {
					funcs = append(funcs, imp.fn)
					desc.Functions = append(desc.Functions, coreSignature(field, imp.fn))
				} else {
					desc.Types = append(desc.Types, types.TypeDef{Name: field, Kind: imp.kind, Definition: imp.desc})
				}
				return nil
			})
		case modFunction:
			err = d.vec(p, func() error {
				idx, err := p.u32()
				if err != nil {
					return err
				}
				if int(idx) >= len(funcTypes) {
					return newError(KindUnresolvedImport, p.offset(), "function type index %d out of range", idx)
				}
				fn := funcTypes[idx]
				funcs = append(funcs, &fn)
				return nil
			})
		case modExport:
			err = d.vec(p, func() error {
				name, err := p.name()
				if err != nil {
					return err
				}
				kind, err := p.byte()
				if err != nil {
					return err
				}
				idx, err := p.u32()
				if err != nil {
					return err
				}
				switch kind {
				case 0x00:
					if int(idx) >= len(funcs) {
						return newError(KindUnresolvedImport, p.offset(), "exported function index %d out of range", idx)
					}
					res.exports.Functions = append(res.exports.Functions, coreSignature(name, funcs[idx]))
				case 0x01, 0x02, 0x03, 0x04:
					k := [...]string{"", "table", "memory", "global", "tag"}[kind]
					res.exports.Types = append(res.exports.Types, types.TypeDef{
						Name:       name,
						Kind:       k,
						Definition: fmt.Sprintf("%s %d", k, idx),
					})
				default:
					return p.malformed("invalid export kind 0x%02x", kind)
				}
				return nil
			})
		default:
			// Code, data, memory and the remaining sections carry no
			// interface information.
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := finish(p, id); err != nil {
			return nil, err
		}
	}
	return res, nil
}
