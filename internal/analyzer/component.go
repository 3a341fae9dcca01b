package analyzer

import "bytes"

var (
	wasmMagic        = []byte{0x00, 0x61, 0x73, 0x6d}
	moduleVersion    = []byte{0x01, 0x00, 0x00, 0x00}
	componentVersion = []byte{0x0d, 0x00, 0x01, 0x00}
)

const headerSize = 8

// Component section ids.
const (
	secCustom       = 0
	secCoreModule   = 1
	secCoreInstance = 2
	secCoreType     = 3
	secComponent    = 4
	secInstance     = 5
	secAlias        = 6
	secType         = 7
	secCanon        = 8
	secStart        = 9
	secImport       = 10
	secExport       = 11
	secValue        = 12
)

type decoder struct {
	budget *budget
}

// componentResult is everything one component body yields, before it is
// flattened into descriptors.
type componentResult struct {
	imports   []extern
	exports   []extern
	producers []Producer
	customs   []string
	nested    []*componentResult
}

// preamble validates the eight header bytes and reports the binary kind.
func preamble(r *reader) (BinaryKind, error) {
	head := r.data[r.pos:]
	if len(head) < len(wasmMagic) {
		if bytes.HasPrefix(wasmMagic, head) {
			return "", r.truncated("header")
		}
		return "", newError(KindInvalidMagic, r.offset(), "not a WebAssembly binary")
	}
	if !bytes.Equal(head[:4], wasmMagic) {
		return "", newError(KindInvalidMagic, r.offset(), "not a WebAssembly binary")
	}
	if len(head) < headerSize {
		return "", r.truncated("header")
	}
	version := head[4:8]
	r.pos += headerSize
	switch {
	case bytes.Equal(version, moduleVersion):
		return KindModule, nil
	case bytes.Equal(version, componentVersion):
		return KindComponent, nil
	}
	return "", newError(KindUnsupportedVersion, r.offset()-4, "unsupported version % x", version)
}

// section reads the next section header and returns its id and payload.
func (d *decoder) section(r *reader) (byte, *reader, error) {
	if err := r.tick(); err != nil {
		return 0, nil, err
	}
	id, err := r.byte()
	if err != nil {
		return 0, nil, err
	}
	size, err := r.u32()
	if err != nil {
		return 0, nil, err
	}
	if int(size) > r.remaining() {
		return 0, nil, newError(KindTruncatedSection, r.offset(), "section %d declares %d bytes, %d remain", id, size, r.remaining())
	}
	payload, err := r.sub(int(size))
	return id, payload, err
}

func finish(r *reader, id byte) error {
	if !r.done() {
		return r.malformed("section %d has %d trailing bytes", id, r.remaining())
	}
	return nil
}

// nestedComponent decodes a component embedded in a section, header included.
func (d *decoder) nestedComponent(r *reader, parent *scope, depth int) (*componentResult, error) {
	kind, err := preamble(r)
	if err != nil {
		return nil, err
	}
	if kind != KindComponent {
		return nil, r.malformed("embedded binary is not a component")
	}
	return d.componentBody(r, parent, depth)
}

func (d *decoder) componentBody(r *reader, parent *scope, depth int) (*componentResult, error) {
	if err := d.budget.enter(depth, r.offset()); err != nil {
		return nil, err
	}
	s := newScope(parent)
	res := &componentResult{}

	for !r.done() {
		id, p, err := d.section(r)
		if err != nil {
			return nil, err
		}
		switch id {
		case secCustom:
			name, err := p.name()
			if err != nil {
				return nil, err
			}
			if name == "producers" {
				prods, err := d.producers(p)
				if err != nil {
					return nil, err
				}
				res.producers = append(res.producers, prods...)
			} else {
				res.customs = append(res.customs, name)
			}
			continue
		case secCoreModule, secCoreInstance, secCoreType, secStart, secValue:
			continue
		case secComponent:
			nested, err := d.nestedComponent(p, s, depth+1)
			if err != nil {
				return nil, err
			}
			s.components = append(s.components, &componentType{imports: nested.imports, exports: nested.exports})
			res.nested = append(res.nested, nested)
			continue
		case secInstance:
			err = d.instances(p, s)
		case secAlias:
			err = d.vec(p, func() error { return d.alias(p, s) })
		case secType:
			err = d.vec(p, func() error {
				t, err := d.defType(p, s, depth)
				if err != nil {
					return err
				}
				s.types = append(s.types, t)
				return nil
			})
		case secCanon:
			err = d.canons(p, s)
		case secImport:
			err = d.vec(p, func() error {
				e, err := d.importDecl(p, s)
				if err != nil {
					return err
				}
				res.imports = append(res.imports, e)
				return nil
			})
		case secExport:
			err = d.vec(p, func() error {
				e, err := d.export(p, s)
				if err != nil {
					return err
				}
				res.exports = append(res.exports, e)
				return nil
			})
		default:
			return nil, newError(KindMalformedSection, p.base, "unknown component section id %d", id)
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

// vec runs fn once per element of a counted vector.
func (d *decoder) vec(r *reader, fn func() error) error {
	n, err := r.count()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := r.tick(); err != nil {
			return err
		}
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

// sortIndex reads a sort and index and resolves it against s.
func (d *decoder) sortIndex(r *reader, s *scope) (externKind, *compType, bool, error) {
	kind, core, err := d.sortKind(r)
	if err != nil {
		return 0, nil, false, err
	}
	idx, err := r.u32()
	if err != nil {
		return 0, nil, false, err
	}
	if core {
		return externModule, nil, true, nil
	}
	t, err := d.resolve(r, s, kind, idx)
	return kind, t, false, err
}

func (d *decoder) resolve(r *reader, s *scope, kind externKind, idx uint32) (*compType, error) {
	switch kind {
	case externFunc:
		return s.funcAt(r, idx)
	case externType:
		return s.typeAt(r, idx)
	case externInstance:
		inst, err := s.instanceAt(r, idx)
		if err != nil || inst == nil {
			return nil, err
		}
		return &compType{kind: typeInstance, inst: inst}, nil
	case externComponent:
		c, err := s.componentAt(r, idx)
		if err != nil || c == nil {
			return nil, err
		}
		return &compType{kind: typeComponent, comp: c}, nil
	}
	return nil, nil
}

func (d *decoder) export(r *reader, s *scope) (extern, error) {
	name, err := d.externName(r)
	if err != nil {
		return extern{}, err
	}
	kind, t, core, err := d.sortIndex(r, s)
	if err != nil {
		return extern{}, err
	}
	if core {
		kind = externModule
	}

	present, err := r.byte()
	if err != nil {
		return extern{}, err
	}
	switch present {
	case 0x00:
	case 0x01:
		ascribed, at, err := d.externDesc(r, s)
		if err != nil {
			return extern{}, err
		}
		if ascribed != kind {
			return extern{}, r.malformed("export %q ascribed as %s but exports a %s", name, ascribed, kind)
		}
		if at != nil && ascribed != externType {
			t = at
		}
	default:
		return extern{}, r.malformed("invalid export ascription marker 0x%02x", present)
	}

	if kind == externType {
		t = t.named(name)
	}
	s.push(kind, t)
	return extern{name: name, kind: kind, t: t}, nil
}

func (d *decoder) instances(r *reader, s *scope) error {
	return d.vec(r, func() error {
		form, err := r.byte()
		if err != nil {
			return err
		}
		switch form {
		case 0x00:
			idx, err := r.u32()
			if err != nil {
				return err
			}
			c, err := s.componentAt(r, idx)
			if err != nil {
				return err
			}
			if err := d.vec(r, func() error {
				if _, err := r.name(); err != nil {
					return err
				}
				_, _, _, err := d.sortIndex(r, s)
				return err
			}); err != nil {
				return err
			}
			if c == nil {
				s.instances = append(s.instances, nil)
			} else {
				s.instances = append(s.instances, &instanceType{exports: c.exports})
			}
			return nil
		case 0x01:
			inst := &instanceType{}
			if err := d.vec(r, func() error {
				name, err := d.externName(r)
				if err != nil {
					return err
				}
				kind, t, core, err := d.sortIndex(r, s)
				if err != nil {
					return err
				}
				if core {
					kind = externModule
				}
				if kind == externType {
					t = t.named(name)
				}
				inst.exports = append(inst.exports, extern{name: name, kind: kind, t: t})
				return nil
			}); err != nil {
				return err
			}
			s.instances = append(s.instances, inst)
			return nil
		}
		return r.malformed("invalid instance form 0x%02x", form)
	})
}

// canons tracks the function index space. Only canon lift defines a
// component-level function; every other form defines a core function.
// An unrecognised form stops tracking since its size is unknown.
func (d *decoder) canons(r *reader, s *scope) error {
	n, err := r.count()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := r.tick(); err != nil {
			return err
		}
		op, err := r.byte()
		if err != nil {
			return err
		}
		switch op {
		case 0x00:
			if err := d.expect(r, 0x00); err != nil {
				return err
			}
			if _, err := r.u32(); err != nil {
				return err
			}
			known, err := d.canonOpts(r)
			if err != nil {
				return err
			}
			if !known {
				return d.loseFuncs(r, s)
			}
			t, err := d.typeIndexOf(r, s, typeFunc)
			if err != nil {
				return err
			}
			s.funcs = append(s.funcs, t)
		case 0x01:
			if err := d.expect(r, 0x00); err != nil {
				return err
			}
			if _, err := r.u32(); err != nil {
				return err
			}
			known, err := d.canonOpts(r)
			if err != nil {
				return err
			}
			if !known {
				return d.loseFuncs(r, s)
			}
		case 0x02, 0x03, 0x04:
			if _, err := r.u32(); err != nil {
				return err
			}
		default:
			return d.loseFuncs(r, s)
		}
	}
	return nil
}

func (d *decoder) loseFuncs(r *reader, s *scope) error {
	if s.funcsKnown < 0 {
		s.funcsKnown = len(s.funcs)
	}
	r.pos = len(r.data)
	return nil
}

func (d *decoder) canonOpts(r *reader) (bool, error) {
	n, err := r.count()
	if err != nil {
		return false, err
	}
	for i := 0; i < n; i++ {
		opt, err := r.byte()
		if err != nil {
			return false, err
		}
		switch opt {
		case 0x00, 0x01, 0x02, 0x06:
		case 0x03, 0x04, 0x05, 0x07:
			if _, err := r.u32(); err != nil {
				return false, err
			}
		default:
			return false, nil
		}
	}
	return true, nil
}

func (d *decoder) expect(r *reader, want byte) error {
	b, err := r.byte()
	if err != nil {
		return err
	}
	if b != want {
		return newError(KindMalformedSection, r.offset()-1, "expected 0x%02x, found 0x%02x", want, b)
	}
	return nil
}

// producers decodes the standard producers custom section.
func (d *decoder) producers(r *reader) ([]Producer, error) {
	var out []Producer
	err := d.vec(r, func() error {
		field, err := r.name()
		if err != nil {
			return err
		}
		return d.vec(r, func() error {
			name, err := r.name()
			if err != nil {
				return err
			}
			version, err := r.name()
			if err != nil {
				return err
			}
			out = append(out, Producer{Field: field, Name: name, Version: version})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, finish(r, secCustom)
}
