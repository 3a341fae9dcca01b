package analyzer

// valType reads a valtype: a primitive code or a type index.
func (d *decoder) valType(r *reader, s *scope) (valRef, error) {
	b, err := r.peek()
	if err != nil {
		return valRef{}, err
	}
	if prim, ok := primitives[b]; ok {
		r.pos++
		return valRef{prim: prim}, nil
	}
	if b >= 0x40 && b < 0x80 {
		return valRef{}, r.malformed("invalid value type 0x%02x", b)
	}
	idx, err := r.u32()
	if err != nil {
		return valRef{}, err
	}
	t, err := s.typeAt(r, idx)
	if err != nil {
		return valRef{}, err
	}
	if t.kind != typeValue && t.kind != typeResource {
		return valRef{}, r.malformed("type index %d is not a value type", idx)
	}
	return valRef{t: t}, nil
}

func (d *decoder) optValType(r *reader, s *scope) (*valRef, error) {
	present, err := r.byte()
	if err != nil {
		return nil, err
	}
	switch present {
	case 0x00:
		return nil, nil
	case 0x01:
		v, err := d.valType(r, s)
		if err != nil {
			return nil, err
		}
		return &v, nil
	}
	return nil, r.malformed("invalid optional marker 0x%02x", present)
}

func (d *decoder) labelled(r *reader, s *scope) ([]namedVal, error) {
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	out := make([]namedVal, 0, n)
	for i := 0; i < n; i++ {
		name, err := r.name()
		if err != nil {
			return nil, err
		}
		v, err := d.valType(r, s)
		if err != nil {
			return nil, err
		}
		out = append(out, namedVal{name: name, t: &v})
	}
	return out, nil
}

func (d *decoder) labels(r *reader) ([]string, error) {
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		l, err := r.name()
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// defType reads one entry of a type section or a type declaration.
func (d *decoder) defType(r *reader, s *scope, depth int) (*compType, error) {
	if err := r.tick(); err != nil {
		return nil, err
	}
	b, err := r.peek()
	if err != nil {
		return nil, err
	}
	switch b {
	case 0x40, 0x43:
		r.pos++
		fn, err := d.funcType(r, s)
		if err != nil {
			return nil, err
		}
		fn.async = b == 0x43
		return &compType{kind: typeFunc, fn: fn}, nil
	case 0x41:
		r.pos++
		ct, err := d.componentType(r, s, depth+1)
		if err != nil {
			return nil, err
		}
		return &compType{kind: typeComponent, comp: ct}, nil
	case 0x42:
		r.pos++
		it, err := d.instanceType(r, s, depth+1)
		if err != nil {
			return nil, err
		}
		return &compType{kind: typeInstance, inst: it}, nil
	case 0x3f, 0x3e:
		r.pos++
		if err := d.resourceType(r, b == 0x3e); err != nil {
			return nil, err
		}
		return &compType{kind: typeResource}, nil
	}
	v, err := d.defValType(r, s)
	if err != nil {
		return nil, err
	}
	return &compType{kind: typeValue, val: v}, nil
}

func (d *decoder) resourceType(r *reader, async bool) error {
	rep, err := r.byte()
	if err != nil {
		return err
	}
	if rep != 0x7f {
		return r.malformed("resource representation must be i32")
	}
	if async {
		if _, err := r.u32(); err != nil {
			return err
		}
	}
	present, err := r.byte()
	if err != nil {
		return err
	}
	switch present {
	case 0x00:
		return nil
	case 0x01:
		_, err := r.u32()
		return err
	}
	return r.malformed("invalid resource destructor marker 0x%02x", present)
}

func (d *decoder) defValType(r *reader, s *scope) (*valueType, error) {
	b, err := r.byte()
	if err != nil {
		return nil, err
	}
	if prim, ok := primitives[b]; ok {
		return &valueType{prim: prim}, nil
	}

	v := &valueType{code: b}
	switch b {
	case defRecord:
		v.fields, err = d.labelled(r, s)
	case defVariant:
		v.fields, err = d.cases(r, s)
	case defList, defOption:
		var e valRef
		e, err = d.valType(r, s)
		v.elem = &e
	case defFixed:
		var e valRef
		if e, err = d.valType(r, s); err == nil {
			v.elem = &e
			v.length, err = r.u32()
		}
	case defTuple:
		v.elems, err = d.valTypes(r, s)
	case defFlags, defEnum:
		v.labels, err = d.labels(r)
	case defResult:
		if v.ok, err = d.optValType(r, s); err == nil {
			v.err, err = d.optValType(r, s)
		}
	case defOwn, defBorrow:
		var idx uint32
		if idx, err = r.u32(); err == nil {
			v.handle, err = s.typeAt(r, idx)
			if err == nil && v.handle.kind != typeResource {
				err = r.malformed("handle to non-resource type %d", idx)
			}
		}
	case defStream, defFuture:
		v.elem, err = d.optValType(r, s)
	default:
		return nil, newError(KindMalformedSection, r.offset()-1, "unknown type form 0x%02x", b)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (d *decoder) valTypes(r *reader, s *scope) ([]valRef, error) {
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	out := make([]valRef, 0, n)
	for i := 0; i < n; i++ {
		v, err := d.valType(r, s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (d *decoder) cases(r *reader, s *scope) ([]namedVal, error) {
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	out := make([]namedVal, 0, n)
	for i := 0; i < n; i++ {
		name, err := r.name()
		if err != nil {
			return nil, err
		}
		payload, err := d.optValType(r, s)
		if err != nil {
			return nil, err
		}
		refines, err := r.byte()
		if err != nil {
			return nil, err
		}
		switch refines {
		case 0x00:
		case 0x01:
			if _, err := r.u32(); err != nil {
				return nil, err
			}
		default:
			return nil, r.malformed("invalid variant case terminator 0x%02x", refines)
		}
		out = append(out, namedVal{name: name, t: payload})
	}
	return out, nil
}

func (d *decoder) funcType(r *reader, s *scope) (*funcType, error) {
	params, err := d.labelled(r, s)
	if err != nil {
		return nil, err
	}
	fn := &funcType{params: params}

	form, err := r.byte()
	if err != nil {
		return nil, err
	}
	switch form {
	case 0x00:
		v, err := d.valType(r, s)
		if err != nil {
			return nil, err
		}
		fn.results = []namedVal{{t: &v}}
	case 0x01:
		if fn.results, err = d.labelled(r, s); err != nil {
			return nil, err
		}
	default:
		return nil, r.malformed("invalid result list form 0x%02x", form)
	}
	return fn, nil
}

func (d *decoder) instanceType(r *reader, parent *scope, depth int) (*instanceType, error) {
	if err := d.budget.enter(depth, r.offset()); err != nil {
		return nil, err
	}
	local := newScope(parent)
	it := &instanceType{}

	n, err := r.count()
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		tag, err := r.byte()
		if err != nil {
			return nil, err
		}
		if tag == 0x04 {
			e, err := d.exportDecl(r, local)
			if err != nil {
				return nil, err
			}
			it.exports = append(it.exports, e)
			continue
		}
		if err := d.sharedDecl(r, local, tag, depth); err != nil {
			return nil, err
		}
	}
	return it, nil
}

func (d *decoder) componentType(r *reader, parent *scope, depth int) (*componentType, error) {
	if err := d.budget.enter(depth, r.offset()); err != nil {
		return nil, err
	}
	local := newScope(parent)
	ct := &componentType{}

	n, err := r.count()
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		tag, err := r.byte()
		if err != nil {
			return nil, err
		}
		switch tag {
		case 0x03:
			e, err := d.importDecl(r, local)
			if err != nil {
				return nil, err
			}
			ct.imports = append(ct.imports, e)
		case 0x04:
			e, err := d.exportDecl(r, local)
			if err != nil {
				return nil, err
			}
			ct.exports = append(ct.exports, e)
		default:
			if err := d.sharedDecl(r, local, tag, depth); err != nil {
				return nil, err
			}
		}
	}
	return ct, nil
}

// sharedDecl handles the declarations common to instance and component
// type bodies: core types, types and aliases.
func (d *decoder) sharedDecl(r *reader, s *scope, tag byte, depth int) error {
	switch tag {
	case 0x00:
		return d.coreType(r, depth+1)
	case 0x01:
		t, err := d.defType(r, s, depth)
		if err != nil {
			return err
		}
		s.types = append(s.types, t)
		return nil
	case 0x02:
		return d.alias(r, s)
	}
	return newError(KindMalformedSection, r.offset()-1, "unknown declaration tag 0x%02x", tag)
}

func (d *decoder) importDecl(r *reader, s *scope) (extern, error) {
	name, err := d.externName(r)
	if err != nil {
		return extern{}, err
	}
	kind, t, err := d.externDesc(r, s)
	if err != nil {
		return extern{}, err
	}
	if kind == externType {
		t = t.named(name)
	}
	s.push(kind, t)
	return extern{name: name, kind: kind, t: t}, nil
}

func (d *decoder) exportDecl(r *reader, s *scope) (extern, error) {
	return d.importDecl(r, s)
}

// externName reads importname' / exportname'.
func (d *decoder) externName(r *reader) (string, error) {
	form, err := r.byte()
	if err != nil {
		return "", err
	}
	switch form {
	case 0x00:
		return r.name()
	case 0x01:
		name, err := r.name()
		if err != nil {
			return "", err
		}
		suffix, err := r.name()
		if err != nil {
			return "", err
		}
		if suffix != "" && !containsByte(name, '@') {
			if suffix[0] == '@' {
				suffix = suffix[1:]
			}
			name += "@" + suffix
		}
		return name, nil
	}
	return "", r.malformed("invalid extern name form 0x%02x", form)
}

func containsByte(s string, c byte) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return true
		}
	}
	return false
}

// externDesc reads an externdesc and resolves the type it refers to.
func (d *decoder) externDesc(r *reader, s *scope) (externKind, *compType, error) {
	tag, err := r.byte()
	if err != nil {
		return 0, nil, err
	}
	switch tag {
	case 0x00:
		sub, err := r.byte()
		if err != nil {
			return 0, nil, err
		}
		if sub != 0x11 {
			return 0, nil, r.malformed("invalid core extern sort 0x%02x", sub)
		}
		_, err = r.u32()
		return externModule, nil, err
	case 0x01:
		t, err := d.typeIndexOf(r, s, typeFunc)
		return externFunc, t, err
	case 0x02:
		bound, err := r.byte()
		if err != nil {
			return 0, nil, err
		}
		switch bound {
		case 0x00:
			_, err = r.u32()
			return externValue, &compType{kind: typeValue, val: &valueType{}}, err
		case 0x01:
			v, err := d.valType(r, s)
			if err != nil {
				return 0, nil, err
			}
			return externValue, &compType{kind: typeValue, val: &valueType{elem: &v}}, nil
		}
		return 0, nil, r.malformed("invalid value bound 0x%02x", bound)
	case 0x03:
		bound, err := r.byte()
		if err != nil {
			return 0, nil, err
		}
		switch bound {
		case 0x00:
			idx, err := r.u32()
			if err != nil {
				return 0, nil, err
			}
			t, err := s.typeAt(r, idx)
			if err != nil {
				return 0, nil, err
			}
			return externType, t, nil
		case 0x01:
			return externType, &compType{kind: typeResource}, nil
		}
		return 0, nil, r.malformed("invalid type bound 0x%02x", bound)
	case 0x04:
		t, err := d.typeIndexOf(r, s, typeComponent)
		return externComponent, t, err
	case 0x05:
		t, err := d.typeIndexOf(r, s, typeInstance)
		return externInstance, t, err
	}
	return 0, nil, r.malformed("invalid extern descriptor 0x%02x", tag)
}

func (d *decoder) typeIndexOf(r *reader, s *scope, want typeKind) (*compType, error) {
	idx, err := r.u32()
	if err != nil {
		return nil, err
	}
	t, err := s.typeAt(r, idx)
	if err != nil {
		return nil, err
	}
	if t.kind != want {
		return nil, newError(KindUnresolvedImport, r.offset(), "type index %d has the wrong kind", idx)
	}
	return t, nil
}

// sortKind reads a sort. core is true for core sorts; only core modules
// are tracked by kind, the rest report externModule with core set.
func (d *decoder) sortKind(r *reader) (kind externKind, core bool, err error) {
	b, err := r.byte()
	if err != nil {
		return 0, false, err
	}
	switch b {
	case 0x00:
		if _, err := r.byte(); err != nil {
			return 0, false, err
		}
		return externModule, true, nil
	case 0x01:
		return externFunc, false, nil
	case 0x02:
		return externValue, false, nil
	case 0x03:
		return externType, false, nil
	case 0x04:
		return externComponent, false, nil
	case 0x05:
		return externInstance, false, nil
	}
	return 0, false, r.malformed("invalid sort 0x%02x", b)
}

// alias reads one alias and extends the matching index space of s.
func (d *decoder) alias(r *reader, s *scope) error {
	kind, core, err := d.sortKind(r)
	if err != nil {
		return err
	}
	target, err := r.byte()
	if err != nil {
		return err
	}
	switch target {
	case 0x00:
		idx, err := r.u32()
		if err != nil {
			return err
		}
		name, err := r.name()
		if err != nil {
			return err
		}
		if core {
			return r.malformed("core sort aliased from component instance")
		}
		inst, err := s.instanceAt(r, idx)
		if err != nil {
			return err
		}
		var t *compType
		if inst != nil {
			e, ok := inst.lookup(name)
			if !ok {
				return newError(KindUnresolvedImport, r.offset(), "instance %d has no export %q", idx, name)
			}
			if e.kind != kind {
				return r.malformed("export %q is a %s, aliased as %s", name, e.kind, kind)
			}
			t = e.t
		}
		if kind == externType {
			t = t.named(name)
		}
		s.push(kind, t)
		return nil
	case 0x01:
		if _, err := r.u32(); err != nil {
			return err
		}
		if _, err := r.name(); err != nil {
			return err
		}
		if !core {
			return r.malformed("component sort aliased from core instance")
		}
		return nil
	case 0x02:
		count, err := r.u32()
		if err != nil {
			return err
		}
		idx, err := r.u32()
		if err != nil {
			return err
		}
		outer, err := s.outer(r, count)
		if err != nil {
			return err
		}
		switch {
		case core:
			return nil
		case kind == externType:
			t, err := outer.typeAt(r, idx)
			if err != nil {
				return err
			}
			s.types = append(s.types, t)
		case kind == externComponent:
			c, err := outer.componentAt(r, idx)
			if err != nil {
				return err
			}
			s.components = append(s.components, c)
		default:
			return r.malformed("outer alias of %s is not allowed", kind)
		}
		return nil
	}
	return r.malformed("invalid alias target 0x%02x", target)
}
