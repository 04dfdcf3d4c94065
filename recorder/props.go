package recorder

import (
	"reflect"
	"sort"
	"strings"
)

// property is a getter/setter pair (or a lone getter) discovered on a
// struct type. Discovery is conservative: a no-arg method only counts as
// a getter when a matching setter or a name-matching backing field
// exists, so helpers like Clone or String are never mistaken for state.
type property struct {
	name   string
	getter reflect.Method // on the pointer type
	setter reflect.Method // zero Method when read-only
	ptype  reflect.Type   // getter result type
	// the struct field backing the property, if one matches by name
	field    reflect.StructField
	hasField bool
	exported bool // backing field is exported
}

func (p *property) readOnly() bool { return p.setter.Name == "" }

// propertiesOf discovers the properties of a pointer-to-struct type,
// sorted by name for deterministic emission.
func propertiesOf(pt reflect.Type) []property {
	st := pt.Elem()

	type slot struct {
		getter reflect.Method
		setter reflect.Method
	}
	slots := make(map[string]*slot)

	for i := 0; i < pt.NumMethod(); i++ {
		m := pt.Method(i)
		mt := m.Type
		switch {
		case strings.HasPrefix(m.Name, "Set") && len(m.Name) > 3 &&
			mt.NumIn() == 2 && mt.NumOut() == 0:
			name := m.Name[3:]
			s := slots[name]
			if s == nil {
				s = &slot{}
				slots[name] = s
			}
			s.setter = m
		case mt.NumIn() == 1 && mt.NumOut() == 1:
			name := strings.TrimPrefix(m.Name, "Get")
			if name == "" {
				continue
			}
			s := slots[name]
			if s == nil {
				s = &slot{}
				slots[name] = s
			}
			s.getter = m
		}
	}

	var props []property
	for name, s := range slots {
		if s.getter.Name == "" {
			continue
		}
		p := property{
			name:   name,
			getter: s.getter,
			setter: s.setter,
			ptype:  s.getter.Type.Out(0),
		}
		if f, ok := backingField(st, name); ok {
			p.field = f
			p.hasField = true
			p.exported = f.IsExported()
		}
		// a lone getter with no backing field is just a derived method
		if p.readOnly() && !p.hasField {
			continue
		}
		props = append(props, p)
	}
	sort.Slice(props, func(i, j int) bool { return props[i].name < props[j].name })
	return props
}

// backingField finds the struct field a property name refers to,
// matching case-insensitively so getter Name pairs with field name.
func backingField(st reflect.Type, name string) (reflect.StructField, bool) {
	if f, ok := st.FieldByName(name); ok {
		return f, true
	}
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

// ignoredField reports whether a field opted out of recording via its
// tag.
func ignoredField(f reflect.StructField) bool {
	return f.Tag.Get("record") == "-"
}

// exportedFields returns the recordable exported fields of a struct
// type, sorted by name.
func exportedFields(st reflect.Type) []reflect.StructField {
	var out []reflect.StructField
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.IsExported() || ignoredField(f) || f.Anonymous {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
