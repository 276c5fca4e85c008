package registry

import "sort"

// Field is one compiled binding: which variable a position resolves to and
// how to decode it.
type Field struct {
	Pos     int
	Key     int
	Name    string
	Decoder Decoder
}

// Table is the per-source lookup table produced by Registry.Compile. Within
// a group, field positions are unique and fields are ordered by position.
type Table struct {
	Source SourceKind

	// Derived holds simulator variables evaluated against the whole frame,
	// before any per-field lookup.
	Derived []Field

	groups map[Group][]Field
}

// Lookup returns the fields bound in group g.
func (t *Table) Lookup(g Group) []Field {
	if t == nil {
		return nil
	}
	return t.groups[g]
}

// Field returns the binding at position pos of group g.
func (t *Table) Field(g Group, pos int) (Field, bool) {
	fs := t.Lookup(g)
	i := sort.Search(len(fs), func(i int) bool { return fs[i].Pos >= pos })
	if i < len(fs) && fs[i].Pos == pos {
		return fs[i], true
	}
	return Field{}, false
}

// Groups returns the bound groups in a stable order.
func (t *Table) Groups() []Group {
	if t == nil {
		return nil
	}
	out := make([]Group, 0, len(t.groups))
	for g := range t.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sentence != out[j].Sentence {
			return out[i].Sentence < out[j].Sentence
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len is the number of bound variables, derived ones included.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	n := len(t.Derived)
	for _, fs := range t.groups {
		n += len(fs)
	}
	return n
}
