// Package registry holds the canonical variable schema. A variable is
// defined once (name + key) and bound to at most one decode rule
// per source kind. Bindings are compiled into per-source lookup tables that
// the source adapters use to translate raw frames.
//
// A Registry is populated once at startup and must not be mutated after
// tables have been handed to adapters.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"avbridge/internal/arinc429"
)

var (
	ErrDuplicateKey      = errors.New("duplicate variable key")
	ErrDuplicateName     = errors.New("duplicate variable name")
	ErrUnknownVariable   = errors.New("unknown variable")
	ErrLocatorConflict   = errors.New("locator bound to more than one variable")
	ErrInvalidDecodeSpec = arinc429.ErrInvalidDecodeSpec
)

type SourceKind int

const (
	Simulator SourceKind = iota + 1
	Bus
	GNSS
)

var sourceKinds = []SourceKind{Simulator, Bus, GNSS}

func (k SourceKind) String() string {
	switch k {
	case Simulator:
		return "simulator"
	case Bus:
		return "bus"
	case GNSS:
		return "gnss"
	default:
		return fmt.Sprintf("source(%d)", int(k))
	}
}

func (k SourceKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *SourceKind) UnmarshalText(b []byte) error {
	v, err := ParseSourceKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseSourceKind accepts the long names and the single-letter aliases
// x (X-Plane), a (AID bus gateway) and u (u-blox).
func ParseSourceKind(s string) (SourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "simulator", "xplane", "x":
		return Simulator, nil
	case "bus", "aid", "a":
		return Bus, nil
	case "gnss", "ublox", "u":
		return GNSS, nil
	default:
		return 0, fmt.Errorf("unknown source kind %q", s)
	}
}

// DecodeSpec is the binding of one variable to one source.
type DecodeSpec struct {
	Locator Locator
	Decoder Decoder
}

type Variable struct {
	Name string
	Key  int

	specs map[SourceKind]DecodeSpec
}

// Spec returns the decode spec bound for kind, if any.
func (v Variable) Spec(kind SourceKind) (DecodeSpec, bool) {
	s, ok := v.specs[kind]
	return s, ok
}

type Registry struct {
	vars  map[string]*Variable
	keys  map[int]string
	order []string
}

func New() *Registry {
	return &Registry{vars: map[string]*Variable{}, keys: map[int]string{}}
}

// Register adds a variable. Keys and names must be unique.
func (r *Registry) Register(name string, key int) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("variable name is required")
	}
	if key < 0 {
		return fmt.Errorf("variable %s: key %d must be >= 0", name, key)
	}
	if other, ok := r.keys[key]; ok {
		return fmt.Errorf("%w: %d already used by %s", ErrDuplicateKey, key, other)
	}
	if _, ok := r.vars[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	r.vars[name] = &Variable{Name: name, Key: key, specs: map[SourceKind]DecodeSpec{}}
	r.keys[key] = name
	r.order = append(r.order, name)
	return nil
}

// Bind attaches (or replaces) the decode spec for the locator's source.
func (r *Registry) Bind(name string, loc Locator, dec Decoder) error {
	v, ok := r.vars[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVariable, name)
	}
	if loc == nil {
		return fmt.Errorf("%w: %s: locator is nil", ErrInvalidDecodeSpec, name)
	}
	if err := dec.validateFor(loc); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	v.specs[loc.Source()] = DecodeSpec{Locator: loc, Decoder: dec}
	return nil
}

// Variables returns the registered variables in registration order.
func (r *Registry) Variables() []Variable {
	out := make([]Variable, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.vars[name])
	}
	return out
}

// Lookup returns the variable registered under name.
func (r *Registry) Lookup(name string) (Variable, bool) {
	v, ok := r.vars[name]
	if !ok {
		return Variable{}, false
	}
	return *v, true
}

// Compile groups every spec bound to kind by locator group. It does not
// modify the registry and may be called repeatedly.
func (r *Registry) Compile(kind SourceKind) (*Table, error) {
	t := &Table{Source: kind, groups: map[Group][]Field{}}
	seen := map[Group]map[int]string{}
	derived := map[int]string{}

	for _, name := range r.order {
		v := r.vars[name]
		spec, ok := v.specs[kind]
		if !ok {
			continue
		}
		f := Field{Pos: spec.Locator.position(), Key: v.Key, Name: v.Name, Decoder: spec.Decoder}

		if _, ok := spec.Locator.(Derived); ok {
			if other, dup := derived[f.Pos]; dup {
				return nil, fmt.Errorf("%w: derived position %d used by %s and %s", ErrLocatorConflict, f.Pos, other, name)
			}
			derived[f.Pos] = name
			t.Derived = append(t.Derived, f)
			continue
		}

		g := spec.Locator.group()
		if seen[g] == nil {
			seen[g] = map[int]string{}
		}
		if other, dup := seen[g][f.Pos]; dup {
			return nil, fmt.Errorf("%w: %s position %d used by %s and %s", ErrLocatorConflict, g, f.Pos, other, name)
		}
		seen[g][f.Pos] = name
		t.groups[g] = append(t.groups[g], f)
	}

	sortFields(t.Derived)
	for g := range t.groups {
		sortFields(t.groups[g])
	}
	return t, nil
}

func sortFields(fs []Field) {
	sort.Slice(fs, func(i, j int) bool { return fs[i].Pos < fs[j].Pos })
}
