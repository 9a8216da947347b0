package param

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
)

var (
	// ErrUnknownParam is returned when an external ID does not resolve.
	ErrUnknownParam = errors.New("param: unknown parameter ID")
	// ErrReadOnly is returned when a set targets a read-only parameter.
	ErrReadOnly = errors.New("param: parameter is read only")
)

// Access controls command-side mutability of a parameter.
type Access uint8

const (
	ReadWrite Access = iota
	ReadOnly
)

// Definition describes one parameter as declared in the device description.
type Definition struct {
	ID      uint16
	Name    string
	Unit    string
	Type    Type
	Def     Value
	Min     Value
	Max     Value
	Access  Access
	Persist bool
}

// Param is one registered parameter. The live value is kept as raw bits in an
// atomic cell so the capture tick path can sample it without taking a lock or
// allocating; type, bounds and metadata are immutable after registration.
type Param struct {
	def  Definition
	bits atomic.Uint64
}

// ID returns the external protocol ID.
func (p *Param) ID() uint16 { return p.def.ID }

// Name returns the parameter name from the device description.
func (p *Param) Name() string { return p.def.Name }

// Unit returns the display unit (possibly empty).
func (p *Param) Unit() string { return p.def.Unit }

// Type returns the numeric type tag.
func (p *Param) Type() Type { return p.def.Type }

// Access reports command-side mutability.
func (p *Param) Access() Access { return p.def.Access }

// Persist reports whether par_save writes this parameter to NVM.
func (p *Param) Persist() bool { return p.def.Persist }

// Default returns the declared default value.
func (p *Param) Default() Value { return p.def.Def }

// Min returns the declared lower bound.
func (p *Param) Min() Value { return p.def.Min }

// Max returns the declared upper bound.
func (p *Param) Max() Value { return p.def.Max }

// Get returns the current value as a tagged Value.
func (p *Param) Get() Value {
	return valueFromBits(p.def.Type, p.bits.Load())
}

// Float samples the current value widened to float32. Lock-free and
// allocation-free; this is the capture engine's per-tick read path.
func (p *Param) Float() float32 {
	return valueFromBits(p.def.Type, p.bits.Load()).Float()
}

// store publishes a new value. Callers must have validated type and bounds.
func (p *Param) store(v Value) {
	p.bits.Store(v.rawBits())
}

// Registry is the set of device parameters keyed by external ID. The set is
// fixed at construction; only the per-parameter atomic values change
// afterwards, so lookups need no synchronization.
type Registry struct {
	params []*Param
	byID   map[uint16]*Param
}

// NewRegistry builds a registry from definitions, validating each definition
// (min <= def <= max, matching types, unique IDs) and initializing every live
// value to its default.
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{byID: make(map[uint16]*Param, len(defs))}
	for _, d := range defs {
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("param: duplicate parameter ID %d", d.ID)
		}
		if d.Name == "" {
			return nil, fmt.Errorf("param: parameter %d has no name", d.ID)
		}
		if d.Def.Type() != d.Type || d.Min.Type() != d.Type || d.Max.Type() != d.Type {
			return nil, fmt.Errorf("param: parameter %d (%s): def/min/max type mismatch", d.ID, d.Name)
		}
		if d.Max.Less(d.Min) {
			return nil, fmt.Errorf("param: parameter %d (%s): min > max", d.ID, d.Name)
		}
		if d.Def.Less(d.Min) || d.Max.Less(d.Def) {
			return nil, fmt.Errorf("param: parameter %d (%s): default outside [min,max]", d.ID, d.Name)
		}
		p := &Param{def: d}
		p.store(d.Def)
		r.params = append(r.params, p)
		r.byID[d.ID] = p
	}
	sort.Slice(r.params, func(i, j int) bool { return r.params[i].ID() < r.params[j].ID() })
	return r, nil
}

// Resolve maps an external ID to its parameter.
func (r *Registry) Resolve(id uint16) (*Param, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// Get returns the current value of a parameter by external ID.
func (r *Registry) Get(id uint16) (Value, error) {
	p, ok := r.byID[id]
	if !ok {
		return Value{}, ErrUnknownParam
	}
	return p.Get(), nil
}

// Set parses token as the parameter's type, checks access and bounds, and
// publishes the new value. The stored value is returned for echo replies.
func (r *Registry) Set(id uint16, token string) (Value, error) {
	p, ok := r.byID[id]
	if !ok {
		return Value{}, ErrUnknownParam
	}
	if p.def.Access == ReadOnly {
		return Value{}, ErrReadOnly
	}
	v, err := ParseValue(p.def.Type, token)
	if err != nil {
		return Value{}, err
	}
	if v.Less(p.def.Min) || p.def.Max.Less(v) {
		return Value{}, ErrOutOfRange
	}
	p.store(v)
	return v, nil
}

// SetDefault restores a single parameter to its declared default.
func (r *Registry) SetDefault(id uint16) error {
	p, ok := r.byID[id]
	if !ok {
		return ErrUnknownParam
	}
	p.store(p.def.Def)
	return nil
}

// SetDefaultAll restores every parameter to its declared default.
func (r *Registry) SetDefaultAll() {
	for _, p := range r.params {
		p.store(p.def.Def)
	}
}

// List returns all parameters ordered by external ID. The slice is shared;
// callers must not modify it.
func (r *Registry) List() []*Param {
	return r.params
}

// Len returns the number of registered parameters.
func (r *Registry) Len() int {
	return len(r.params)
}
