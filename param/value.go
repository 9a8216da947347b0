// Package param implements the device parameter registry: typed,
// bounds-checked values addressed by a numeric external ID, loaded from a
// plist device description and optionally persisted to an on-disk NVM store.
// The capture engine samples parameters through lock-free atomic reads, so
// the live value of every parameter is stored as raw bits next to its type
// tag rather than behind a mutex.
package param

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Type enumerates the supported numeric parameter types.
type Type uint8

const (
	U8 Type = iota
	I8
	U16
	I16
	U32
	I32
	F32
)

var typeNames = map[Type]string{
	U8: "u8", I8: "i8", U16: "u16", I16: "i16", U32: "u32", I32: "i32", F32: "f32",
}

// ParseType maps a device-description type token to a Type.
func ParseType(token string) (Type, bool) {
	for t, name := range typeNames {
		if strings.EqualFold(token, name) {
			return t, true
		}
	}
	return U8, false
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Signed reports whether the type carries a sign.
func (t Type) Signed() bool {
	switch t {
	case I8, I16, I32, F32:
		return true
	}
	return false
}

var (
	// ErrBadValue is returned when a token cannot be parsed as the target type.
	ErrBadValue = errors.New("param: value does not parse as parameter type")
	// ErrOutOfRange is returned when a parsed value violates min/max bounds.
	ErrOutOfRange = errors.New("param: value out of range")
)

// Value is a tagged numeric value: one of the supported integer widths or
// float32, stored as raw bits next to its type tag. It replaces the raw-union
// word of the original firmware so every conversion happens explicitly at the
// boundary instead of by reinterpreting bytes.
type Value struct {
	typ  Type
	bits uint64
}

// MakeValue builds a Value of type t from a float64, rejecting values that
// are not representable (fractional part on integer types, magnitude outside
// the type's range).
func MakeValue(t Type, f float64) (Value, error) {
	if t == F32 {
		if math.IsNaN(f) || math.Abs(f) > math.MaxFloat32 {
			return Value{}, ErrBadValue
		}
		return Value{typ: F32, bits: uint64(math.Float32bits(float32(f)))}, nil
	}
	if f != math.Trunc(f) {
		return Value{}, ErrBadValue
	}
	lo, hi := intRange(t)
	if f < float64(lo) || f > float64(hi) {
		return Value{}, ErrOutOfRange
	}
	return Value{typ: t, bits: uint64(int64(f)) & maskFor(t)}, nil
}

// ParseValue parses a protocol token (ASCII decimal/float) into a Value of
// type t, enforcing the type's native range.
func ParseValue(t Type, token string) (Value, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Value{}, ErrBadValue
	}
	if t == F32 {
		f, err := strconv.ParseFloat(token, 32)
		if err != nil {
			return Value{}, ErrBadValue
		}
		return Value{typ: F32, bits: uint64(math.Float32bits(float32(f)))}, nil
	}
	if t.Signed() {
		n, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return Value{}, ErrBadValue
		}
		lo, hi := intRange(t)
		if n < lo || n > hi {
			return Value{}, ErrOutOfRange
		}
		return Value{typ: t, bits: uint64(n) & maskFor(t)}, nil
	}
	n, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return Value{}, ErrBadValue
	}
	_, hi := intRange(t)
	if n > uint64(hi) {
		return Value{}, ErrOutOfRange
	}
	return Value{typ: t, bits: n}, nil
}

// valueFromBits rebuilds a Value from its stored representation. Used by the
// registry's atomic live-value cell and by the NVM decoder.
func valueFromBits(t Type, bits uint64) Value {
	return Value{typ: t, bits: bits & maskOrFloat(t)}
}

// Type returns the tag.
func (v Value) Type() Type {
	return v.typ
}

// rawBits exposes the stored representation for the atomic cell and NVM.
func (v Value) rawBits() uint64 {
	return v.bits
}

// Float widens the value to float32. Every integer width up to 24 bits is
// exact; u32/i32 values beyond 2^24 round, which matches the sampling
// contract of the capture engine.
func (v Value) Float() float32 {
	return float32(v.wide())
}

// wide converts to float64 for ordering; lossless for every supported type.
func (v Value) wide() float64 {
	switch v.typ {
	case U8, U16, U32:
		return float64(v.bits)
	case I8:
		return float64(int8(v.bits))
	case I16:
		return float64(int16(v.bits))
	case I32:
		return float64(int32(v.bits))
	case F32:
		return float64(math.Float32frombits(uint32(v.bits)))
	}
	return 0
}

// Less orders values of the same type for bounds checks.
func (v Value) Less(other Value) bool {
	return v.wide() < other.wide()
}

// String renders the value in the protocol's ASCII form: integers as
// decimal, floats with %g.
func (v Value) String() string {
	switch v.typ {
	case U8, U16, U32:
		return strconv.FormatUint(v.bits, 10)
	case I8:
		return strconv.FormatInt(int64(int8(v.bits)), 10)
	case I16:
		return strconv.FormatInt(int64(int16(v.bits)), 10)
	case I32:
		return strconv.FormatInt(int64(int32(v.bits)), 10)
	case F32:
		return fmt.Sprintf("%g", math.Float32frombits(uint32(v.bits)))
	}
	return "?"
}

func intRange(t Type) (lo, hi int64) {
	switch t {
	case U8:
		return 0, math.MaxUint8
	case I8:
		return math.MinInt8, math.MaxInt8
	case U16:
		return 0, math.MaxUint16
	case I16:
		return math.MinInt16, math.MaxInt16
	case U32:
		return 0, math.MaxUint32
	case I32:
		return math.MinInt32, math.MaxInt32
	}
	return 0, 0
}

func maskFor(t Type) uint64 {
	switch t {
	case U8, I8:
		return 0xff
	case U16, I16:
		return 0xffff
	}
	return 0xffffffff
}

func maskOrFloat(t Type) uint64 {
	if t == F32 {
		return 0xffffffff
	}
	return maskFor(t)
}
