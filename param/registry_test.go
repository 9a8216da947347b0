package param

import (
	"errors"
	"testing"
)

func mustValue(t *testing.T, typ Type, f float64) Value {
	t.Helper()
	v, err := MakeValue(typ, f)
	if err != nil {
		t.Fatalf("MakeValue(%v, %v): %v", typ, f, err)
	}
	return v
}

func testDefs(t *testing.T) []Definition {
	t.Helper()
	return []Definition{
		{ID: 10, Name: "motor_current", Unit: "A", Type: F32,
			Def: mustValue(t, F32, 0), Min: mustValue(t, F32, -50), Max: mustValue(t, F32, 50), Persist: true},
		{ID: 2, Name: "board_temp", Unit: "degC", Type: I16,
			Def: mustValue(t, I16, 25), Min: mustValue(t, I16, -40), Max: mustValue(t, I16, 125)},
		{ID: 7, Name: "fw_build", Type: U32,
			Def: mustValue(t, U32, 1042), Min: mustValue(t, U32, 0), Max: mustValue(t, U32, 4294967295),
			Access: ReadOnly},
	}
}

func TestNewRegistryValidation(t *testing.T) {
	base := testDefs(t)

	dup := append(append([]Definition(nil), base...), Definition{
		ID: 2, Name: "again", Type: U8,
		Def: mustValue(t, U8, 0), Min: mustValue(t, U8, 0), Max: mustValue(t, U8, 1),
	})
	if _, err := NewRegistry(dup); err == nil {
		t.Fatal("duplicate ID accepted")
	}

	mismatch := []Definition{{
		ID: 1, Name: "x", Type: I16,
		Def: mustValue(t, U16, 1), Min: mustValue(t, I16, 0), Max: mustValue(t, I16, 10),
	}}
	if _, err := NewRegistry(mismatch); err == nil {
		t.Fatal("type mismatch accepted")
	}

	inverted := []Definition{{
		ID: 1, Name: "x", Type: U8,
		Def: mustValue(t, U8, 5), Min: mustValue(t, U8, 9), Max: mustValue(t, U8, 1),
	}}
	if _, err := NewRegistry(inverted); err == nil {
		t.Fatal("min > max accepted")
	}

	outside := []Definition{{
		ID: 1, Name: "x", Type: U8,
		Def: mustValue(t, U8, 99), Min: mustValue(t, U8, 0), Max: mustValue(t, U8, 10),
	}}
	if _, err := NewRegistry(outside); err == nil {
		t.Fatal("default outside bounds accepted")
	}
}

func TestRegistryListSortedByID(t *testing.T) {
	reg, err := NewRegistry(testDefs(t))
	if err != nil {
		t.Fatal(err)
	}
	var prev uint16
	for i, p := range reg.List() {
		if i > 0 && p.ID() <= prev {
			t.Fatalf("list not sorted: %d after %d", p.ID(), prev)
		}
		prev = p.ID()
	}
	if reg.Len() != 3 {
		t.Fatalf("Len = %d", reg.Len())
	}
}

func TestSetGetAndGuards(t *testing.T) {
	reg, err := NewRegistry(testDefs(t))
	if err != nil {
		t.Fatal(err)
	}

	v, err := reg.Set(10, "13.5")
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "13.5" {
		t.Fatalf("echoed value = %q", v.String())
	}
	got, err := reg.Get(10)
	if err != nil || got.Float() != 13.5 {
		t.Fatalf("Get after Set: %v %v", got, err)
	}

	if _, err := reg.Set(99, "1"); !errors.Is(err, ErrUnknownParam) {
		t.Fatalf("unknown ID: %v", err)
	}
	if _, err := reg.Get(99); !errors.Is(err, ErrUnknownParam) {
		t.Fatalf("unknown ID get: %v", err)
	}
	if _, err := reg.Set(7, "1"); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("read-only: %v", err)
	}
	if _, err := reg.Set(2, "126"); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("above max: %v", err)
	}
	if _, err := reg.Set(2, "-41"); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("below min: %v", err)
	}
	if _, err := reg.Set(2, "warm"); !errors.Is(err, ErrBadValue) {
		t.Fatalf("garbage token: %v", err)
	}
	// Failed sets leave the value untouched.
	if got, _ := reg.Get(2); got.Float() != 25 {
		t.Fatalf("value changed by rejected set: %v", got)
	}
}

func TestSetDefault(t *testing.T) {
	reg, err := NewRegistry(testDefs(t))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Set(2, "100"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Set(10, "-7.5"); err != nil {
		t.Fatal(err)
	}

	if err := reg.SetDefault(2); err != nil {
		t.Fatal(err)
	}
	if got, _ := reg.Get(2); got.Float() != 25 {
		t.Fatalf("SetDefault: %v", got)
	}
	if got, _ := reg.Get(10); got.Float() != -7.5 {
		t.Fatal("SetDefault touched another parameter")
	}
	if err := reg.SetDefault(99); !errors.Is(err, ErrUnknownParam) {
		t.Fatalf("SetDefault unknown: %v", err)
	}

	reg.SetDefaultAll()
	if got, _ := reg.Get(10); got.Float() != 0 {
		t.Fatalf("SetDefaultAll: %v", got)
	}
}

func TestFloatSamplingPath(t *testing.T) {
	reg, err := NewRegistry(testDefs(t))
	if err != nil {
		t.Fatal(err)
	}
	p, ok := reg.Resolve(2)
	if !ok {
		t.Fatal("resolve failed")
	}
	if p.Float() != 25 {
		t.Fatalf("Float = %v", p.Float())
	}
	if _, err := reg.Set(2, "-40"); err != nil {
		t.Fatal(err)
	}
	if p.Float() != -40 {
		t.Fatalf("Float after set = %v", p.Float())
	}
}
