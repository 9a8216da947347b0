package param

import (
	"fmt"
	"os"

	"howett.net/plist"
)

// DeviceDescription is the plist document shipped with a device build: its
// identity strings plus the full parameter table. The console loads it at
// startup and builds the registry from it.
type DeviceDescription struct {
	Device     string       `plist:"Device"`
	Project    string       `plist:"Project"`
	SWVersion  string       `plist:"SWVersion"`
	HWVersion  string       `plist:"HWVersion"`
	Parameters []paramEntry `plist:"Parameters"`
}

// paramEntry mirrors one <dict> of the Parameters array. Numeric fields use
// plistNumber because the document mixes <integer> and <real> values; the
// typed Value conversion happens in toDefinition.
type paramEntry struct {
	ID       uint64      `plist:"ID"`
	Name     string      `plist:"Name"`
	Unit     string      `plist:"Unit"`
	Type     string      `plist:"Type"`
	Default  plistNumber `plist:"Default"`
	Min      plistNumber `plist:"Min"`
	Max      plistNumber `plist:"Max"`
	ReadOnly bool        `plist:"ReadOnly"`
	Persist  bool        `plist:"Persist"`
}

// plistNumber accepts both <integer> and <real> plist values. The library
// decodes strictly by destination kind, so a plain float64 field rejects
// <integer> nodes; this union widens whichever arrives.
type plistNumber float64

func (n *plistNumber) UnmarshalPlist(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case uint64:
		*n = plistNumber(v)
	case int64:
		*n = plistNumber(v)
	case float64:
		*n = plistNumber(v)
	default:
		return fmt.Errorf("param: expected numeric plist value, got %T", raw)
	}
	return nil
}

// LoadDescription reads and decodes a device description plist.
func LoadDescription(path string) (*DeviceDescription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("param: read device description: %w", err)
	}
	return decodeDescription(data)
}

func decodeDescription(data []byte) (*DeviceDescription, error) {
	var desc DeviceDescription
	if _, err := plist.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("param: parse device description: %w", err)
	}
	if len(desc.Parameters) == 0 {
		return nil, fmt.Errorf("param: device description declares no parameters")
	}
	return &desc, nil
}

// Definitions converts the plist entries into validated registry definitions.
func (d *DeviceDescription) Definitions() ([]Definition, error) {
	defs := make([]Definition, 0, len(d.Parameters))
	for _, e := range d.Parameters {
		def, err := e.toDefinition()
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (e paramEntry) toDefinition() (Definition, error) {
	if e.ID > 0xffff {
		return Definition{}, fmt.Errorf("param: %q: ID %d exceeds 16 bits", e.Name, e.ID)
	}
	typ, ok := ParseType(e.Type)
	if !ok {
		return Definition{}, fmt.Errorf("param: %q: unknown type %q", e.Name, e.Type)
	}
	def, err := MakeValue(typ, float64(e.Default))
	if err != nil {
		return Definition{}, fmt.Errorf("param: %q: default %g: %w", e.Name, float64(e.Default), err)
	}
	min, err := MakeValue(typ, float64(e.Min))
	if err != nil {
		return Definition{}, fmt.Errorf("param: %q: min %g: %w", e.Name, float64(e.Min), err)
	}
	max, err := MakeValue(typ, float64(e.Max))
	if err != nil {
		return Definition{}, fmt.Errorf("param: %q: max %g: %w", e.Name, float64(e.Max), err)
	}
	access := ReadWrite
	if e.ReadOnly {
		access = ReadOnly
	}
	return Definition{
		ID:      uint16(e.ID),
		Name:    e.Name,
		Unit:    e.Unit,
		Type:    typ,
		Def:     def,
		Min:     min,
		Max:     max,
		Access:  access,
		Persist: e.Persist,
	}, nil
}
