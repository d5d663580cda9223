package heatercooler

import (
	"fmt"
	"strings"
)

// TargetMode is the mode the user asks for.
type TargetMode int

// Target modes.
const (
	ModeAuto TargetMode = iota
	ModeHeat
	ModeCool
)

// Wire values of the operation mode (0xB0), as logical numbers.
// HEAT and COOL are not in enumeration order on the wire.
const (
	wireModeAuto = 1
	wireModeCool = 2
	wireModeHeat = 3
)

// ModeFromWire maps a logical 0xB0 value to a target mode.
// Anything other than cool or heat is treated as AUTO.
func ModeFromWire(wire int) TargetMode {
	switch wire {
	case wireModeCool:
		return ModeCool
	case wireModeHeat:
		return ModeHeat
	default:
		return ModeAuto
	}
}

// Wire returns the logical 0xB0 value of the mode.
func (m TargetMode) Wire() int {
	switch m {
	case ModeCool:
		return wireModeCool
	case ModeHeat:
		return wireModeHeat
	default:
		return wireModeAuto
	}
}

// Current derives the current mode shown while the target mode is active.
func (m TargetMode) Current() CurrentMode {
	switch m {
	case ModeHeat:
		return CurrentHeating
	case ModeCool:
		return CurrentCooling
	default:
		return CurrentIdle
	}
}

func (m TargetMode) String() string {
	switch m {
	case ModeHeat:
		return "heat"
	case ModeCool:
		return "cool"
	default:
		return "auto"
	}
}

// ParseTargetMode parses "auto", "heat" or "cool".
func ParseTargetMode(s string) (TargetMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto":
		return ModeAuto, nil
	case "heat":
		return ModeHeat, nil
	case "cool":
		return ModeCool, nil
	default:
		return ModeAuto, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// CurrentMode is what the appliance is doing, derived from TargetMode.
type CurrentMode int

// Current modes.
const (
	CurrentIdle CurrentMode = iota
	CurrentHeating
	CurrentCooling
)

func (m CurrentMode) String() string {
	switch m {
	case CurrentHeating:
		return "heating"
	case CurrentCooling:
		return "cooling"
	default:
		return "idle"
	}
}

// UnknownTemperature is reported until the device delivers a reading.
const UnknownTemperature = -127

// Setpoints returned by getters while a lane has not been learned yet.
const (
	DefaultHeatingSetpoint = 23
	DefaultCoolingSetpoint = 27
)

// Attribute names one logical attribute of the appliance.
type Attribute string

// Attributes published to listeners.
const (
	AttrPower              Attribute = "power"
	AttrTargetMode         Attribute = "target_mode"
	AttrCurrentMode        Attribute = "current_mode"
	AttrCurrentTemperature Attribute = "current_temperature"
	AttrHeatingSetpoint    Attribute = "heating_setpoint"
	AttrCoolingSetpoint    Attribute = "cooling_setpoint"
	AttrSwing              Attribute = "swing"
)

// State is an immutable snapshot of an appliance.
type State struct {
	Power              bool
	TargetMode         TargetMode
	CurrentMode        CurrentMode
	CurrentTemperature int

	// HeatingSetpoint and CoolingSetpoint are nil until learned or set.
	HeatingSetpoint *int
	CoolingSetpoint *int

	SwingSupported bool
	Swing          bool
}

// Setpoint returns the remembered setpoint of the lane of mode.
// AUTO has no lane and always reports false.
func (s State) Setpoint(mode TargetMode) (int, bool) {
	var p *int
	switch mode {
	case ModeHeat:
		p = s.HeatingSetpoint
	case ModeCool:
		p = s.CoolingSetpoint
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// HeatingOrDefault returns the heating setpoint, or its default if unknown.
func (s State) HeatingOrDefault() int {
	if s.HeatingSetpoint == nil {
		return DefaultHeatingSetpoint
	}
	return *s.HeatingSetpoint
}

// CoolingOrDefault returns the cooling setpoint, or its default if unknown.
func (s State) CoolingOrDefault() int {
	if s.CoolingSetpoint == nil {
		return DefaultCoolingSetpoint
	}
	return *s.CoolingSetpoint
}

// clone copies the snapshot so the setpoint pointers are not shared.
func (s State) clone() State {
	out := s
	if s.HeatingSetpoint != nil {
		v := *s.HeatingSetpoint
		out.HeatingSetpoint = &v
	}
	if s.CoolingSetpoint != nil {
		v := *s.CoolingSetpoint
		out.CoolingSetpoint = &v
	}
	return out
}

// diff lists the attributes that differ between two snapshots.
func diff(before, after State) []Attribute {
	var changed []Attribute
	if before.Power != after.Power {
		changed = append(changed, AttrPower)
	}
	if before.TargetMode != after.TargetMode {
		changed = append(changed, AttrTargetMode)
	}
	if before.CurrentMode != after.CurrentMode {
		changed = append(changed, AttrCurrentMode)
	}
	if before.CurrentTemperature != after.CurrentTemperature {
		changed = append(changed, AttrCurrentTemperature)
	}
	if !sameSetpoint(before.HeatingSetpoint, after.HeatingSetpoint) {
		changed = append(changed, AttrHeatingSetpoint)
	}
	if !sameSetpoint(before.CoolingSetpoint, after.CoolingSetpoint) {
		changed = append(changed, AttrCoolingSetpoint)
	}
	if before.Swing != after.Swing {
		changed = append(changed, AttrSwing)
	}
	return changed
}

func sameSetpoint(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// allAttributes is what a refresh publishes.
func allAttributes(swing bool) []Attribute {
	attrs := []Attribute{
		AttrPower, AttrTargetMode, AttrCurrentMode, AttrCurrentTemperature,
		AttrHeatingSetpoint, AttrCoolingSetpoint,
	}
	if swing {
		attrs = append(attrs, AttrSwing)
	}
	return attrs
}

// Update is delivered to listeners when attributes change.
type Update struct {
	Address    string
	Attributes []Attribute
	State      State

	// Source is "set", "notify" or "refresh".
	Source string
}

// Has reports whether the update carries the attribute.
func (u Update) Has(attr Attribute) bool {
	for _, a := range u.Attributes {
		if a == attr {
			return true
		}
	}
	return false
}
