package accessory

import (
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/echonet-heatercooler/internal/heatercooler"
)

// StateView is the JSON form of an appliance state, shared by the MQTT
// state topic and the HTTP API.
type StateView struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Power       bool   `json:"power"`
	TargetMode  string `json:"target_mode"`
	CurrentMode string `json:"current_mode"`

	// CurrentTemperature is null until the appliance reports a reading.
	CurrentTemperature *int `json:"current_temperature"`

	HeatingThreshold int  `json:"heating_threshold"`
	CoolingThreshold int  `json:"cooling_threshold"`
	SwingSupported   bool `json:"swing_supported"`
	Swing            bool `json:"swing"`

	Source    string    `json:"source,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewStateView renders s. An unpowered appliance reports current mode
// "inactive", as HomeKit shows it.
func NewStateView(id, name string, s heatercooler.State, source string, at time.Time) StateView {
	v := StateView{
		ID:               id,
		Name:             name,
		Power:            s.Power,
		TargetMode:       s.TargetMode.String(),
		CurrentMode:      "inactive",
		HeatingThreshold: s.HeatingOrDefault(),
		CoolingThreshold: s.CoolingOrDefault(),
		SwingSupported:   s.SwingSupported,
		Swing:            s.Swing,
		Source:           source,
		UpdatedAt:        at.UTC(),
	}
	if s.Power {
		v.CurrentMode = s.CurrentMode.String()
	}
	if s.CurrentTemperature != heatercooler.UnknownTemperature {
		t := s.CurrentTemperature
		v.CurrentTemperature = &t
	}
	return v
}

// Change is a partial update of an appliance. Nil fields are left alone.
type Change struct {
	Power            *bool    `json:"power,omitempty"`
	Mode             *string  `json:"mode,omitempty"`
	HeatingThreshold *float64 `json:"heating_threshold,omitempty"`
	CoolingThreshold *float64 `json:"cooling_threshold,omitempty"`
	Swing            *bool    `json:"swing,omitempty"`
}

// Empty reports whether the change sets nothing.
func (c Change) Empty() bool {
	return c.Power == nil && c.Mode == nil && c.HeatingThreshold == nil &&
		c.CoolingThreshold == nil && c.Swing == nil
}

// Apply validates the whole change against app, then calls its setters.
// Nothing is applied when any field is invalid.
func (c Change) Apply(app Appliance) error {
	var mode heatercooler.TargetMode
	if c.Mode != nil {
		m, err := heatercooler.ParseTargetMode(*c.Mode)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
		mode = m
	}
	heating, err := threshold("heating_threshold", c.HeatingThreshold)
	if err != nil {
		return err
	}
	cooling, err := threshold("cooling_threshold", c.CoolingThreshold)
	if err != nil {
		return err
	}
	if c.Swing != nil && !app.Snapshot().SwingSupported {
		return fmt.Errorf("%w: %s does not support swing", ErrInvalidCommand, app.Name())
	}

	if c.Power != nil {
		app.SetPower(*c.Power)
	}
	if c.Mode != nil {
		app.SetTargetMode(mode)
	}
	if c.HeatingThreshold != nil {
		app.SetHeatingSetpoint(heating)
	}
	if c.CoolingThreshold != nil {
		app.SetCoolingSetpoint(cooling)
	}
	if c.Swing != nil {
		app.SetSwing(*c.Swing)
	}
	return nil
}

func threshold(field string, v *float64) (int, error) {
	if v == nil {
		return 0, nil
	}
	if math.IsNaN(*v) || *v < thresholdMin || *v > thresholdMax {
		return 0, fmt.Errorf("%w: %s must be between %d and %d", ErrInvalidCommand, field, thresholdMin, thresholdMax)
	}
	return int(math.Round(*v)), nil
}
