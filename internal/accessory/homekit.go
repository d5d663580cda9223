package accessory

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/brutella/hap"
	haccessory "github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	"github.com/google/uuid"

	"github.com/nerrad567/echonet-heatercooler/internal/heatercooler"
)

// HAP characteristic values used by the HeaterCooler service.
const (
	hapInactive = 0
	hapActive   = 1

	hapTargetAuto = 0
	hapTargetHeat = 1
	hapTargetCool = 2

	hapCurrentInactive = 0
	hapCurrentIdle     = 1
	hapCurrentHeating  = 2
	hapCurrentCooling  = 3

	hapSwingDisabled = 0
	hapSwingEnabled  = 1
)

// Threshold and temperature ranges advertised to HomeKit.
const (
	thresholdMin  = 16
	thresholdMax  = 30
	thresholdStep = 1

	temperatureMin = heatercooler.UnknownTemperature
	temperatureMax = 125
)

// heaterCooler is a HeaterCooler service carrying both thresholds, plus
// swing when the appliance reports it.
type heaterCooler struct {
	*service.S

	Active                      *characteristic.Active
	CurrentHeaterCoolerState    *characteristic.CurrentHeaterCoolerState
	TargetHeaterCoolerState     *characteristic.TargetHeaterCoolerState
	CurrentTemperature          *characteristic.CurrentTemperature
	CoolingThresholdTemperature *characteristic.CoolingThresholdTemperature
	HeatingThresholdTemperature *characteristic.HeatingThresholdTemperature
	SwingMode                   *characteristic.SwingMode
}

func newHeaterCooler(swing bool) *heaterCooler {
	s := heaterCooler{}
	s.S = service.New(service.TypeHeaterCooler)

	s.Active = characteristic.NewActive()
	s.AddC(s.Active.C)

	s.CurrentHeaterCoolerState = characteristic.NewCurrentHeaterCoolerState()
	s.AddC(s.CurrentHeaterCoolerState.C)

	s.TargetHeaterCoolerState = characteristic.NewTargetHeaterCoolerState()
	s.AddC(s.TargetHeaterCoolerState.C)

	s.CurrentTemperature = characteristic.NewCurrentTemperature()
	s.CurrentTemperature.SetMinValue(temperatureMin)
	s.CurrentTemperature.SetMaxValue(temperatureMax)
	s.AddC(s.CurrentTemperature.C)

	s.CoolingThresholdTemperature = characteristic.NewCoolingThresholdTemperature()
	s.CoolingThresholdTemperature.SetMinValue(thresholdMin)
	s.CoolingThresholdTemperature.SetMaxValue(thresholdMax)
	s.CoolingThresholdTemperature.SetStepValue(thresholdStep)
	s.AddC(s.CoolingThresholdTemperature.C)

	s.HeatingThresholdTemperature = characteristic.NewHeatingThresholdTemperature()
	s.HeatingThresholdTemperature.SetMinValue(thresholdMin)
	s.HeatingThresholdTemperature.SetMaxValue(thresholdMax)
	s.HeatingThresholdTemperature.SetStepValue(thresholdStep)
	s.AddC(s.HeatingThresholdTemperature.C)

	if swing {
		s.SwingMode = characteristic.NewSwingMode()
		s.AddC(s.SwingMode.C)
	}

	return &s
}

// HomeKit binds one appliance to a HAP accessory.
type HomeKit struct {
	A *haccessory.A

	svc       *heaterCooler
	appliance Appliance
	logger    Logger
}

// NewHomeKit builds the HAP accessory for rec and wires it both ways:
// remote writes call the appliance setters, and appliance updates are
// pushed into the characteristics.
func NewHomeKit(rec Record, appliance Appliance, logger Logger) *HomeKit {
	snap := appliance.Snapshot()

	a := haccessory.New(haccessory.Info{
		Name:         rec.Name,
		Manufacturer: manufacturer(rec.MakerCode),
		Model:        valueOr(rec.ProductCode, "ECHONET Lite air conditioner"),
		SerialNumber: valueOr(rec.SerialNumber, rec.Address),
	}, haccessory.TypeAirConditioner)
	a.Id = accessoryID(rec.ID)

	h := &HomeKit{
		A:         a,
		svc:       newHeaterCooler(snap.SwingSupported),
		appliance: appliance,
		logger:    logger,
	}
	a.AddS(h.svc.S)

	h.svc.Active.OnValueRemoteUpdate(h.remoteActive)
	h.svc.TargetHeaterCoolerState.OnValueRemoteUpdate(h.remoteTarget)
	h.svc.CoolingThresholdTemperature.OnValueRemoteUpdate(h.remoteCooling)
	h.svc.HeatingThresholdTemperature.OnValueRemoteUpdate(h.remoteHeating)
	if h.svc.SwingMode != nil {
		h.svc.SwingMode.OnValueRemoteUpdate(h.remoteSwing)
	}

	h.apply(snap)
	appliance.OnChange(func(u heatercooler.Update) { h.apply(u.State) })

	return h
}

func (h *HomeKit) remoteActive(v int) {
	h.logDebug("homekit set active", "value", v)
	h.appliance.SetPower(v == hapActive)
}

func (h *HomeKit) remoteTarget(v int) {
	h.logDebug("homekit set target state", "value", v)
	h.appliance.SetTargetMode(targetFromHAP(v))
}

func (h *HomeKit) remoteCooling(v float64) {
	h.logDebug("homekit set cooling threshold", "value", v)
	h.appliance.SetCoolingSetpoint(int(math.Round(v)))
}

func (h *HomeKit) remoteHeating(v float64) {
	h.logDebug("homekit set heating threshold", "value", v)
	h.appliance.SetHeatingSetpoint(int(math.Round(v)))
}

func (h *HomeKit) remoteSwing(v int) {
	h.logDebug("homekit set swing", "value", v)
	h.appliance.SetSwing(v == hapSwingEnabled)
}

// apply copies a state snapshot into the characteristics.
func (h *HomeKit) apply(s heatercooler.State) {
	active := hapInactive
	if s.Power {
		active = hapActive
	}
	h.svc.Active.SetValue(active)
	h.svc.CurrentHeaterCoolerState.SetValue(currentToHAP(s))
	h.svc.TargetHeaterCoolerState.SetValue(targetToHAP(s.TargetMode))
	h.svc.CurrentTemperature.SetValue(float64(clamp(s.CurrentTemperature, temperatureMin, temperatureMax)))
	h.svc.CoolingThresholdTemperature.SetValue(float64(clamp(s.CoolingOrDefault(), thresholdMin, thresholdMax)))
	h.svc.HeatingThresholdTemperature.SetValue(float64(clamp(s.HeatingOrDefault(), thresholdMin, thresholdMax)))
	if h.svc.SwingMode != nil {
		swing := hapSwingDisabled
		if s.Swing {
			swing = hapSwingEnabled
		}
		h.svc.SwingMode.SetValue(swing)
	}
}

func (h *HomeKit) logDebug(msg string, keysAndValues ...any) {
	if h.logger != nil {
		h.logger.Debug(msg, append([]any{"appliance", h.appliance.Name()}, keysAndValues...)...)
	}
}

func targetToHAP(m heatercooler.TargetMode) int {
	switch m {
	case heatercooler.ModeHeat:
		return hapTargetHeat
	case heatercooler.ModeCool:
		return hapTargetCool
	default:
		return hapTargetAuto
	}
}

func targetFromHAP(v int) heatercooler.TargetMode {
	switch v {
	case hapTargetHeat:
		return heatercooler.ModeHeat
	case hapTargetCool:
		return heatercooler.ModeCool
	default:
		return heatercooler.ModeAuto
	}
}

// currentToHAP reports INACTIVE while powered off.
func currentToHAP(s heatercooler.State) int {
	if !s.Power {
		return hapCurrentInactive
	}
	switch s.CurrentMode {
	case heatercooler.CurrentHeating:
		return hapCurrentHeating
	case heatercooler.CurrentCooling:
		return hapCurrentCooling
	default:
		return hapCurrentIdle
	}
}

// accessoryID maps an accessory UUID onto a HAP accessory ID. IDs 0 and 1
// are reserved for the bridge.
func accessoryID(id string) uint64 {
	u, err := uuid.Parse(id)
	if err != nil {
		return 0
	}
	v := binary.BigEndian.Uint64(u[:8])
	if v <= 1 {
		v += 2
	}
	return v
}

func manufacturer(makerCode string) string {
	if makerCode == "" {
		return "ECHONET Lite"
	}
	return "ECHONET maker " + makerCode
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

// BridgeOptions configures the HAP server.
type BridgeOptions struct {
	Name        string
	Pin         string
	StoragePath string

	// Addr is the listen address; empty picks a free port.
	Addr string
}

// Bridge serves a set of HomeKit accessories behind one HAP bridge.
// The accessory set is fixed once Serve starts.
type Bridge struct {
	opts   BridgeOptions
	logger Logger

	mu          sync.Mutex
	accessories []*HomeKit
	serving     bool
}

// NewBridge creates a Bridge.
func NewBridge(opts BridgeOptions, logger Logger) *Bridge {
	return &Bridge{opts: opts, logger: logger}
}

// Add registers an accessory. It returns false once the bridge is serving;
// HomeKit then only sees the accessory after a restart.
func (b *Bridge) Add(h *HomeKit) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.serving {
		return false
	}
	b.accessories = append(b.accessories, h)
	return true
}

// Len returns the number of accessories registered.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.accessories)
}

// Serve publishes the bridge over HAP until ctx is cancelled.
func (b *Bridge) Serve(ctx context.Context) error {
	b.mu.Lock()
	b.serving = true
	accs := make([]*haccessory.A, 0, len(b.accessories))
	for _, h := range b.accessories {
		accs = append(accs, h.A)
	}
	b.mu.Unlock()

	name := valueOr(b.opts.Name, "ECHONET Bridge")
	bridge := haccessory.NewBridge(haccessory.Info{
		Name:         name,
		Manufacturer: "echonet-heatercooler",
	})

	server, err := hap.NewServer(hap.NewFsStore(b.opts.StoragePath), bridge.A, accs...)
	if err != nil {
		return fmt.Errorf("creating homekit server: %w", err)
	}
	server.Pin = b.opts.Pin
	if b.opts.Addr != "" {
		server.Addr = b.opts.Addr
	}

	if b.logger != nil {
		b.logger.Info("homekit bridge serving", "accessories", len(accs), "name", name)
	}

	if err := server.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("homekit server: %w", err)
	}
	return nil
}
