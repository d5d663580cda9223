package heatercooler

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/echonet-heatercooler/internal/echonet"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Gateway is the property exchange the controller drives.
// *echonet.Client satisfies it.
type Gateway interface {
	GetProperties(ctx context.Context, address string, object echonet.EOJ, epcs []echonet.EPC) ([]echonet.Property, error)
	SetProperties(ctx context.Context, address string, object echonet.EOJ, props []echonet.Property) error
}

// AutoTemperature selects what is written as 0xB3 while in AUTO.
type AutoTemperature string

// AUTO write policies.
const (
	// AutoTemperatureMidpoint writes the middle of the [heat, cool] band.
	AutoTemperatureMidpoint AutoTemperature = "midpoint"

	// AutoTemperatureOmit leaves the setpoint to the device.
	AutoTemperatureOmit AutoTemperature = "omit"
)

// refreshCodes are pulled on every refresh.
var refreshCodes = []echonet.EPC{
	echonet.EPCOperationStatus,
	echonet.EPCOperationMode,
	echonet.EPCTargetTemperature,
	echonet.EPCRoomTemperature,
}

// Options configures a Controller.
type Options struct {
	// Name identifies the appliance in logs.
	Name string

	// Address and Object locate the air conditioner object. Required.
	Address string
	Object  echonet.EOJ

	// Gateway carries reads and writes. Required.
	Gateway Gateway

	// SwingSupported enables the swing attribute (0xA3).
	SwingSupported bool

	// RefreshInterval is the polling period. Zero disables polling.
	RefreshInterval time.Duration

	// ReadAttempts and WriteAttempts are the retry budgets.
	// Zero selects DefaultReadAttempts and DefaultWriteAttempts.
	ReadAttempts  int
	WriteAttempts int

	// RetryUnit is the backoff step. Zero selects DefaultRetryUnit.
	RetryUnit time.Duration

	// WriteDebounce is the coalescing window. Zero selects DefaultWriteDebounce.
	WriteDebounce time.Duration

	// AutoTemperature defaults to AutoTemperatureMidpoint.
	AutoTemperature AutoTemperature

	Logger Logger
}

// Controller owns the reconciled state of one air conditioner.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Each logical operation runs to completion under the state lock; gateway
//     I/O and listener callbacks run outside it.
//   - Getters and setters never block on the device.
type Controller struct {
	name    string
	address atomic.Value // string
	object  echonet.EOJ
	gateway Gateway

	retrier         *Retrier
	readAttempts    int
	writeAttempts   int
	autoTemperature AutoTemperature

	coalescer       *Coalescer
	refresher       *Refresher
	refreshInterval time.Duration

	mu    sync.Mutex
	state State
	edits uint64 // local changes that scheduled a write

	listenersMu sync.RWMutex
	listeners   []func(Update)

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	logger Logger
}

// New creates a Controller. The appliance starts powered off in AUTO with
// unknown temperatures; call Start to pull the device state.
//
// Returns:
//   - *Controller: Ready for use
//   - error: ErrInvalidOptions if Gateway or Address is missing
func New(opts Options) (*Controller, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("%w: gateway is required", ErrInvalidOptions)
	}
	if opts.Address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrInvalidOptions)
	}
	if opts.RefreshInterval < 0 {
		return nil, fmt.Errorf("%w: negative refresh interval", ErrInvalidOptions)
	}
	if opts.Name == "" {
		opts.Name = opts.Address
	}
	if opts.ReadAttempts <= 0 {
		opts.ReadAttempts = DefaultReadAttempts
	}
	if opts.WriteAttempts <= 0 {
		opts.WriteAttempts = DefaultWriteAttempts
	}
	switch opts.AutoTemperature {
	case AutoTemperatureMidpoint, AutoTemperatureOmit:
	case "":
		opts.AutoTemperature = AutoTemperatureMidpoint
	default:
		return nil, fmt.Errorf("%w: auto temperature policy %q", ErrInvalidOptions, opts.AutoTemperature)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		name:            opts.Name,
		object:          opts.Object,
		gateway:         opts.Gateway,
		retrier:         NewRetrier(opts.RetryUnit, opts.Logger),
		readAttempts:    opts.ReadAttempts,
		writeAttempts:   opts.WriteAttempts,
		autoTemperature: opts.AutoTemperature,
		refreshInterval: opts.RefreshInterval,
		state: State{
			TargetMode:         ModeAuto,
			CurrentMode:        CurrentIdle,
			CurrentTemperature: UnknownTemperature,
			SwingSupported:     opts.SwingSupported,
		},
		ctx:    ctx,
		cancel: cancel,
		logger: opts.Logger,
	}
	c.address.Store(opts.Address)
	c.coalescer = NewCoalescer(opts.WriteDebounce, c.flush)
	c.refresher = NewRefresher(opts.Name, opts.RefreshInterval, c.Refresh, c.coalescer.InFlight, opts.Logger)

	return c, nil
}

// Start pulls the device state once and then polls it on the refresh interval
// until ctx is cancelled or Stop is called. Calling Start again has no effect.
func (c *Controller) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		context.AfterFunc(ctx, c.cancel)

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.Refresh(c.ctx)
			if c.refreshInterval > 0 {
				c.refresher.Run(c.ctx)
			}
		}()

		c.logInfo("appliance started", "address", c.Address(), "object", c.object.String(),
			"refresh_interval", c.refreshInterval.String(), "swing", c.SwingSupported())
	})
}

// Stop cancels polling and any pending write, then waits for running work.
// Safe to call multiple times.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.cancel()
		c.coalescer.Stop()
		c.wg.Wait()
	})
}

// OnChange registers a listener for attribute updates.
// Listeners run on the goroutine that caused the change and must not block.
func (c *Controller) OnChange(listener func(Update)) {
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, listener)
	c.listenersMu.Unlock()
}

// Name returns the appliance name.
func (c *Controller) Name() string { return c.name }

// Address returns the device address.
func (c *Controller) Address() string { return c.address.Load().(string) }

// Relocate points the controller at a new IP address, as when discovery
// finds a known appliance after a DHCP change. An address naming the same
// host keeps the configured one, port included.
func (c *Controller) Relocate(address string) {
	if address == "" || echonet.SameHost(address, c.Address()) {
		return
	}
	previous := c.Address()
	c.address.Store(address)
	c.logInfo("appliance moved", "appliance", c.name, "from", previous, "to", address)
}

// Object returns the air conditioner object identifier.
func (c *Controller) Object() echonet.EOJ { return c.object }

// WriteInFlight reports whether a write cycle is pending or executing.
func (c *Controller) WriteInFlight() bool { return c.coalescer.InFlight() }

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Power returns the cached power state.
func (c *Controller) Power() bool { return c.Snapshot().Power }

// TargetMode returns the cached target mode.
func (c *Controller) TargetMode() TargetMode { return c.Snapshot().TargetMode }

// CurrentMode returns the current mode derived from the target mode.
func (c *Controller) CurrentMode() CurrentMode { return c.Snapshot().CurrentMode }

// CurrentTemperature returns the room temperature, or UnknownTemperature.
func (c *Controller) CurrentTemperature() int { return c.Snapshot().CurrentTemperature }

// HeatingSetpoint returns the heating lane, or DefaultHeatingSetpoint if unknown.
func (c *Controller) HeatingSetpoint() int { return c.Snapshot().HeatingOrDefault() }

// CoolingSetpoint returns the cooling lane, or DefaultCoolingSetpoint if unknown.
func (c *Controller) CoolingSetpoint() int { return c.Snapshot().CoolingOrDefault() }

// SwingSupported reports whether the appliance exposes swing.
func (c *Controller) SwingSupported() bool { return c.Snapshot().SwingSupported }

// Swing returns the cached swing state.
func (c *Controller) Swing() bool { return c.Snapshot().Swing }

// SetPower switches the appliance on or off. Setting the cached value again
// does nothing.
func (c *Controller) SetPower(on bool) {
	c.set(func(s *State) bool {
		if s.Power == on {
			return false
		}
		s.Power = on
		return true
	})
}

// SetTargetMode selects AUTO, HEAT or COOL. The current mode follows at once.
// Selecting the cached mode again does nothing.
func (c *Controller) SetTargetMode(mode TargetMode) {
	c.set(func(s *State) bool {
		if s.TargetMode == mode {
			return false
		}
		s.TargetMode = mode
		s.CurrentMode = mode.Current()
		return true
	})
}

// SetHeatingSetpoint sets the heating lane. The cached value again does nothing.
func (c *Controller) SetHeatingSetpoint(celsius int) {
	c.set(func(s *State) bool {
		if s.HeatingSetpoint != nil && *s.HeatingSetpoint == celsius {
			return false
		}
		s.HeatingSetpoint = &celsius
		return true
	})
}

// SetCoolingSetpoint sets the cooling lane. The cached value again does nothing.
func (c *Controller) SetCoolingSetpoint(celsius int) {
	c.set(func(s *State) bool {
		if s.CoolingSetpoint != nil && *s.CoolingSetpoint == celsius {
			return false
		}
		s.CoolingSetpoint = &celsius
		return true
	})
}

// SetSwing enables or disables swing. Ignored when swing is not supported.
func (c *Controller) SetSwing(on bool) {
	c.set(func(s *State) bool {
		if !s.SwingSupported {
			c.logDebug("ignoring swing on appliance without swing", "appliance", c.name)
			return false
		}
		if s.Swing == on {
			return false
		}
		s.Swing = on
		return true
	})
}

// set applies a local change, publishes what changed and schedules a write
// when mutate asks for one.
func (c *Controller) set(mutate func(*State) bool) {
	c.mu.Lock()
	before := c.state.clone()
	write := mutate(&c.state)
	if write {
		c.edits++
	}
	after := c.state.clone()
	c.mu.Unlock()

	if !write {
		return
	}
	if changed := diff(before, after); len(changed) > 0 {
		c.publish(Update{Attributes: changed, State: after, Source: "set"})
	}
	c.coalescer.Request()
}

// SerializeWriteSet builds the SetC batch for the current local state.
//
// Power is always written. While on, the mode follows, then the target
// temperature of the active lane, then swing if supported. In AUTO the target
// temperature is the midpoint of a known band, or omitted.
func (c *Controller) SerializeWriteSet() []echonet.Property {
	c.mu.Lock()
	s := c.state.clone()
	c.mu.Unlock()

	props := []echonet.Property{
		{EPC: echonet.EPCOperationStatus, EDT: echonet.EncodeStatus(s.Power)},
	}
	if !s.Power {
		return props
	}

	props = append(props, echonet.Property{
		EPC: echonet.EPCOperationMode,
		EDT: echonet.EncodeMode(s.TargetMode.Wire()),
	})

	if t, ok := c.writeTemperature(s); ok {
		props = append(props, echonet.Property{
			EPC: echonet.EPCTargetTemperature,
			EDT: echonet.EncodeTargetTemperature(t),
		})
	}

	if s.SwingSupported {
		props = append(props, echonet.Property{
			EPC: echonet.EPCAirFlowSwing,
			EDT: echonet.EncodeSwing(s.Swing),
		})
	}
	return props
}

func (c *Controller) writeTemperature(s State) (int, bool) {
	switch s.TargetMode {
	case ModeHeat, ModeCool:
		return s.Setpoint(s.TargetMode)
	}
	if c.autoTemperature != AutoTemperatureMidpoint || s.HeatingSetpoint == nil || s.CoolingSetpoint == nil {
		return 0, false
	}
	heat, cool := *s.HeatingSetpoint, *s.CoolingSetpoint
	return heat + floorDiv(cool-heat, 2), true
}

// flush runs one write cycle. Failures are logged by the retrier; local
// state is left as the caller set it.
func (c *Controller) flush() {
	props := c.SerializeWriteSet()

	err := c.retrier.Do(c.ctx, "write "+c.name, c.writeAttempts, func(ctx context.Context) error {
		return c.gateway.SetProperties(ctx, c.Address(), c.object, props)
	})
	if err != nil {
		return
	}
	c.logDebug("write applied", "appliance", c.name, "properties", len(props))
}

// Refresh pulls the device state and publishes every attribute.
//
// Codes the device does not deliver keep their cached value; if the whole
// read fails after retries the cached state is published unchanged. While a
// local change is waiting to be written, the device still holds the old
// values: the read is skipped, or discarded when the change arrived during
// it, and the cached state is published.
func (c *Controller) Refresh(ctx context.Context) {
	if c.coalescer.InFlight() {
		c.logDebug("write pending, publishing cached state instead of reading", "appliance", c.name)
		c.publishAll()
		return
	}

	c.mu.Lock()
	swing := c.state.SwingSupported
	edits := c.edits
	c.mu.Unlock()

	codes := refreshCodes
	if swing {
		codes = append(codes[:len(codes):len(codes)], echonet.EPCAirFlowSwing)
	}

	var props []echonet.Property
	err := c.retrier.Do(ctx, "refresh "+c.name, c.readAttempts, func(ctx context.Context) error {
		var err error
		props, err = c.gateway.GetProperties(ctx, c.Address(), c.object, codes)
		return err
	})
	if err != nil && ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	apply := err == nil
	if apply && (c.edits != edits || c.coalescer.InFlight()) {
		c.logDebug("local change during refresh, discarding read", "appliance", c.name)
		apply = false
	}
	if apply {
		received := make(map[echonet.EPC]bool, len(props))
		for _, p := range props {
			if !p.HasValue() {
				continue
			}
			received[p.EPC] = true
			if err := c.applyLocked(p, false); err != nil {
				c.logDebug("ignoring property", "appliance", c.name, "epc", p.EPC.String(), "error", err)
			}
		}
		for _, epc := range codes {
			if !received[epc] {
				c.logDebug("property unavailable, keeping cached value", "appliance", c.name, "epc", epc.String())
			}
		}
	}
	c.mu.Unlock()

	c.publishAll()
}

// publishAll publishes every attribute of the cached state as a refresh.
func (c *Controller) publishAll() {
	c.mu.Lock()
	snapshot := c.state.clone()
	c.mu.Unlock()

	c.publish(Update{Attributes: allAttributes(snapshot.SwingSupported), State: snapshot, Source: "refresh"})
}

// ApplyNotification folds a device notification into the state and publishes
// the attributes that changed. Notifications from another host or object
// are ignored, as are unknown property codes. The port of a configured
// "ip:port" address plays no part.
//
// Returns:
//   - []Attribute: The attributes that changed
func (c *Controller) ApplyNotification(address string, object echonet.EOJ, props []echonet.Property) []Attribute {
	if !echonet.SameHost(address, c.Address()) || (!object.IsZero() && object != c.object) {
		return nil
	}

	c.mu.Lock()
	before := c.state.clone()
	for _, p := range props {
		if err := c.applyLocked(p, true); err != nil {
			c.logDebug("ignoring notified property", "appliance", c.name, "epc", p.EPC.String(), "error", err)
		}
	}
	after := c.state.clone()
	c.mu.Unlock()

	changed := diff(before, after)
	if len(changed) > 0 {
		c.publish(Update{Attributes: changed, State: after, Source: "notify"})
	}
	return changed
}

// applyLocked normalizes one device-reported property into the state.
// The caller holds c.mu.
func (c *Controller) applyLocked(p echonet.Property, notification bool) error {
	s := &c.state

	switch p.EPC {
	case echonet.EPCOperationStatus:
		on, err := echonet.DecodeStatus(p.EDT)
		if err != nil {
			return err
		}
		s.Power = on

	case echonet.EPCOperationMode:
		wire, err := echonet.DecodeMode(p.EDT)
		if err != nil {
			return err
		}
		s.TargetMode = ModeFromWire(wire)
		s.CurrentMode = s.TargetMode.Current()

	case echonet.EPCTargetTemperature:
		t, err := echonet.DecodeTargetTemperature(p.EDT)
		if err != nil {
			return err
		}
		applyTargetTemperature(s, t, notification)

	case echonet.EPCRoomTemperature:
		t, err := echonet.DecodeRoomTemperature(p.EDT)
		if err != nil {
			return err
		}
		if t == nil {
			s.CurrentTemperature = UnknownTemperature
		} else {
			s.CurrentTemperature = *t
		}

	case echonet.EPCAirFlowSwing:
		if !s.SwingSupported {
			return nil
		}
		on, err := echonet.DecodeSwing(p.EDT)
		if err != nil {
			return err
		}
		s.Swing = on
	}
	return nil
}

// applyTargetTemperature folds a device-reported target temperature into the
// setpoint lanes.
//
//  1. No value: nothing changes.
//  2. Lane of the target mode unknown (in AUTO: either lane): both lanes start
//     from the value.
//  3. HEAT or COOL: that lane takes the value; the other is left alone.
//  4. AUTO, notifications only: a value strictly outside [heat, cool] moves
//     the band to [value-1, value+1]; a value inside leaves it.
func applyTargetTemperature(s *State, t *int, notification bool) {
	if t == nil {
		return
	}
	v := *t

	switch {
	case !laneKnown(s):
		heat, cool := v, v
		s.HeatingSetpoint, s.CoolingSetpoint = &heat, &cool
	case s.TargetMode == ModeHeat:
		s.HeatingSetpoint = &v
	case s.TargetMode == ModeCool:
		s.CoolingSetpoint = &v
	case notification:
		if v < *s.HeatingSetpoint || v > *s.CoolingSetpoint {
			heat, cool := v-1, v+1
			s.HeatingSetpoint, s.CoolingSetpoint = &heat, &cool
		}
	}
}

func laneKnown(s *State) bool {
	switch s.TargetMode {
	case ModeHeat:
		return s.HeatingSetpoint != nil
	case ModeCool:
		return s.CoolingSetpoint != nil
	default:
		return s.HeatingSetpoint != nil && s.CoolingSetpoint != nil
	}
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// publish delivers an update to every listener.
func (c *Controller) publish(u Update) {
	u.Address = c.Address()

	c.listenersMu.RLock()
	listeners := slices.Clone(c.listeners)
	c.listenersMu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logError("listener panic", fmt.Errorf("%v", r))
				}
			}()
			l(u)
		}()
	}
}

func (c *Controller) logInfo(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Info(msg, keysAndValues...)
	}
}

func (c *Controller) logDebug(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, keysAndValues...)
	}
}

func (c *Controller) logError(msg string, err error) {
	if c.logger != nil {
		c.logger.Error(msg, "appliance", c.name, "error", err)
	}
}
