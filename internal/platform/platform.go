package platform

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/echonet-heatercooler/internal/accessory"
	"github.com/nerrad567/echonet-heatercooler/internal/echonet"
	"github.com/nerrad567/echonet-heatercooler/internal/heatercooler"
	"github.com/nerrad567/echonet-heatercooler/internal/infrastructure/config"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Gateway is the ECHONET Lite client the platform drives.
// *echonet.Client satisfies it.
type Gateway interface {
	heatercooler.Gateway
	Discover(ctx context.Context, found func(echonet.Device)) error
	Probe(ctx context.Context, address string) ([]echonet.Device, error)
	SetOnNotify(callback func(echonet.Notification))
}

// Adapter exposes appliances to one outside system.
// accessory.MQTTAdapter, TelemetrySink and HistoryRecorder satisfy it.
type Adapter interface {
	Attach(id string, app accessory.Appliance)
}

// Options configures a Platform.
type Options struct {
	Config  config.PlatformConfig
	Gateway Gateway

	// Store caches appliances across restarts. Optional.
	Store *accessory.Store

	// Bridge receives a HomeKit accessory per appliance. Optional.
	Bridge *accessory.Bridge

	Adapters []Adapter
	Logger   Logger
}

// Entry is one managed appliance.
type Entry struct {
	Record    accessory.Record
	Appliance accessory.Appliance
}

type member struct {
	record     accessory.Record
	controller *heatercooler.Controller
}

// Platform owns the controllers of every known appliance.
type Platform struct {
	cfg      config.PlatformConfig
	gateway  Gateway
	store    *accessory.Store
	bridge   *accessory.Bridge
	adapters []Adapter
	logger   Logger

	// configErr makes the platform inert.
	configErr error

	mu          sync.RWMutex
	members     map[string]*member
	started     bool
	stopped     bool
	discovering bool
	startedAt   time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Platform. An invalid platform configuration is not an
// error: it is logged once and the platform stays inert.
//
// Returns:
//   - *Platform: Ready to Start
//   - error: ErrInvalidOptions if Gateway is missing
func New(opts Options) (*Platform, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("%w: gateway is required", ErrInvalidOptions)
	}

	p := &Platform{
		cfg:      opts.Config,
		gateway:  opts.Gateway,
		store:    opts.Store,
		bridge:   opts.Bridge,
		adapters: opts.Adapters,
		logger:   opts.Logger,
		members:  make(map[string]*member),
	}

	if err := opts.Config.Check(); err != nil {
		p.configErr = fmt.Errorf("%w: %w", ErrInert, err)
		p.logError("invalid platform configuration, no appliances will be served", "error", err)
	}
	return p, nil
}

// Inert reports whether the configuration left the platform inert.
func (p *Platform) Inert() bool {
	return p.configErr != nil
}

// Err returns the configuration error wrapping ErrInert, or nil.
func (p *Platform) Err() error {
	return p.configErr
}

// Start restores cached appliances and begins discovery in the background.
// It returns once the cached appliances are running. An inert platform
// starts nothing and returns nil.
func (p *Platform) Start(ctx context.Context) error {
	if p.Inert() {
		return nil
	}

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.startedAt = time.Now()
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	p.gateway.SetOnNotify(p.route)
	p.restoreCached(p.ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.discover(p.ctx)
	}()

	p.logInfo("platform started", "name", p.cfg.Name, "cached_appliances", p.count())
	return nil
}

// Stop ends discovery and stops every controller. Safe to call multiple times.
func (p *Platform) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		cancel := p.cancel
		p.stopped = true
		p.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		p.wg.Wait()

		for _, c := range p.controllers() {
			c.Stop()
		}
		p.logInfo("platform stopped")
	})
}

// Appliances lists the managed appliances ordered by name.
func (p *Platform) Appliances() []Entry {
	p.mu.RLock()
	entries := make([]Entry, 0, len(p.members))
	for _, m := range p.members {
		entries = append(entries, Entry{Record: m.record, Appliance: m.controller})
	}
	p.mu.RUnlock()

	slices.SortFunc(entries, func(a, b Entry) int {
		return cmp.Or(cmp.Compare(a.Record.Name, b.Record.Name), cmp.Compare(a.Record.ID, b.Record.ID))
	})
	return entries
}

// Appliance returns the appliance with the given accessory ID.
func (p *Platform) Appliance(id string) (Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.members[id]
	if !ok {
		return Entry{}, false
	}
	return Entry{Record: m.record, Appliance: m.controller}, true
}

// restoreCached brings back the appliances the store remembers.
func (p *Platform) restoreCached(ctx context.Context) {
	if p.store == nil {
		return
	}
	records, err := p.store.List(ctx)
	if err != nil {
		p.logWarn("loading cached appliances failed", "error", err)
		return
	}
	for _, rec := range records {
		rec.SwingSupported = p.swingSupported(rec.PropertyMap)
		p.logInfo("restoring appliance from cache", "appliance", rec.Name, "address", rec.Address)
		p.add(rec)
	}
}

// add starts a controller for rec, or moves the existing one to rec's
// address. It reports whether a controller was created.
func (p *Platform) add(rec accessory.Record) bool {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return false
	}
	if m, ok := p.members[rec.ID]; ok {
		m.record.LastSeen = rec.LastSeen
		if !echonet.SameHost(rec.Address, m.record.Address) {
			m.record.Address = rec.Address
			m.controller.Relocate(rec.Address)
		}
		p.mu.Unlock()
		return false
	}

	ctrl, err := heatercooler.New(heatercooler.Options{
		Name:            rec.Name,
		Address:         rec.Address,
		Object:          rec.Object,
		Gateway:         p.gateway,
		SwingSupported:  rec.SwingSupported,
		RefreshInterval: p.cfg.RefreshPeriod(),
		ReadAttempts:    p.cfg.ReadAttempts,
		WriteAttempts:   p.cfg.WriteAttempts,
		RetryUnit:       p.cfg.RetryUnitDuration(),
		WriteDebounce:   p.cfg.WriteDebounceDuration(),
		AutoTemperature: heatercooler.AutoTemperature(p.cfg.AutoTemperature),
		Logger:          p.logger,
	})
	if err != nil {
		p.mu.Unlock()
		p.logError("creating appliance controller failed", "appliance", rec.Name, "error", err)
		return false
	}
	p.members[rec.ID] = &member{record: rec, controller: ctrl}
	ctx := p.ctx
	p.mu.Unlock()

	for _, a := range p.adapters {
		a.Attach(rec.ID, ctrl)
	}
	if p.bridge != nil && !p.bridge.Add(accessory.NewHomeKit(rec, ctrl, p.logger)) {
		p.logInfo("appliance found after HomeKit started, it appears in HomeKit after a restart",
			"appliance", rec.Name, "accessory_id", rec.ID)
	}

	ctrl.Start(ctx)
	return true
}

// route hands a device notification to every controller.
func (p *Platform) route(n echonet.Notification) {
	for _, c := range p.controllers() {
		c.ApplyNotification(n.Address, n.Object, n.Properties)
	}
}

func (p *Platform) controllers() []*heatercooler.Controller {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*heatercooler.Controller, 0, len(p.members))
	for _, m := range p.members {
		out = append(out, m.controller)
	}
	return out
}

func (p *Platform) count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.members)
}

// swingSupported applies the swing setting: "on" and "off" force it,
// otherwise the Get property map decides.
func (p *Platform) swingSupported(m echonet.PropertyMap) bool {
	switch p.cfg.Swing {
	case "on":
		return true
	case "off":
		return false
	default:
		return m.Has(echonet.EPCAirFlowSwing)
	}
}

func (p *Platform) logInfo(msg string, keysAndValues ...any) {
	if p.logger != nil {
		p.logger.Info(msg, keysAndValues...)
	}
}

func (p *Platform) logWarn(msg string, keysAndValues ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, keysAndValues...)
	}
}

func (p *Platform) logError(msg string, keysAndValues ...any) {
	if p.logger != nil {
		p.logger.Error(msg, keysAndValues...)
	}
}
