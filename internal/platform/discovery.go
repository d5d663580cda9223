package platform

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/echonet-heatercooler/internal/accessory"
	"github.com/nerrad567/echonet-heatercooler/internal/echonet"
)

// defaultDiscoveryWindow applies when discovery is enabled without a duration.
const defaultDiscoveryWindow = 60 * time.Second

// discover probes the configured addresses and runs one multicast window.
func (p *Platform) discover(ctx context.Context) {
	p.setDiscovering(true)
	defer p.setDiscovering(false)

	found := func(dev echonet.Device) { p.found(ctx, dev) }

	var wg sync.WaitGroup
	for _, address := range p.cfg.Devices {
		wg.Add(1)
		go func() {
			defer wg.Done()
			devices, err := p.gateway.Probe(ctx, address)
			if err != nil {
				p.logWarn("probing configured appliance failed", "address", address, "error", err)
				return
			}
			for _, dev := range devices {
				found(dev)
			}
		}()
	}

	if p.cfg.Discovery.Enabled {
		window := p.cfg.DiscoveryWindow()
		if window <= 0 {
			window = defaultDiscoveryWindow
		}
		p.logInfo("discovering appliances", "window", window.String())

		dctx, cancel := context.WithTimeout(ctx, window)
		if err := p.gateway.Discover(dctx, found); err != nil && ctx.Err() == nil {
			p.logError("appliance discovery failed", "error", err)
		}
		cancel()
	}

	wg.Wait()
	if ctx.Err() == nil {
		p.logInfo("discovery finished", "appliances", p.count())
	}
}

// found stores a discovered appliance and starts it if it is new.
func (p *Platform) found(ctx context.Context, dev echonet.Device) {
	name := dev.ProductCode
	if name == "" {
		name = dev.Address
	}
	rec := accessory.RecordFromDevice(dev, name, p.swingSupported(dev.GetPropertyMap), time.Now())

	if existing, ok := p.Appliance(rec.ID); ok {
		rec.Name = existing.Record.Name
		rec.FirstSeen = existing.Record.FirstSeen
	}

	if p.store != nil {
		moved, err := p.store.Upsert(ctx, rec)
		switch {
		case err != nil:
			p.logWarn("caching appliance failed", "appliance", rec.Name, "error", err)
		case moved:
			p.logInfo("appliance address changed", "appliance", rec.Name, "address", rec.Address)
		}
	}

	if p.add(rec) {
		p.logInfo("appliance added", "appliance", rec.Name, "address", rec.Address,
			"object", rec.Object.String(), "accessory_id", rec.ID, "swing", rec.SwingSupported)
	}
}

func (p *Platform) setDiscovering(v bool) {
	p.mu.Lock()
	p.discovering = v
	p.mu.Unlock()
}
