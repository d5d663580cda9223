package echonet

import (
	"context"
	"fmt"
	"sync"
)

// Device describes one air conditioner object found on the network.
type Device struct {
	Address      string
	Object       EOJ
	MakerCode    string
	ProductCode  string
	SerialNumber string

	// GetPropertyMap lists the properties the object can report. Empty when
	// the device did not answer for it.
	GetPropertyMap PropertyMap
}

// identificationCodes are read from every discovered object.
var identificationCodes = []EPC{EPCMakerCode, EPCProductCode, EPCSerialNumber, EPCGetPropertyMap}

// Discover multicasts an instance list request and reports every home air
// conditioner that answers until ctx is done.
//
// Each object is reported once per call. Identification reads that fail are
// logged and leave the corresponding Device fields empty.
//
// Parameters:
//   - ctx: Bounds the discovery window
//   - found: Called for each air conditioner; may be called concurrently
//
// Returns:
//   - error: If the request could not be sent; nil when the window closes
func (c *Client) Discover(ctx context.Context, found func(Device)) error {
	req := Frame{
		SEOJ:       ControllerObject,
		DEOJ:       NodeProfile,
		ESV:        ESVGet,
		Properties: []Property{{EPC: EPCSelfInstanceList}},
	}
	replies, cancel, err := c.multicast(req)
	if err != nil {
		return fmt.Errorf("discovery request: %w", err)
	}
	defer cancel()

	var (
		seenMu sync.Mutex
		seen   = make(map[string]bool)
		wg     sync.WaitGroup
	)
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done.Done():
			return ErrClosed
		case r := <-replies:
			objects, err := instanceList(r.frame)
			if err != nil {
				c.logDebug("ignoring discovery reply", "from", r.host, "error", err)
				continue
			}
			for _, obj := range objects {
				key := r.host + "/" + obj.String()
				seenMu.Lock()
				dup := seen[key]
				seen[key] = true
				seenMu.Unlock()
				if dup || !obj.IsHomeAirConditioner() {
					continue
				}

				wg.Add(1)
				go func(host string, obj EOJ) {
					defer wg.Done()
					found(c.describe(ctx, host, obj))
				}(r.host, obj)
			}
		}
	}
}

// Probe asks one node for its instance list and returns its air conditioners.
func (c *Client) Probe(ctx context.Context, address string) ([]Device, error) {
	p, err := c.GetProperty(ctx, address, NodeProfile, EPCSelfInstanceList)
	if err != nil {
		return nil, fmt.Errorf("reading instance list of %s: %w", address, err)
	}
	objects, err := DecodeInstanceList(p.EDT)
	if err != nil {
		return nil, fmt.Errorf("instance list of %s: %w", address, err)
	}

	var devices []Device
	for _, obj := range objects {
		if obj.IsHomeAirConditioner() {
			devices = append(devices, c.describe(ctx, address, obj))
		}
	}
	return devices, nil
}

// describe reads the identification properties of an object.
func (c *Client) describe(ctx context.Context, address string, obj EOJ) Device {
	d := Device{Address: address, Object: obj}

	props, err := c.GetProperties(ctx, address, obj, identificationCodes)
	if err != nil {
		c.logDebug("identification read failed", "address", address, "object", obj.String(), "error", err)
		return d
	}

	for _, p := range props {
		if !p.HasValue() {
			continue
		}
		switch p.EPC {
		case EPCMakerCode:
			if code, err := DecodeMakerCode(p.EDT); err == nil {
				d.MakerCode = code
			}
		case EPCProductCode:
			d.ProductCode = DecodeString(p.EDT)
		case EPCSerialNumber:
			d.SerialNumber = DecodeString(p.EDT)
		case EPCGetPropertyMap:
			if m, err := DecodePropertyMap(p.EDT); err == nil {
				d.GetPropertyMap = m
			}
		}
	}
	return d
}

func instanceList(f Frame) ([]EOJ, error) {
	if f.ESV != ESVGetRes {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFrame, f.ESV)
	}
	p, ok := f.Property(EPCSelfInstanceList)
	if !ok || !p.HasValue() {
		return nil, fmt.Errorf("%w: no instance list", ErrInvalidFrame)
	}
	return DecodeInstanceList(p.EDT)
}
