package echonet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Defaults for the UDP client.
const (
	// DefaultPort is the ECHONET Lite UDP port.
	DefaultPort = 3610

	// DefaultMulticastGroup is the ECHONET Lite IPv4 multicast group.
	DefaultMulticastGroup = "224.0.23.0"

	// defaultRequestTimeout bounds a single request/response exchange.
	defaultRequestTimeout = 60 * time.Second

	// readBufferSize fits any frame a device can send over UDP.
	readBufferSize = 1500

	// notifyQueueSize is the buffer size for the notification queue.
	notifyQueueSize = 100

	// collectorQueueSize buffers multicast replies during discovery.
	collectorQueueSize = 64
)

// Config holds UDP client configuration.
type Config struct {
	// ListenAddress is the local address to bind.
	// Default: ":3610". Devices answer on port 3610 regardless of source port.
	ListenAddress string

	// MulticastGroup is the group used for discovery and announcements.
	// Default: "224.0.23.0".
	MulticastGroup string

	// Interface names the network interface to join the group on.
	// Empty selects the system default.
	Interface string

	// DisableMulticast binds a plain unicast socket. Discovery still works
	// against configured addresses.
	DisableMulticast bool

	// Port is the destination port for addresses given without one.
	// Default: 3610.
	Port int

	// RequestTimeout bounds each request/response exchange.
	// Default: 60 seconds.
	RequestTimeout time.Duration
}

// Stats holds operational statistics.
type Stats struct {
	FramesTx          uint64
	FramesRx          uint64
	Notifications     uint64
	NotificationsLost uint64 // Notifications dropped due to full queue
	Timeouts          uint64
	ErrorsTotal       uint64
	LastActivity      time.Time
}

// Notification is a property announcement pushed by a device (INF or INFC).
type Notification struct {
	// Address is the IP address of the sending node.
	Address string

	// Object is the source object of the announcement.
	Object EOJ

	Properties []Property

	Received time.Time
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// pendingRequest is a request waiting for its response.
// A collector (multicast request) accepts any number of replies from any host.
type pendingRequest struct {
	host      string
	collector bool
	replies   chan reply
}

type reply struct {
	host  string
	frame Frame
}

// Client exchanges ECHONET Lite frames over UDP.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Concurrent requests to different devices are matched by TID.
//   - Notifications are delivered one at a time, in arrival order.
type Client struct {
	cfg   Config
	conn  *net.UDPConn
	group *net.UDPAddr

	tid atomic.Uint32

	pendingMu sync.Mutex
	pending   map[uint16]*pendingRequest

	onNotify    func(Notification)
	callbackMu  sync.RWMutex
	notifyQueue chan Notification

	done *closeOnce
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	framesTx          atomic.Uint64
	framesRx          atomic.Uint64
	notifications     atomic.Uint64
	notificationsLost atomic.Uint64
	timeouts          atomic.Uint64
	errorsTotal       atomic.Uint64
	lastActivity      atomic.Int64
}

// Listen binds the UDP socket and starts receiving.
//
// Parameters:
//   - cfg: Socket configuration; zero values take defaults
//
// Returns:
//   - *Client: Client ready for requests
//   - error: If the socket cannot be bound or the group cannot be joined
func Listen(cfg Config) (*Client, error) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = fmt.Sprintf(":%d", DefaultPort)
	}
	if cfg.MulticastGroup == "" {
		cfg.MulticastGroup = DefaultMulticastGroup
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	laddr, err := net.ResolveUDPAddr("udp4", cfg.ListenAddress)
	if err != nil {
		return nil, fmt.Errorf("resolving listen address %q: %w", cfg.ListenAddress, err)
	}
	group := &net.UDPAddr{IP: net.ParseIP(cfg.MulticastGroup), Port: cfg.Port}
	if group.IP == nil {
		return nil, fmt.Errorf("%w: multicast group %q", ErrInvalidAddress, cfg.MulticastGroup)
	}

	var conn *net.UDPConn
	if cfg.DisableMulticast {
		conn, err = net.ListenUDP("udp4", laddr)
	} else {
		var ifi *net.Interface
		if cfg.Interface != "" {
			ifi, err = net.InterfaceByName(cfg.Interface)
			if err != nil {
				return nil, fmt.Errorf("looking up interface %q: %w", cfg.Interface, err)
			}
		}
		conn, err = net.ListenMulticastUDP("udp4", ifi, &net.UDPAddr{IP: group.IP, Port: laddr.Port})
	}
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", cfg.ListenAddress, err)
	}

	return newClient(cfg, conn, group), nil
}

func newClient(cfg Config, conn *net.UDPConn, group *net.UDPAddr) *Client {
	c := &Client{
		cfg:         cfg,
		conn:        conn,
		group:       group,
		pending:     make(map[uint16]*pendingRequest),
		notifyQueue: make(chan Notification, notifyQueueSize),
		done:        newCloseOnce(),
	}
	c.lastActivity.Store(time.Now().Unix())

	// One worker keeps notifications in arrival order.
	c.wg.Add(2)
	go c.notifyWorker()
	go c.receiveLoop()

	return c
}

// LocalAddr returns the bound socket address.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// GetProperty reads a single property.
//
// Returns:
//   - Property: The property with data
//   - error: ErrPropertyUnavailable if the device answered without data,
//     ErrTimeout if it did not answer
func (c *Client) GetProperty(ctx context.Context, address string, object EOJ, epc EPC) (Property, error) {
	props, err := c.GetProperties(ctx, address, object, []EPC{epc})
	if err != nil {
		return Property{}, err
	}
	for _, p := range props {
		if p.EPC == epc && p.HasValue() {
			return p, nil
		}
	}
	return Property{}, fmt.Errorf("%w: %s from %s/%s", ErrPropertyUnavailable, epc, address, object)
}

// GetProperties reads several properties in one Get request.
//
// A Get_SNA answer is not an error: properties the device could not serve are
// returned without data, so callers can tell partial failures apart.
func (c *Client) GetProperties(ctx context.Context, address string, object EOJ, epcs []EPC) ([]Property, error) {
	req := Frame{SEOJ: ControllerObject, DEOJ: object, ESV: ESVGet}
	for _, epc := range epcs {
		req.Properties = append(req.Properties, Property{EPC: epc})
	}

	resp, err := c.request(ctx, address, req)
	if err != nil {
		return nil, err
	}
	switch resp.ESV {
	case ESVGetRes, ESVGetSNA:
		return resp.Properties, nil
	default:
		return nil, fmt.Errorf("%w: unexpected %s answering Get", ErrInvalidFrame, resp.ESV)
	}
}

// SetProperties writes several properties in one SetC request.
//
// Returns:
//   - error: ErrSetRejected naming the refused codes if the device answered
//     SetC_SNA, ErrTimeout if it did not answer
func (c *Client) SetProperties(ctx context.Context, address string, object EOJ, props []Property) error {
	req := Frame{SEOJ: ControllerObject, DEOJ: object, ESV: ESVSetC, Properties: props}

	resp, err := c.request(ctx, address, req)
	if err != nil {
		return err
	}
	switch resp.ESV {
	case ESVSetRes:
		return nil
	case ESVSetCSNA:
		var refused []EPC
		for _, p := range resp.Properties {
			// Accepted properties come back with PDC 0.
			if p.HasValue() {
				refused = append(refused, p.EPC)
			}
		}
		return fmt.Errorf("%w: %v", ErrSetRejected, refused)
	default:
		return fmt.Errorf("%w: unexpected %s answering SetC", ErrInvalidFrame, resp.ESV)
	}
}

// SetOnNotify sets the callback for device notifications.
// Panics in the callback are recovered and logged.
func (c *Client) SetOnNotify(callback func(Notification)) {
	c.callbackMu.Lock()
	c.onNotify = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		FramesTx:          c.framesTx.Load(),
		FramesRx:          c.framesRx.Load(),
		Notifications:     c.notifications.Load(),
		NotificationsLost: c.notificationsLost.Load(),
		Timeouts:          c.timeouts.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
		LastActivity:      time.Unix(c.lastActivity.Load(), 0),
	}
}

// HealthCheck reports whether the socket is still open.
func (c *Client) HealthCheck(_ context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	return nil
}

// Close stops the receive loop and closes the socket.
// Safe to call multiple times.
func (c *Client) Close() error {
	c.done.Close()
	err := c.conn.Close()
	c.wg.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("closing socket: %w", err)
	}
	return nil
}

// request sends a frame to one device and waits for the matching response.
func (c *Client) request(ctx context.Context, address string, req Frame) (Frame, error) {
	if c.isClosed() {
		return Frame{}, ErrClosed
	}

	dst, err := c.resolve(address)
	if err != nil {
		return Frame{}, err
	}

	req.TID = c.nextTID()
	pr := &pendingRequest{host: dst.IP.String(), replies: make(chan reply, 1)}
	c.register(req.TID, pr)
	defer c.unregister(req.TID)

	if err := c.send(dst, req); err != nil {
		return Frame{}, err
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case r := <-pr.replies:
		return r.frame, nil
	case <-timer.C:
		c.timeouts.Add(1)
		return Frame{}, fmt.Errorf("%w: %s to %s/%s after %s", ErrTimeout, req.ESV, address, req.DEOJ, c.cfg.RequestTimeout)
	case <-ctx.Done():
		return Frame{}, fmt.Errorf("%s to %s: %w", req.ESV, address, ctx.Err())
	case <-c.done.Done():
		return Frame{}, ErrClosed
	}
}

// multicast sends a frame to the group and returns a channel of replies that
// stays registered until the returned cancel function is called.
func (c *Client) multicast(req Frame) (<-chan reply, func(), error) {
	if c.isClosed() {
		return nil, nil, ErrClosed
	}

	req.TID = c.nextTID()
	pr := &pendingRequest{collector: true, replies: make(chan reply, collectorQueueSize)}
	c.register(req.TID, pr)
	cancel := func() { c.unregister(req.TID) }

	if err := c.send(c.group, req); err != nil {
		cancel()
		return nil, nil, err
	}
	return pr.replies, cancel, nil
}

func (c *Client) send(dst *net.UDPAddr, f Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	if _, err := c.conn.WriteToUDP(data, dst); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("sending %s to %s: %w", f.ESV, dst, err)
	}
	c.framesTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// Host returns the IP part of "ip" or "ip:port". Notifications carry the bare
// source IP, so addresses are matched on their host.
func Host(address string) string {
	if host, _, err := net.SplitHostPort(address); err == nil {
		return host
	}
	return address
}

// SameHost reports whether two addresses name the same IP, ignoring ports.
func SameHost(a, b string) bool {
	ha, hb := Host(a), Host(b)
	if ipa, ipb := net.ParseIP(ha), net.ParseIP(hb); ipa != nil && ipb != nil {
		return ipa.Equal(ipb)
	}
	return ha == hb
}

// resolve turns "ip" or "ip:port" into a UDP address.
func (c *Client) resolve(address string) (*net.UDPAddr, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		host, portStr = address, strconv.Itoa(c.cfg.Port)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: port in %q", ErrInvalidAddress, address)
	}
	return &net.UDPAddr{IP: ip, Port: port}, nil
}

func (c *Client) nextTID() uint16 {
	return uint16(c.tid.Add(1))
}

func (c *Client) register(tid uint16, pr *pendingRequest) {
	c.pendingMu.Lock()
	c.pending[tid] = pr
	c.pendingMu.Unlock()
}

func (c *Client) unregister(tid uint16) {
	c.pendingMu.Lock()
	delete(c.pending, tid)
	c.pendingMu.Unlock()
}

// receiveLoop reads datagrams until the socket is closed.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		n, src, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if c.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			c.errorsTotal.Add(1)
			c.logError("read failed", err)
			continue
		}

		frame, err := ParseFrame(buf[:n])
		if err != nil {
			c.errorsTotal.Add(1)
			c.logDebug("dropping malformed datagram", "from", src.String(), "error", err)
			continue
		}
		c.framesRx.Add(1)
		c.lastActivity.Store(time.Now().Unix())

		c.dispatch(src, frame)
	}
}

// dispatch routes a received frame to its waiting request or to the
// notification queue.
func (c *Client) dispatch(src *net.UDPAddr, frame Frame) {
	host := src.IP.String()

	switch {
	case frame.ESV.IsResponse():
		c.pendingMu.Lock()
		pr, ok := c.pending[frame.TID]
		c.pendingMu.Unlock()
		if !ok || (!pr.collector && pr.host != host) {
			c.logDebug("dropping unmatched response", "from", host, "tid", frame.TID, "esv", frame.ESV.String())
			return
		}
		select {
		case pr.replies <- reply{host: host, frame: frame}:
		default:
			c.logDebug("dropping surplus response", "from", host, "tid", frame.TID)
		}

	case frame.ESV.IsNotification():
		if frame.ESV == ESVInfC {
			c.acknowledge(src, frame)
		}
		c.queueNotification(Notification{
			Address:    host,
			Object:     frame.SEOJ,
			Properties: frame.Properties,
			Received:   time.Now(),
		})

	default:
		c.logDebug("ignoring request from device", "from", host, "esv", frame.ESV.String())
	}
}

// acknowledge answers an INFC with INFC_Res carrying the codes without data.
func (c *Client) acknowledge(src *net.UDPAddr, infc Frame) {
	ack := Frame{TID: infc.TID, SEOJ: infc.DEOJ, DEOJ: infc.SEOJ, ESV: ESVInfCRes}
	for _, p := range infc.Properties {
		ack.Properties = append(ack.Properties, Property{EPC: p.EPC})
	}
	if err := c.send(src, ack); err != nil {
		c.logError("acknowledging INFC failed", err)
	}
}

func (c *Client) queueNotification(n Notification) {
	c.notifications.Add(1)

	c.callbackMu.RLock()
	hasCallback := c.onNotify != nil
	c.callbackMu.RUnlock()
	if !hasCallback {
		return
	}

	select {
	case c.notifyQueue <- n:
	default:
		c.logError("notification queue full, dropping notification", nil)
		c.notificationsLost.Add(1)
		c.errorsTotal.Add(1)
	}
}

// notifyWorker delivers queued notifications.
func (c *Client) notifyWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		case n := <-c.notifyQueue:
			c.callbackMu.RLock()
			callback := c.onNotify
			c.callbackMu.RUnlock()
			if callback == nil {
				continue
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						c.logError("notification callback panic", fmt.Errorf("%v", r))
					}
				}()
				callback(n)
			}()
		}
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
