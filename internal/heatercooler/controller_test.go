package heatercooler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/echonet-heatercooler/internal/echonet"
)

const testAddress = "192.168.1.40"

var testObject = echonet.NewEOJ(0x01, 0x30, 0x01)

var errGateway = errors.New("gateway down")

// fakeGateway records calls and serves properties from a map.
type fakeGateway struct {
	mu       sync.Mutex
	values   map[echonet.EPC][]byte
	getErr   error
	setErr   error
	getCalls int
	sets     [][]echonet.Property
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{values: make(map[echonet.EPC][]byte)}
}

func (g *fakeGateway) GetProperties(_ context.Context, _ string, _ echonet.EOJ, epcs []echonet.EPC) ([]echonet.Property, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls++
	if g.getErr != nil {
		return nil, g.getErr
	}
	props := make([]echonet.Property, 0, len(epcs))
	for _, epc := range epcs {
		props = append(props, echonet.Property{EPC: epc, EDT: g.values[epc]})
	}
	return props, nil
}

func (g *fakeGateway) SetProperties(_ context.Context, _ string, _ echonet.EOJ, props []echonet.Property) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sets = append(g.sets, props)
	return g.setErr
}

func (g *fakeGateway) set(epc echonet.EPC, edt ...byte) {
	g.mu.Lock()
	g.values[epc] = edt
	g.mu.Unlock()
}

func (g *fakeGateway) writes() [][]echonet.Property {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]echonet.Property(nil), g.sets...)
}

func (g *fakeGateway) reads() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getCalls
}

// recordingLogger keeps messages per level.
type recordingLogger struct {
	mu     sync.Mutex
	debugs []string
	errors []string
}

func (l *recordingLogger) Debug(msg string, _ ...any) {
	l.mu.Lock()
	l.debugs = append(l.debugs, msg)
	l.mu.Unlock()
}
func (l *recordingLogger) Info(string, ...any) {}
func (l *recordingLogger) Warn(string, ...any) {}
func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

// updateRecorder collects published updates.
type updateRecorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *updateRecorder) record(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *updateRecorder) all() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

func intPtr(v int) *int { return &v }

func newTestController(t *testing.T, gw Gateway, mutate ...func(*Options)) *Controller {
	t.Helper()
	opts := Options{
		Name:          "living room",
		Address:       testAddress,
		Object:        testObject,
		Gateway:       gw,
		RetryUnit:     time.Millisecond,
		ReadAttempts:  2,
		WriteAttempts: 2,
		WriteDebounce: 20 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(c.Stop)
	return c
}

func notify(c *Controller, epc echonet.EPC, edt ...byte) []Attribute {
	return c.ApplyNotification(testAddress, testObject, []echonet.Property{{EPC: epc, EDT: edt}})
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{Address: testAddress})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = New(Options{Gateway: newFakeGateway()})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = New(Options{Gateway: newFakeGateway(), Address: testAddress, AutoTemperature: "average"})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = New(Options{Gateway: newFakeGateway(), Address: testAddress, RefreshInterval: -time.Minute})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestInitialState(t *testing.T) {
	c := newTestController(t, newFakeGateway())

	assert.False(t, c.Power())
	assert.Equal(t, ModeAuto, c.TargetMode())
	assert.Equal(t, CurrentIdle, c.CurrentMode())
	assert.Equal(t, UnknownTemperature, c.CurrentTemperature())
	assert.Equal(t, DefaultHeatingSetpoint, c.HeatingSetpoint())
	assert.Equal(t, DefaultCoolingSetpoint, c.CoolingSetpoint())
	assert.False(t, c.SwingSupported())
	assert.False(t, c.WriteInFlight())
}

func TestModeDerivation(t *testing.T) {
	tests := []struct {
		wire        int
		wantTarget  TargetMode
		wantCurrent CurrentMode
	}{
		{1, ModeAuto, CurrentIdle},
		{2, ModeCool, CurrentCooling},
		{3, ModeHeat, CurrentHeating},
		{99, ModeAuto, CurrentIdle},
		{0, ModeAuto, CurrentIdle},
		{-1, ModeAuto, CurrentIdle},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("wire %d", tt.wire), func(t *testing.T) {
			assert.Equal(t, tt.wantTarget, ModeFromWire(tt.wire))
			assert.Equal(t, tt.wantCurrent, ModeFromWire(tt.wire).Current())
		})
	}

	assert.Equal(t, 1, ModeAuto.Wire())
	assert.Equal(t, 2, ModeCool.Wire())
	assert.Equal(t, 3, ModeHeat.Wire())
}

func TestModeDerivationFromNotification(t *testing.T) {
	c := newTestController(t, newFakeGateway())

	notify(c, echonet.EPCOperationMode, 0x42)
	assert.Equal(t, ModeCool, c.TargetMode())
	assert.Equal(t, CurrentCooling, c.CurrentMode())

	notify(c, echonet.EPCOperationMode, 0x43)
	assert.Equal(t, ModeHeat, c.TargetMode())
	assert.Equal(t, CurrentHeating, c.CurrentMode())

	// Dry (0x44) has no lane and falls back to AUTO.
	notify(c, echonet.EPCOperationMode, 0x44)
	assert.Equal(t, ModeAuto, c.TargetMode())
	assert.Equal(t, CurrentIdle, c.CurrentMode())
}

func TestParseTargetMode(t *testing.T) {
	for _, m := range []TargetMode{ModeAuto, ModeHeat, ModeCool} {
		got, err := ParseTargetMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseTargetMode("dry")
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestSetpointBootstrap(t *testing.T) {
	c := newTestController(t, newFakeGateway())
	notify(c, echonet.EPCOperationMode, 0x42)

	notify(c, echonet.EPCTargetTemperature, 24)
	s := c.Snapshot()
	assert.Equal(t, intPtr(24), s.HeatingSetpoint)
	assert.Equal(t, intPtr(24), s.CoolingSetpoint)

	notify(c, echonet.EPCTargetTemperature, 26)
	s = c.Snapshot()
	assert.Equal(t, intPtr(24), s.HeatingSetpoint)
	assert.Equal(t, intPtr(26), s.CoolingSetpoint)
}

func TestSetpointBootstrapInAuto(t *testing.T) {
	c := newTestController(t, newFakeGateway())

	notify(c, echonet.EPCTargetTemperature, 22)
	s := c.Snapshot()
	assert.Equal(t, intPtr(22), s.HeatingSetpoint)
	assert.Equal(t, intPtr(22), s.CoolingSetpoint)
}

func TestSetpointHeatLaneOnly(t *testing.T) {
	c := newTestController(t, newFakeGateway())
	c.state.TargetMode = ModeHeat
	c.state.HeatingSetpoint = intPtr(20)
	c.state.CoolingSetpoint = intPtr(25)

	notify(c, echonet.EPCTargetTemperature, 21)
	s := c.Snapshot()
	assert.Equal(t, intPtr(21), s.HeatingSetpoint)
	assert.Equal(t, intPtr(25), s.CoolingSetpoint)
}

func TestNullTargetTemperatureIgnored(t *testing.T) {
	c := newTestController(t, newFakeGateway())
	c.state.HeatingSetpoint = intPtr(20)
	c.state.CoolingSetpoint = intPtr(24)

	changed := notify(c, echonet.EPCTargetTemperature, 0xFD)
	assert.Empty(t, changed)
	s := c.Snapshot()
	assert.Equal(t, intPtr(20), s.HeatingSetpoint)
	assert.Equal(t, intPtr(24), s.CoolingSetpoint)
}

func TestAutoSplit(t *testing.T) {
	tests := []struct {
		name      string
		reported  byte
		wantHeat  int
		wantCool  int
		wantEvent bool
	}{
		{"above band", 26, 25, 27, true},
		{"below band", 18, 17, 19, true},
		{"inside band", 22, 20, 24, false},
		{"on lower edge", 20, 20, 24, false},
		{"on upper edge", 24, 20, 24, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController(t, newFakeGateway())
			c.state.HeatingSetpoint = intPtr(20)
			c.state.CoolingSetpoint = intPtr(24)

			changed := notify(c, echonet.EPCTargetTemperature, tt.reported)
			s := c.Snapshot()
			assert.Equal(t, intPtr(tt.wantHeat), s.HeatingSetpoint)
			assert.Equal(t, intPtr(tt.wantCool), s.CoolingSetpoint)
			assert.Equal(t, tt.wantEvent, len(changed) > 0)
		})
	}
}

func TestAutoNormalizationIdempotent(t *testing.T) {
	c := newTestController(t, newFakeGateway())
	c.state.HeatingSetpoint = intPtr(20)
	c.state.CoolingSetpoint = intPtr(24)

	for range 2 {
		changed := notify(c, echonet.EPCTargetTemperature, 22)
		assert.Empty(t, changed)
		s := c.Snapshot()
		assert.Equal(t, intPtr(20), s.HeatingSetpoint)
		assert.Equal(t, intPtr(24), s.CoolingSetpoint)
	}

	// Once split, the same out-of-band value lands inside the new band.
	assert.NotEmpty(t, notify(c, echonet.EPCTargetTemperature, 26))
	assert.Empty(t, notify(c, echonet.EPCTargetTemperature, 26))
}

func TestRefreshDoesNotSplitAutoBand(t *testing.T) {
	gw := newFakeGateway()
	gw.set(echonet.EPCOperationStatus, 0x30)
	gw.set(echonet.EPCOperationMode, 0x41)
	gw.set(echonet.EPCTargetTemperature, 26)
	gw.set(echonet.EPCRoomTemperature, 21)

	c := newTestController(t, gw)
	c.state.HeatingSetpoint = intPtr(20)
	c.state.CoolingSetpoint = intPtr(24)

	c.Refresh(context.Background())
	s := c.Snapshot()
	assert.True(t, s.Power)
	assert.Equal(t, 21, s.CurrentTemperature)
	assert.Equal(t, intPtr(20), s.HeatingSetpoint)
	assert.Equal(t, intPtr(24), s.CoolingSetpoint)
}

func TestRefreshAppliesAndPublishesEverything(t *testing.T) {
	gw := newFakeGateway()
	gw.set(echonet.EPCOperationStatus, 0x30)
	gw.set(echonet.EPCOperationMode, 0x43)
	gw.set(echonet.EPCTargetTemperature, 23)
	gw.set(echonet.EPCRoomTemperature, 0xFB) // -5

	c := newTestController(t, gw)
	rec := &updateRecorder{}
	c.OnChange(rec.record)

	c.Refresh(context.Background())

	s := c.Snapshot()
	assert.True(t, s.Power)
	assert.Equal(t, ModeHeat, s.TargetMode)
	assert.Equal(t, CurrentHeating, s.CurrentMode)
	assert.Equal(t, -5, s.CurrentTemperature)
	assert.Equal(t, intPtr(23), s.HeatingSetpoint)
	assert.Equal(t, intPtr(23), s.CoolingSetpoint)

	updates := rec.all()
	require.Len(t, updates, 1)
	assert.Equal(t, "refresh", updates[0].Source)
	assert.Equal(t, testAddress, updates[0].Address)
	for _, attr := range []Attribute{AttrPower, AttrCurrentTemperature, AttrHeatingSetpoint, AttrCoolingSetpoint} {
		assert.True(t, updates[0].Has(attr), "missing %s", attr)
	}
}

func TestRefreshPartialFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.set(echonet.EPCOperationStatus, 0x30)
	gw.set(echonet.EPCRoomTemperature, 0x7E)
	// 0xB0 missing, 0xB3 malformed.
	gw.set(echonet.EPCTargetTemperature, 0x18, 0x00)

	c := newTestController(t, gw)
	c.state.TargetMode = ModeCool
	c.state.CurrentMode = CurrentCooling
	c.state.CurrentTemperature = 19
	c.state.CoolingSetpoint = intPtr(25)

	rec := &updateRecorder{}
	c.OnChange(rec.record)
	c.Refresh(context.Background())

	s := c.Snapshot()
	assert.True(t, s.Power)
	assert.Equal(t, ModeCool, s.TargetMode, "missing mode keeps the cached value")
	assert.Equal(t, intPtr(25), s.CoolingSetpoint, "malformed setpoint keeps the cached value")
	assert.Equal(t, UnknownTemperature, s.CurrentTemperature, "unmeasurable temperature is unknown")
	require.Len(t, rec.all(), 1)
}

func TestRefreshTotalFailurePublishesCache(t *testing.T) {
	gw := newFakeGateway()
	gw.getErr = errGateway
	logger := &recordingLogger{}

	c := newTestController(t, gw, func(o *Options) {
		o.ReadAttempts = 3
		o.Logger = logger
	})
	c.state.Power = true
	rec := &updateRecorder{}
	c.OnChange(rec.record)

	c.Refresh(context.Background())

	assert.Equal(t, 3, gw.reads())
	assert.True(t, c.Power())
	require.Len(t, rec.all(), 1)
	assert.True(t, rec.all()[0].Has(AttrPower))
	assert.Equal(t, 1, logger.errorCount())
}

func TestRefreshReadsSwingWhenSupported(t *testing.T) {
	gw := newFakeGateway()
	gw.set(echonet.EPCAirFlowSwing, 0x42)

	c := newTestController(t, gw, func(o *Options) { o.SwingSupported = true })
	c.Refresh(context.Background())
	assert.True(t, c.Swing())
}

func TestRefreshDuringPendingWriteKeepsIntent(t *testing.T) {
	gw := newFakeGateway()
	gw.set(echonet.EPCOperationStatus, 0x31)
	gw.set(echonet.EPCOperationMode, 0x41)

	c := newTestController(t, gw)
	rec := &updateRecorder{}
	c.OnChange(rec.record)

	c.SetPower(true)
	c.SetTargetMode(ModeCool)
	require.True(t, c.WriteInFlight())

	c.Refresh(context.Background())

	assert.Zero(t, gw.reads(), "device is not read while a write is pending")
	assert.True(t, c.Power())
	assert.Equal(t, ModeCool, c.TargetMode())
	updates := rec.all()
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.Equal(t, "refresh", last.Source)
	assert.True(t, last.State.Power)

	require.Eventually(t, func() bool { return len(gw.writes()) == 1 && !c.WriteInFlight() },
		time.Second, 5*time.Millisecond)
	write := gw.writes()[0]
	assert.Equal(t, echonet.Property{EPC: echonet.EPCOperationStatus, EDT: []byte{0x30}}, write[0])
	assert.Equal(t, echonet.Property{EPC: echonet.EPCOperationMode, EDT: []byte{0x42}}, write[1])
}

// slowReadGateway holds every read until released.
type slowReadGateway struct {
	*fakeGateway
	reading chan struct{}
	release chan struct{}
}

func (g *slowReadGateway) GetProperties(ctx context.Context, address string, object echonet.EOJ, epcs []echonet.EPC) ([]echonet.Property, error) {
	g.reading <- struct{}{}
	<-g.release
	return g.fakeGateway.GetProperties(ctx, address, object, epcs)
}

func TestRefreshOvertakenByLocalChange(t *testing.T) {
	gw := &slowReadGateway{
		fakeGateway: newFakeGateway(),
		reading:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	gw.set(echonet.EPCOperationStatus, 0x31)
	gw.set(echonet.EPCOperationMode, 0x41)
	logger := &recordingLogger{}
	c := newTestController(t, gw, func(o *Options) { o.Logger = logger })

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Refresh(context.Background())
	}()

	<-gw.reading
	c.SetPower(true)
	c.SetTargetMode(ModeHeat)
	require.Eventually(t, func() bool { return len(gw.writes()) == 1 && !c.WriteInFlight() },
		time.Second, 5*time.Millisecond)
	close(gw.release)
	<-done

	assert.True(t, c.Power(), "values read before the change are discarded")
	assert.Equal(t, ModeHeat, c.TargetMode())

	logger.mu.Lock()
	defer logger.mu.Unlock()
	assert.Contains(t, logger.debugs, "local change during refresh, discarding read")
}

func TestApplyNotificationFiltering(t *testing.T) {
	c := newTestController(t, newFakeGateway())
	rec := &updateRecorder{}
	c.OnChange(rec.record)

	changed := c.ApplyNotification("192.168.1.99", testObject,
		[]echonet.Property{{EPC: echonet.EPCOperationStatus, EDT: []byte{0x30}}})
	assert.Nil(t, changed)

	changed = c.ApplyNotification(testAddress, echonet.NewEOJ(0x01, 0x30, 0x02),
		[]echonet.Property{{EPC: echonet.EPCOperationStatus, EDT: []byte{0x30}}})
	assert.Nil(t, changed)

	changed = c.ApplyNotification(testAddress, testObject,
		[]echonet.Property{{EPC: 0xF3, EDT: []byte{0x01}}})
	assert.Empty(t, changed)

	assert.False(t, c.Power())
	assert.Empty(t, rec.all())
}

func TestRelocate(t *testing.T) {
	c := newTestController(t, newFakeGateway())
	power := []echonet.Property{{EPC: echonet.EPCOperationStatus, EDT: []byte{0x30}}}

	c.Relocate("192.168.1.99")
	assert.Equal(t, "192.168.1.99", c.Address())

	assert.Nil(t, c.ApplyNotification(testAddress, testObject, power), "old address is ignored")
	assert.NotEmpty(t, c.ApplyNotification("192.168.1.99", testObject, power))

	c.Relocate("")
	assert.Equal(t, "192.168.1.99", c.Address())
}

func TestNotificationMatchesHostOfAddressWithPort(t *testing.T) {
	c := newTestController(t, newFakeGateway(), func(o *Options) { o.Address = "192.168.1.40:3611" })
	power := []echonet.Property{{EPC: echonet.EPCOperationStatus, EDT: []byte{0x30}}}

	assert.Nil(t, c.ApplyNotification("192.168.1.41", testObject, power))
	assert.Equal(t, []Attribute{AttrPower}, c.ApplyNotification("192.168.1.40", testObject, power))
	assert.True(t, c.Power())

	c.Relocate("192.168.1.40")
	assert.Equal(t, "192.168.1.40:3611", c.Address(), "same host keeps the configured port")
}

func TestApplyNotificationPublishesOnlyChanges(t *testing.T) {
	c := newTestController(t, newFakeGateway())
	rec := &updateRecorder{}
	c.OnChange(rec.record)

	changed := c.ApplyNotification(testAddress, echonet.EOJ{}, []echonet.Property{
		{EPC: echonet.EPCOperationStatus, EDT: []byte{0x30}},
		{EPC: echonet.EPCRoomTemperature, EDT: []byte{0x15}},
	})
	assert.ElementsMatch(t, []Attribute{AttrPower, AttrCurrentTemperature}, changed)

	// Duplicate delivery changes nothing and publishes nothing.
	changed = c.ApplyNotification(testAddress, testObject, []echonet.Property{
		{EPC: echonet.EPCOperationStatus, EDT: []byte{0x30}},
		{EPC: echonet.EPCRoomTemperature, EDT: []byte{0x15}},
	})
	assert.Empty(t, changed)

	updates := rec.all()
	require.Len(t, updates, 1)
	assert.Equal(t, "notify", updates[0].Source)
	assert.Equal(t, 21, updates[0].State.CurrentTemperature)
}

func TestSerializeWriteSet(t *testing.T) {
	tests := []struct {
		name   string
		state  State
		policy AutoTemperature
		want   []echonet.Property
	}{
		{
			name:  "off writes power only",
			state: State{Power: false, TargetMode: ModeCool, CoolingSetpoint: intPtr(25)},
			want:  []echonet.Property{{EPC: 0x80, EDT: []byte{0x31}}},
		},
		{
			name:  "cool writes lane setpoint",
			state: State{Power: true, TargetMode: ModeCool, CoolingSetpoint: intPtr(25), HeatingSetpoint: intPtr(20)},
			want: []echonet.Property{
				{EPC: 0x80, EDT: []byte{0x30}},
				{EPC: 0xB0, EDT: []byte{0x42}},
				{EPC: 0xB3, EDT: []byte{25}},
			},
		},
		{
			name:  "heat writes lane setpoint",
			state: State{Power: true, TargetMode: ModeHeat, CoolingSetpoint: intPtr(25), HeatingSetpoint: intPtr(20)},
			want: []echonet.Property{
				{EPC: 0x80, EDT: []byte{0x30}},
				{EPC: 0xB0, EDT: []byte{0x43}},
				{EPC: 0xB3, EDT: []byte{20}},
			},
		},
		{
			name:  "unknown lane omits setpoint",
			state: State{Power: true, TargetMode: ModeHeat},
			want: []echonet.Property{
				{EPC: 0x80, EDT: []byte{0x30}},
				{EPC: 0xB0, EDT: []byte{0x43}},
			},
		},
		{
			name:  "auto writes band midpoint",
			state: State{Power: true, TargetMode: ModeAuto, HeatingSetpoint: intPtr(20), CoolingSetpoint: intPtr(25)},
			want: []echonet.Property{
				{EPC: 0x80, EDT: []byte{0x30}},
				{EPC: 0xB0, EDT: []byte{0x41}},
				{EPC: 0xB3, EDT: []byte{22}},
			},
		},
		{
			name:  "auto midpoint floors an inverted band",
			state: State{Power: true, TargetMode: ModeAuto, HeatingSetpoint: intPtr(25), CoolingSetpoint: intPtr(20)},
			want: []echonet.Property{
				{EPC: 0x80, EDT: []byte{0x30}},
				{EPC: 0xB0, EDT: []byte{0x41}},
				{EPC: 0xB3, EDT: []byte{22}},
			},
		},
		{
			name:   "auto omit policy",
			state:  State{Power: true, TargetMode: ModeAuto, HeatingSetpoint: intPtr(20), CoolingSetpoint: intPtr(25)},
			policy: AutoTemperatureOmit,
			want: []echonet.Property{
				{EPC: 0x80, EDT: []byte{0x30}},
				{EPC: 0xB0, EDT: []byte{0x41}},
			},
		},
		{
			name:  "auto without band omits setpoint",
			state: State{Power: true, TargetMode: ModeAuto, HeatingSetpoint: intPtr(20)},
			want: []echonet.Property{
				{EPC: 0x80, EDT: []byte{0x30}},
				{EPC: 0xB0, EDT: []byte{0x41}},
			},
		},
		{
			name:  "swing follows when supported",
			state: State{Power: true, TargetMode: ModeCool, CoolingSetpoint: intPtr(26), SwingSupported: true, Swing: true},
			want: []echonet.Property{
				{EPC: 0x80, EDT: []byte{0x30}},
				{EPC: 0xB0, EDT: []byte{0x42}},
				{EPC: 0xB3, EDT: []byte{26}},
				{EPC: 0xA3, EDT: []byte{0x41}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController(t, newFakeGateway(), func(o *Options) { o.AutoTemperature = tt.policy })
			c.state = tt.state
			assert.Equal(t, tt.want, c.SerializeWriteSet())
		})
	}
}

func TestSetPowerRoundTrip(t *testing.T) {
	gw := newFakeGateway()
	c := newTestController(t, gw)
	c.SetTargetMode(ModeCool)
	c.SetCoolingSetpoint(25)
	c.SetPower(true)

	assert.True(t, c.WriteInFlight())
	require.Eventually(t, func() bool { return len(gw.writes()) == 1 && !c.WriteInFlight() },
		time.Second, 5*time.Millisecond)

	assert.Equal(t, []echonet.Property{
		{EPC: echonet.EPCOperationStatus, EDT: []byte{0x30}},
		{EPC: echonet.EPCOperationMode, EDT: []byte{0x42}},
		{EPC: echonet.EPCTargetTemperature, EDT: []byte{25}},
	}, gw.writes()[0])
}

func TestSetPowerUnchangedDoesNotWrite(t *testing.T) {
	gw := newFakeGateway()
	c := newTestController(t, gw)
	rec := &updateRecorder{}
	c.OnChange(rec.record)

	c.SetPower(false)
	assert.False(t, c.WriteInFlight())
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, gw.writes())
	assert.Empty(t, rec.all())
}

func TestUnchangedSetsDoNotWrite(t *testing.T) {
	gw := newFakeGateway()
	c := newTestController(t, gw, func(o *Options) { o.SwingSupported = true })
	notify(c, echonet.EPCTargetTemperature, 22)
	rec := &updateRecorder{}
	c.OnChange(rec.record)

	c.SetTargetMode(ModeAuto)
	c.SetHeatingSetpoint(22)
	c.SetCoolingSetpoint(22)
	c.SetSwing(false)

	assert.False(t, c.WriteInFlight())
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, gw.writes())
	assert.Empty(t, rec.all())
}

func TestSetTargetModeIsImmediate(t *testing.T) {
	c := newTestController(t, newFakeGateway())
	rec := &updateRecorder{}
	c.OnChange(rec.record)

	c.SetTargetMode(ModeHeat)

	assert.Equal(t, ModeHeat, c.TargetMode())
	assert.Equal(t, CurrentHeating, c.CurrentMode())
	updates := rec.all()
	require.Len(t, updates, 1)
	assert.Equal(t, "set", updates[0].Source)
	assert.ElementsMatch(t, []Attribute{AttrTargetMode, AttrCurrentMode}, updates[0].Attributes)
}

func TestSetSwing(t *testing.T) {
	gw := newFakeGateway()
	c := newTestController(t, gw)
	c.SetSwing(true)
	assert.False(t, c.Swing())
	assert.False(t, c.WriteInFlight())

	gw2 := newFakeGateway()
	c2 := newTestController(t, gw2, func(o *Options) { o.SwingSupported = true })
	c2.SetSwing(true)
	assert.True(t, c2.Swing())
	require.Eventually(t, func() bool { return len(gw2.writes()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestWriteFailureKeepsOptimisticState(t *testing.T) {
	gw := newFakeGateway()
	gw.setErr = errGateway
	logger := &recordingLogger{}

	c := newTestController(t, gw, func(o *Options) {
		o.WriteAttempts = 3
		o.Logger = logger
	})
	c.SetPower(true)
	c.SetHeatingSetpoint(21)

	require.Eventually(t, func() bool { return len(gw.writes()) == 3 && !c.WriteInFlight() },
		time.Second, 5*time.Millisecond)
	assert.True(t, c.Power())
	assert.Equal(t, 21, c.HeatingSetpoint())
	assert.Equal(t, 1, logger.errorCount())
}

func TestBurstOfSetsIsOneWrite(t *testing.T) {
	gw := newFakeGateway()
	c := newTestController(t, gw, func(o *Options) { o.WriteDebounce = 50 * time.Millisecond })

	c.SetPower(true)
	c.SetTargetMode(ModeHeat)
	c.SetHeatingSetpoint(22)
	c.SetCoolingSetpoint(26)

	require.Eventually(t, func() bool { return !c.WriteInFlight() }, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)

	writes := gw.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, []byte{22}, writes[0][2].EDT)
}

func TestStartRefreshesAndStopIsIdempotent(t *testing.T) {
	gw := newFakeGateway()
	gw.set(echonet.EPCOperationStatus, 0x30)

	c := newTestController(t, gw, func(o *Options) { o.RefreshInterval = 20 * time.Millisecond })
	c.Start(context.Background())

	require.Eventually(t, func() bool { return gw.reads() >= 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, c.Power())

	c.Stop()
	c.Stop()
	reads := gw.reads()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, reads, gw.reads(), "no polling after Stop")
}

func TestStartStopsWithContext(t *testing.T) {
	gw := newFakeGateway()
	c := newTestController(t, gw, func(o *Options) { o.RefreshInterval = 10 * time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	require.Eventually(t, func() bool { return gw.reads() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()

	require.Eventually(t, func() bool {
		before := gw.reads()
		time.Sleep(30 * time.Millisecond)
		return gw.reads() == before
	}, time.Second, time.Millisecond)
}

func TestListenerPanicRecovered(t *testing.T) {
	c := newTestController(t, newFakeGateway())
	rec := &updateRecorder{}
	c.OnChange(func(Update) { panic("boom") })
	c.OnChange(rec.record)

	notify(c, echonet.EPCOperationStatus, 0x30)
	assert.Len(t, rec.all(), 1)
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, 2, floorDiv(5, 2))
	assert.Equal(t, -3, floorDiv(-5, 2))
	assert.Equal(t, 0, floorDiv(0, 2))
	assert.Equal(t, -2, floorDiv(-4, 2))
}
