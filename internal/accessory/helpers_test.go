package accessory

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/echonet-heatercooler/internal/heatercooler"
	"github.com/nerrad567/echonet-heatercooler/internal/infrastructure/config"
	"github.com/nerrad567/echonet-heatercooler/internal/infrastructure/database"
	_ "github.com/nerrad567/echonet-heatercooler/migrations"
)

// fakeAppliance mimics a controller: setters change the state at once and
// notify listeners with Source "set".
type fakeAppliance struct {
	mu        sync.Mutex
	name      string
	state     heatercooler.State
	listeners []func(heatercooler.Update)
	calls     []string
	refreshes int
}

func newFakeAppliance(name string, swing bool) *fakeAppliance {
	return &fakeAppliance{
		name: name,
		state: heatercooler.State{
			CurrentTemperature: heatercooler.UnknownTemperature,
			SwingSupported:     swing,
		},
	}
}

func (f *fakeAppliance) Name() string { return f.name }

func (f *fakeAppliance) Snapshot() heatercooler.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeAppliance) OnChange(listener func(heatercooler.Update)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, listener)
}

func (f *fakeAppliance) Refresh(context.Context) {
	f.mu.Lock()
	f.refreshes++
	f.mu.Unlock()
	f.emit("refresh", func(*heatercooler.State) {})
}

func (f *fakeAppliance) SetPower(on bool) {
	f.emit(fmt.Sprintf("power=%v", on), func(s *heatercooler.State) { s.Power = on })
}

func (f *fakeAppliance) SetTargetMode(mode heatercooler.TargetMode) {
	f.emit("mode="+mode.String(), func(s *heatercooler.State) {
		s.TargetMode = mode
		s.CurrentMode = mode.Current()
	})
}

func (f *fakeAppliance) SetHeatingSetpoint(celsius int) {
	f.emit(fmt.Sprintf("heating=%d", celsius), func(s *heatercooler.State) { s.HeatingSetpoint = &celsius })
}

func (f *fakeAppliance) SetCoolingSetpoint(celsius int) {
	f.emit(fmt.Sprintf("cooling=%d", celsius), func(s *heatercooler.State) { s.CoolingSetpoint = &celsius })
}

func (f *fakeAppliance) SetSwing(on bool) {
	f.emit(fmt.Sprintf("swing=%v", on), func(s *heatercooler.State) { s.Swing = on })
}

// update changes the state as a device notification would.
func (f *fakeAppliance) update(mutate func(*heatercooler.State)) {
	f.emit("", mutate)
}

func (f *fakeAppliance) emit(call string, mutate func(*heatercooler.State)) {
	f.mu.Lock()
	source := "notify"
	switch {
	case call == "refresh":
		source = "refresh"
	case call != "":
		source = "set"
		f.calls = append(f.calls, call)
	}
	mutate(&f.state)
	u := heatercooler.Update{State: f.state, Source: source}
	listeners := slices.Clone(f.listeners)
	f.mu.Unlock()

	for _, l := range listeners {
		l(u)
	}
}

func (f *fakeAppliance) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAppliance) Refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

// recordingLogger counts warnings and errors.
type recordingLogger struct {
	mu     sync.Mutex
	warns  []string
	errors []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warns...)
}

func (l *recordingLogger) Errors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errors...)
}

// openTestDB opens a migrated database in a temp directory.
func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "accessory.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func intPtr(v int) *int { return &v }
