package accessory

import (
	"time"

	"github.com/nerrad567/echonet-heatercooler/internal/heatercooler"
)

// MeasurementHVACState is the InfluxDB measurement written per update.
const MeasurementHVACState = "hvac_state"

// PointWriter queues time-series points. *influxdb.Client satisfies it.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time)
}

// TelemetrySink writes an hvac_state point for every appliance update.
// The influx write API batches in the background, so points are written
// straight from the change listener.
type TelemetrySink struct {
	writer PointWriter
	now    func() time.Time
}

// NewTelemetrySink creates a sink on writer.
func NewTelemetrySink(writer PointWriter) *TelemetrySink {
	return &TelemetrySink{writer: writer, now: time.Now}
}

// Attach writes the appliance's current state and every later change.
func (t *TelemetrySink) Attach(id string, app Appliance) {
	name := app.Name()
	t.write(id, name, app.Snapshot(), "attach")
	app.OnChange(func(u heatercooler.Update) {
		t.write(id, name, u.State, u.Source)
	})
}

func (t *TelemetrySink) write(id, name string, s heatercooler.State, source string) {
	tags := map[string]string{
		"accessory_id": id,
		"name":         name,
		"source":       source,
	}
	fields := map[string]any{
		"power":             s.Power,
		"target_mode":       s.TargetMode.String(),
		"current_mode":      s.CurrentMode.String(),
		"heating_threshold": s.HeatingOrDefault(),
		"cooling_threshold": s.CoolingOrDefault(),
	}
	if s.CurrentTemperature != heatercooler.UnknownTemperature {
		fields["current_temperature"] = s.CurrentTemperature
	}
	if s.SwingSupported {
		fields["swing"] = s.Swing
	}
	t.writer.WritePoint(MeasurementHVACState, tags, fields, t.now())
}
