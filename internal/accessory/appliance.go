package accessory

import (
	"context"

	"github.com/google/uuid"

	"github.com/nerrad567/echonet-heatercooler/internal/echonet"
	"github.com/nerrad567/echonet-heatercooler/internal/heatercooler"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Appliance is the controller surface the adapters drive.
// *heatercooler.Controller satisfies it.
type Appliance interface {
	Name() string
	Snapshot() heatercooler.State
	OnChange(listener func(heatercooler.Update))
	Refresh(ctx context.Context)

	SetPower(on bool)
	SetTargetMode(mode heatercooler.TargetMode)
	SetHeatingSetpoint(celsius int)
	SetCoolingSetpoint(celsius int)
	SetSwing(on bool)
}

// idNamespace scopes accessory IDs so they never collide with other
// name-based UUIDs.
var idNamespace = uuid.MustParse("0e7f1c52-3a4b-5d6e-8f90-a1b2c3d4e5f6")

// NewID derives the stable accessory ID of an appliance object.
//
// The serial number identifies the unit across address changes. Without
// one, the address and object instance are used, so a DHCP change then
// produces a new accessory.
func NewID(serial, address string, object echonet.EOJ) string {
	name := "serial:" + serial
	if serial == "" {
		name = "address:" + address + "/" + object.String()
	}
	return uuid.NewSHA1(idNamespace, []byte(name)).String()
}
