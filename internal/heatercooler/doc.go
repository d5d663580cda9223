// Package heatercooler keeps the local view of one air conditioner consistent
// with the device.
//
// A Controller owns the reconciled state of one appliance. Reads come from
// its cache and never block. Writes update the cache optimistically and are
// coalesced into a single SetC batch once the caller goes quiet. Device
// notifications and a periodic refresh fold device-reported values back into
// the cache through one normalization path.
//
// The mode and setpoint coupling works as follows:
//   - The target mode is AUTO, HEAT or COOL; the current mode follows it
//     (IDLE, HEATING, COOLING) and is never set on its own.
//   - HEAT and COOL each remember a setpoint. The device reports only one
//     target temperature, which is folded into the lane of the active mode.
//   - In AUTO the device temperature is kept inside the [heat, cool] band,
//     and written back as the band's midpoint.
package heatercooler
