// Package api implements the HTTP status and control API of the bridge.
//
// Routes, all under /api/v1:
//   - GET   /health                       platform state and component checks
//   - GET   /appliances                   every managed appliance
//   - GET   /appliances/{id}              one appliance
//   - PATCH /appliances/{id}              partial change (power, mode, thresholds, swing)
//   - POST  /appliances/{id}/refresh      full read of the appliance
//   - GET   /appliances/{id}/history      recorded states, newest first
//
// A PATCH is answered 202 with the optimistic state; the write to the
// appliance happens on its own queue. The API has no authentication and is
// meant for the local network.
package api
