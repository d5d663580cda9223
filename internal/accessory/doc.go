// Package accessory exposes heater/cooler appliances to the outside world.
//
// Each adapter subscribes to a controller's change notifications and drives
// its controller through the setters, never touching the device directly:
//
//   - HomeKit maps the appliance onto a HAP HeaterCooler service.
//   - MQTTAdapter publishes retained state and accepts commands.
//   - TelemetrySink writes hvac_state points to InfluxDB.
//   - HistoryRecorder keeps a pruned state history in SQLite.
//
// Store caches what discovery learned about each appliance, so the bridge
// can bring known appliances back before discovery finishes.
package accessory
