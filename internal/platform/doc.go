// Package platform discovers ECHONET Lite air conditioners and runs one
// heatercooler.Controller per appliance.
//
// Start restores the appliances cached in the accessory store, then runs
// static probes and a multicast discovery window in the background. Each
// appliance found is stored, given a controller, and attached to every
// adapter (MQTT, telemetry, history) and to the HomeKit bridge while it is
// not yet serving.
//
// Device notifications are routed to every controller; each controller
// keeps only those from its own address and object.
//
// An invalid platform section does not stop the process. The platform logs
// one error and stays inert: no discovery, no polling, no appliances.
package platform
