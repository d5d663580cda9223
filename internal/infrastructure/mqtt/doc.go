// Package mqtt connects the bridge to an MQTT broker.
//
// Every accessory gets three topics under the configured prefix:
//
//	<prefix>/state/<accessory-id>    retained JSON snapshot
//	<prefix>/command/<accessory-id>  inbound commands
//	<prefix>/ack/<accessory-id>      command acknowledgements
//
// The bridge's own status is retained on <prefix>/health. The broker
// publishes an offline status there through the Last Will if the process
// dies without disconnecting.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().State(accessoryID)
//	err = client.PublishRetained(topic, payload)
package mqtt
