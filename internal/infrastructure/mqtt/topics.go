package mqtt

import "strings"

// DefaultTopicPrefix roots every topic when none is configured.
const DefaultTopicPrefix = "heatercooler"

// Topics builds the bridge's MQTT topics under a common prefix.
//
//	topics := mqtt.NewTopics("heatercooler")
//	topics.State("5f0c...")   // heatercooler/state/5f0c...
//	topics.Command("5f0c...") // heatercooler/command/5f0c...
type Topics struct {
	prefix string
}

// NewTopics returns a topic builder rooted at prefix. Surrounding slashes
// are trimmed and an empty prefix selects DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic root.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// State is the retained state topic of one accessory.
func (t Topics) State(accessoryID string) string {
	return t.Prefix() + "/state/" + accessoryID
}

// Command is the topic an accessory's commands arrive on.
func (t Topics) Command(accessoryID string) string {
	return t.Prefix() + "/command/" + accessoryID
}

// Ack is the topic command acknowledgements are published on.
func (t Topics) Ack(accessoryID string) string {
	return t.Prefix() + "/ack/" + accessoryID
}

// Health is the retained bridge health topic, also used for the LWT.
func (t Topics) Health() string {
	return t.Prefix() + "/health"
}

// AllCommands matches the command topic of every accessory.
func (t Topics) AllCommands() string {
	return t.Prefix() + "/command/+"
}

// AllStates matches the state topic of every accessory.
func (t Topics) AllStates() string {
	return t.Prefix() + "/state/+"
}

// AccessoryID returns the last topic level, or "" when topic does not sit
// under kind ("state", "command" or "ack") of this prefix.
func (t Topics) AccessoryID(kind, topic string) string {
	id, ok := strings.CutPrefix(topic, t.Prefix()+"/"+kind+"/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}
