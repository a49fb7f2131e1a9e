package mqtt

import "strings"

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "doorgate"

// Topics builds doorgate topic names under a common prefix.
//
//	topics := mqtt.NewTopics("site-a/doorgate")
//	topics.DoorCommand() // "site-a/doorgate/door/command"
type Topics struct {
	prefix string
}

// NewTopics returns topic builders rooted at prefix. Leading and trailing
// slashes are trimmed; an empty prefix falls back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root of every topic.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// SystemStatus is the retained online/offline topic, also used for the LWT.
//
// Example: doorgate/system/status
func (t Topics) SystemStatus() string {
	return t.Prefix() + "/system/status"
}

// DoorCommand carries the outcome of every command sent to the controller.
//
// Example: doorgate/door/command
func (t Topics) DoorCommand() string {
	return t.Prefix() + "/door/command"
}

// DoorState is the retained last-known door controller state.
//
// Example: doorgate/door/state
func (t Topics) DoorState() string {
	return t.Prefix() + "/door/state"
}

// Access carries access events for one action, lower-cased.
//
// Example: doorgate/access/login
func (t Topics) Access(action string) string {
	return t.Prefix() + "/access/" + strings.ToLower(action)
}

// Lockout carries IP block notifications.
//
// Example: doorgate/security/lockout
func (t Topics) Lockout() string {
	return t.Prefix() + "/security/lockout"
}

// AllTopics matches everything doorgate publishes.
func (t Topics) AllTopics() string {
	return t.Prefix() + "/#"
}
