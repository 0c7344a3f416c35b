package mqtt

import "strings"

// defaultTopicPrefix roots every topic this service publishes.
const defaultTopicPrefix = "bacore"

// Topics builds the topic hierarchy under the configured prefix.
//
// Layout:
//
//	<prefix>/system/status          retained gateway online/offline state
//	<prefix>/event/alert/new        new alert raised
//	<prefix>/event/alert/updated    alert escalated or transitioned
//	<prefix>/event/alert/count      unresolved alert count
//	<prefix>/event/device/status    device connectivity change
type Topics struct {
	prefix string
}

// NewTopics returns a Topics rooted at prefix. Empty uses the default.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = defaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// SystemStatus is the retained gateway status topic.
func (t Topics) SystemStatus() string {
	return t.prefix + "/system/status"
}

// Event maps an internal notification event name to its topic.
// Event names use ":" separators ("alert:new"); topics use "/".
func (t Topics) Event(event string) string {
	return t.prefix + "/event/" + strings.ReplaceAll(event, ":", "/")
}
