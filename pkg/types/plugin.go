package types

import "time"

// Plugin is a registered enrichment capability (OCR, captioning, embedding)
// bound to zero or more libraries. Names are unique case-insensitively.
type Plugin struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	WebhookURL string `json:"webhook_url"`
}

// NewPlugin carries the fields required to register a plugin.
type NewPlugin struct {
	Name       string
	WebhookURL string
}

// PluginStatus is the idempotent completion marker for an (entity, plugin)
// pair. Recording completion twice is harmless; ProcessedAt reflects the
// latest recording.
type PluginStatus struct {
	EntityID    int64     `json:"entity_id"`
	PluginID    int64     `json:"plugin_id"`
	ProcessedAt time.Time `json:"processed_at"`
}
