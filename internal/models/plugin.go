package models

import "time"

// HealthState is the registry-owned health of a loaded plugin.
// Adapters report via HealthCheck; the registry also transitions state on
// observed routing failures.
type HealthState string

const (
	HealthHealthy   HealthState = "HEALTHY"
	HealthDegraded  HealthState = "DEGRADED"
	HealthUnhealthy HealthState = "UNHEALTHY"
	HealthStopped   HealthState = "STOPPED"
)

// ResponseType is the closed set of outbound response renderings.
type ResponseType string

const (
	ResponseMessage   ResponseType = "message"
	ResponseEphemeral ResponseType = "ephemeral"
	ResponseModal     ResponseType = "modal"
	ResponseInChannel ResponseType = "in_channel"
	ResponseError     ResponseType = "error"
)

// EventType is the closed set of core events published for plugins.
type EventType string

const (
	EventPlanGenerated   EventType = "plan_generated"
	EventTaskBlocked     EventType = "task_blocked"
	EventApprovalTimeout EventType = "approval_timeout"
	EventPlanApproved    EventType = "plan_approved"
	EventPlanRejected    EventType = "plan_rejected"
	EventTaskCompleted   EventType = "task_completed"
)

// PluginConfig is handed to an adapter at construction and is immutable for
// the life of the instance.
type PluginConfig struct {
	PluginName    string         `json:"plugin_name"`
	PluginVersion string         `json:"plugin_version"`
	Enabled       bool           `json:"enabled"`
	Config        map[string]any `json:"config"`
}

// ConfigValue returns the string form of a config key, or def when absent.
func (c PluginConfig) ConfigValue(key, def string) string {
	if v, ok := c.Config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Message is the channel-agnostic inbound message. ChannelID is the
// workspace-scope identifier; platform-specific ids travel in Metadata.
type Message struct {
	ChannelID  string            `json:"channel_id"`
	UserID     string            `json:"user_id"`
	Content    string            `json:"content"`
	Command    string            `json:"command,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ThreadID   string            `json:"thread_id,omitempty"`
}

// Action is an interactive button attached to a Response.
// Style is "primary", "danger", or empty for default.
type Action struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Style string `json:"style,omitempty"`
}

// Attachment is a titled text block appended to a Response.
type Attachment struct {
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
}

// Response is the channel-agnostic outbound payload. Adapters translate it
// to the platform's own representation.
type Response struct {
	Content     string            `json:"content"`
	Type        ResponseType      `json:"response_type"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Actions     []Action          `json:"actions,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ErrorResponse builds an error-typed Response with the given user-facing text.
func ErrorResponse(content string) Response {
	return Response{Content: content, Type: ResponseError}
}

// EphemeralResponse builds an ephemeral Response visible only to the caller.
func EphemeralResponse(content string) Response {
	return Response{Content: content, Type: ResponseEphemeral}
}

// Event is a core → plugins notification.
type Event struct {
	Type      EventType      `json:"event_type"`
	Data      map[string]any `json:"event_data"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
}
