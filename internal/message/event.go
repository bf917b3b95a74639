package message

import "encoding/json"

// EventType discriminates the three scheduling disciplines a GuppyEvent
// file may describe.
type EventType string

const (
	EventImmediate EventType = "immediate"
	EventOneShot   EventType = "one-shot"
	EventPeriodic  EventType = "periodic"
)

// EventTarget is exactly one of ThreadID or ChannelID, mirroring the JSON
// shape "{threadId} | {channelId}".
type EventTarget struct {
	ThreadID  string `json:"threadId,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
}

// IsThread reports whether the target names a thread directly.
func (t EventTarget) IsThread() bool { return t.ThreadID != "" }

// IsChannel reports whether the target names a channel (post-and-route).
func (t EventTarget) IsChannel() bool { return t.ChannelID != "" }

// GuppyEvent is the parsed shape of one events/*.json file.
type GuppyEvent struct {
	Type     EventType   `json:"type"`
	Text     string      `json:"text"`
	Target   EventTarget `json:"target"`
	At       string      `json:"at,omitempty"`       // one-shot: ISO-8601 datetime
	Schedule string      `json:"schedule,omitempty"` // periodic: cron expression
	Timezone string      `json:"timezone,omitempty"` // one-shot & periodic: IANA zone
}

// Validate checks that the event carries the fields its Type requires and
// exactly one target. It does not validate the schedule/at syntax itself —
// that happens where the zone/cron library is available.
func (e GuppyEvent) Validate() error {
	if e.Text == "" {
		return errEventField("text")
	}
	if e.Target.IsThread() == e.Target.IsChannel() {
		return errEventTarget()
	}
	switch e.Type {
	case EventImmediate:
		return nil
	case EventOneShot:
		if e.At == "" {
			return errEventField("at")
		}
		return nil
	case EventPeriodic:
		if e.Schedule == "" {
			return errEventField("schedule")
		}
		return nil
	default:
		return errEventType(e.Type)
	}
}

func errEventField(name string) error {
	return &EventValidationError{Reason: "missing required field: " + name}
}

func errEventTarget() error {
	return &EventValidationError{Reason: "target must set exactly one of threadId or channelId"}
}

func errEventType(t EventType) error {
	b, _ := json.Marshal(t)
	return &EventValidationError{Reason: "unknown event type: " + string(b)}
}

// EventValidationError reports why a GuppyEvent failed schema validation.
type EventValidationError struct {
	Reason string
}

func (e *EventValidationError) Error() string { return "invalid event: " + e.Reason }
