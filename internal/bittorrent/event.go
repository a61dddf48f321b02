package bittorrent

import "fmt"

// Event is the announce event reported by a client.
type Event uint8

const (
	EventNone Event = iota // regular update
	EventStarted
	EventStopped
	EventCompleted
)

// ParseEvent maps the value of the announce "event" query parameter.
func ParseEvent(s string) (Event, error) {
	switch s {
	case "", "empty":
		return EventNone, nil
	case "started":
		return EventStarted, nil
	case "stopped":
		return EventStopped, nil
	case "completed":
		return EventCompleted, nil
	default:
		return EventNone, fmt.Errorf("unknown event %q", s)
	}
}

func (e Event) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventCompleted:
		return "completed"
	default:
		return "none"
	}
}
