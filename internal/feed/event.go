package feed

import "time"

type EventType string

const (
	EventConnected   EventType = "connection_established"
	EventInitialFeed EventType = "initial_feed"
	EventThreatAlert EventType = "threat_alert"
	EventScan        EventType = "scan_complete"
	EventHeartbeat   EventType = "heartbeat"
	EventStats       EventType = "stats_update"
)

// Event is the wire form sent to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp string    `json:"timestamp"`
	Data      any       `json:"data"`
}

func newEvent(t EventType, at time.Time, data any) Event {
	return Event{Type: t, Timestamp: at.UTC().Format(time.RFC3339Nano), Data: data}
}

// ConnectedData is the payload of connection_established.
type ConnectedData struct {
	SubscriberID string `json:"subscriber_id"`
	Message      string `json:"message"`
	FeedSize     int    `json:"feed_size"`
}

// InitialFeedData is the payload of initial_feed.
type InitialFeedData struct {
	Threats []Entry `json:"threats"`
	Stats   Stats   `json:"stats"`
}

// HeartbeatData is the payload of heartbeat.
type HeartbeatData struct {
	Subscribers int `json:"subscribers"`
}
