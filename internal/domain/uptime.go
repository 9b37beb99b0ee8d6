package domain

import "time"

type UptimeEventType string

const (
	UptimeEventUp   UptimeEventType = "up"
	UptimeEventDown UptimeEventType = "down"
)

// UptimeEvent is one transition recorded by the uptime monitor's 30-second
// poll. DurationSeconds on a down event is filled in retroactively once the
// matching up event arrives; the up event itself then carries the computed
// downtime so a single row answers "how long was it down" without a join.
type UptimeEvent struct {
	ID              string
	ServiceName     string
	EventType       UptimeEventType
	Timestamp       time.Time
	DurationSeconds *int
	Details         string
}
