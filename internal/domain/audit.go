package domain

import "time"

// AuditLogEntry is one append-only record of an API-key-authenticated
// inference call or administrative action. Fields beyond the common ones are
// optional and populated only when the action produces them (e.g. token
// counts only apply to inference calls).
type AuditLogEntry struct {
	ID             int64
	Timestamp      time.Time
	Action         string
	Method         string
	Path           string
	UserKeyPrefix  string
	Model          string
	StatusCode     *int
	LatencyMs      *int64
	TokensInput    *int
	TokensOutput   *int
	Details        string
}
