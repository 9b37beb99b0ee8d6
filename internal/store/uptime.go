package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/vault-ai/control-plane/internal/domain"
)

// RecordUptimeEvent inserts a transition. On a down event it just writes the
// row; on an up event it also fills in duration_seconds on the most recent
// open down event for the same service (one with no matching up yet), so a
// single down row ends up carrying its own downtime once paired.
func (s *Store) RecordUptimeEvent(ctx context.Context, e domain.UptimeEvent) (domain.UptimeEvent, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.UptimeEvent{}, err
	}
	defer tx.Rollback()

	if e.EventType == domain.UptimeEventUp {
		var lastDownID string
		var lastDownAt time.Time
		err := tx.QueryRowContext(ctx, `
			SELECT id, timestamp FROM uptime_events
			WHERE service_name = $1 AND event_type = 'down' AND duration_seconds IS NULL
			ORDER BY timestamp DESC LIMIT 1
		`, e.ServiceName).Scan(&lastDownID, &lastDownAt)
		switch err {
		case nil:
			dur := int(e.Timestamp.Sub(lastDownAt).Seconds())
			if dur < 0 {
				dur = 0
			}
			if _, err := tx.ExecContext(ctx, `UPDATE uptime_events SET duration_seconds = $2 WHERE id = $1`, lastDownID, dur); err != nil {
				return domain.UptimeEvent{}, err
			}
			e.DurationSeconds = &dur
		case sql.ErrNoRows:
			// no open down event — an up with nothing to pair, e.g. startup.
		default:
			return domain.UptimeEvent{}, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO uptime_events (id, service_name, event_type, timestamp, duration_seconds, details)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, e.ID, e.ServiceName, e.EventType, e.Timestamp, e.DurationSeconds, nullString(e.Details))
	if err != nil {
		return domain.UptimeEvent{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.UptimeEvent{}, err
	}
	return e, nil
}

func (s *Store) ListUptimeEvents(ctx context.Context, serviceName string, since time.Time) ([]domain.UptimeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, service_name, event_type, timestamp, duration_seconds, details
		FROM uptime_events WHERE service_name = $1 AND timestamp >= $2 ORDER BY timestamp ASC
	`, serviceName, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UptimeEvent
	for rows.Next() {
		e, err := scanUptimeEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Availability computes 100*(1 - downtime/window) over [since, now) for a
// service, summing recorded down durations plus the still-open down event
// (if the service is down right now) against the elapsed window.
func (s *Store) Availability(ctx context.Context, serviceName string, since time.Time) (float64, error) {
	var downtimeSeconds sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(duration_seconds), 0) FROM uptime_events
		WHERE service_name = $1 AND event_type = 'down' AND timestamp >= $2 AND duration_seconds IS NOT NULL
	`, serviceName, since).Scan(&downtimeSeconds)
	if err != nil {
		return 0, err
	}

	var openDownAt sql.NullTime
	err = s.db.QueryRowContext(ctx, `
		SELECT timestamp FROM uptime_events
		WHERE service_name = $1 AND event_type = 'down' AND duration_seconds IS NULL
		ORDER BY timestamp DESC LIMIT 1
	`, serviceName).Scan(&openDownAt)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}

	now := time.Now().UTC()
	window := now.Sub(since).Seconds()
	if window <= 0 {
		return 100, nil
	}

	downtime := float64(downtimeSeconds.Int64)
	if openDownAt.Valid {
		start := openDownAt.Time
		if start.Before(since) {
			start = since
		}
		downtime += now.Sub(start).Seconds()
	}

	avail := 100 * (1 - downtime/window)
	if avail < 0 {
		avail = 0
	}
	if avail > 100 {
		avail = 100
	}
	return avail, nil
}

func scanUptimeEvent(row rowScanner) (domain.UptimeEvent, error) {
	var e domain.UptimeEvent
	var duration sql.NullInt64
	var details sql.NullString
	if err := row.Scan(&e.ID, &e.ServiceName, &e.EventType, &e.Timestamp, &duration, &details); err != nil {
		return domain.UptimeEvent{}, err
	}
	if duration.Valid {
		d := int(duration.Int64)
		e.DurationSeconds = &d
	}
	e.Details = details.String
	return e, nil
}
