// Package syncx provides the append-only event log that downstream reporting
// jobs poll by offset.
package syncx

import (
	"context"
	"database/sql"
	"time"
)

type Event struct {
	Offset    int64  `json:"offset"`
	Type      string `json:"type"`
	Key       string `json:"key"`
	DataJSON  string `json:"data"`
	CreatedAt int64  `json:"created_at"`
}

type EventRepo struct {
	db *sql.DB
}

func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// Append writes one event. Best-effort from the caller's point of view; the
// exam flow never fails because the log write did.
func (r *EventRepo) Append(ctx context.Context, ev Event) error {
	if ev.DataJSON == "" {
		ev.DataJSON = "{}"
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_log (typ, key, data, created_at) VALUES ($1, $2, $3, $4)`,
		ev.Type, ev.Key, ev.DataJSON, time.Now().Unix())
	return err
}

// After returns up to limit events with offset greater than the cursor, in
// order. Consumers persist the last offset they processed.
func (r *EventRepo) After(ctx context.Context, cursor int64, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT "offset", typ, key, data, created_at FROM event_log WHERE "offset" > $1 ORDER BY "offset" ASC LIMIT $2`,
		cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Offset, &ev.Type, &ev.Key, &ev.DataJSON, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
