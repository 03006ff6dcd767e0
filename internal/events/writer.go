package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends journal rows inside the caller's transaction so the audit
// trail commits or rolls back together with the state change it records.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, country, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,country,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(country), entityKind, nullable(entityID), actorID, string(data))
	return err
}

// Transfer records a fund movement. Every ledger mutation shows up here so an
// external reconciler can replay the money flow per job.
func (w Writer) Transfer(ctx context.Context, tx *sql.Tx, country, entityKind, entityID, actorID, from, to string, amount uint64, reason string) error {
	return w.Append(ctx, tx, "ledger.transfer", country, entityKind, entityID, actorID, EventPayload{
		"from":   from,
		"to":     to,
		"amount": amount,
		"reason": reason,
	})
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
