package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"example.com/extracurricular/internal/events"
)

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PersistenceHandler appends consumed roster events to the Postgres audit log.
type PersistenceHandler struct {
	db execer
}

// NewPersistenceHandler constructs a handler backed by db, typically a *pgxpool.Pool.
func NewPersistenceHandler(db execer) *PersistenceHandler {
	return &PersistenceHandler{db: db}
}

const insertRosterEvent = `INSERT INTO roster_event_log
    (event_id, event_type, activity, email, occurred_at, schema_id, schema_subject, topic, partition, record_offset, payload, received_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
    ON CONFLICT (event_id) DO NOTHING`

// Handle stores the event. Redelivered events are ignored by event_id.
func (h *PersistenceHandler) Handle(ctx context.Context, msg Message) error {
	var event events.RosterChanged
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("decode roster event: %w", err)
	}
	if strings.TrimSpace(event.EventID) == "" {
		event.EventID = msg.EventID
	}
	if strings.TrimSpace(event.EventID) == "" {
		return fmt.Errorf("roster event at %s/%d/%d has no event_id", msg.Topic, msg.Partition, msg.Offset)
	}

	_, err := h.db.Exec(ctx, insertRosterEvent,
		event.EventID,
		msg.EventType,
		event.Activity,
		event.Email,
		event.OccurredAt,
		msg.SchemaID,
		msg.SchemaSubject,
		msg.Topic,
		msg.Partition,
		msg.Offset,
		[]byte(msg.Payload),
		msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert roster event %s: %w", event.EventID, err)
	}
	return nil
}
