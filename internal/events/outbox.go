package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event describes one settlement event to store in the outbox.
type Event struct {
	MeetingID string
	Type      string
	Payload   map[string]any
	DedupeKey string
}

// Outbox inserts settlement events into the settlement_events table. Rows
// stay unpublished until a downstream relay picks them up; the dedupe key
// makes re-publishing the same outcome a no-op.
type Outbox struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewOutbox(db *gorm.DB, genID *snowflake.Node) *Outbox {
	return &Outbox{db: db, genID: genID}
}

// EnsureTable creates the outbox table and its dedupe index when absent.
func (o *Outbox) EnsureTable(ctx context.Context) error {
	if err := o.db.WithContext(ctx).Exec(
		`CREATE TABLE IF NOT EXISTS settlement_events (
		   id BIGINT PRIMARY KEY,
		   meeting_id TEXT NOT NULL,
		   event_type TEXT NOT NULL,
		   payload JSON,
		   dedupe_key TEXT,
		   published BOOLEAN NOT NULL DEFAULT FALSE,
		   created_at TIMESTAMP NOT NULL
		 )`,
	).Error; err != nil {
		return err
	}
	return o.db.WithContext(ctx).Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS settlement_events_dedupe_key
		 ON settlement_events (dedupe_key)`,
	).Error
}

// Publish stores an event using the default database connection.
func (o *Outbox) Publish(ctx context.Context, event Event) error {
	return o.publish(ctx, o.db, event)
}

// PublishTx stores an event using an existing transaction.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	if tx == nil {
		return errors.New("missing_transaction")
	}
	return o.publish(ctx, tx, event)
}

func (o *Outbox) publish(ctx context.Context, db *gorm.DB, event Event) error {
	if o == nil || db == nil || o.genID == nil {
		return errors.New("outbox_unavailable")
	}
	if strings.TrimSpace(event.MeetingID) == "" {
		return errors.New("missing_meeting_id")
	}
	name := strings.TrimSpace(event.Type)
	if name == "" {
		return errors.New("missing_event_type")
	}

	payload := datatypes.JSONMap{}
	for key, value := range event.Payload {
		if strings.TrimSpace(key) == "" {
			continue
		}
		payload[key] = value
	}

	dedupe := strings.TrimSpace(event.DedupeKey)
	var dedupeValue any
	if dedupe != "" {
		dedupeValue = dedupe
	}

	now := time.Now().UTC()
	return db.WithContext(ctx).Exec(
		`INSERT INTO settlement_events (id, meeting_id, event_type, payload, dedupe_key, published, created_at)
		 VALUES (?, ?, ?, ?, ?, false, ?)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		o.genID.Generate().Int64(),
		event.MeetingID,
		name,
		payload,
		dedupeValue,
		now,
	).Error
}
