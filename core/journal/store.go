// Package journal persists the transition journal: one row per processed
// event and per conversation lifecycle change, including guard rejections
// that leave a conversation where it was.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/fsmbot/core/conversation"
	"github.com/m3rciful/fsmbot/core/fsm"
)

// Entry is one journal row.
type Entry struct {
	ID         int64     `db:"id"`
	InstanceID string    `db:"instance_id"`
	ChatID     int64     `db:"chat_id"`
	Kind       string    `db:"kind"`
	UpdateID   int       `db:"update_id"`
	Event      string    `db:"event"`
	FromState  string    `db:"from_state"`
	ViaState   string    `db:"via_state"`
	ToState    string    `db:"to_state"`
	Outcome    string    `db:"outcome"`
	Synthetic  bool      `db:"synthetic"`
	Err        string    `db:"err"`
	CreatedAt  time.Time `db:"created_at"`
}

// EntryFromRecord flattens a processor record into a row.
func EntryFromRecord(rec conversation.Record) Entry {
	e := Entry{
		InstanceID: rec.InstanceID,
		ChatID:     int64(rec.Key),
		Kind:       string(rec.Kind),
		UpdateID:   rec.UpdateID,
		ToState:    string(rec.State),
		Err:        rec.Err,
		CreatedAt:  rec.At.UTC(),
	}
	if rec.Kind == conversation.RecordStep {
		e.Event = string(rec.Step.Event)
		e.FromState = string(rec.Step.From)
		e.ViaState = string(rec.Step.Via)
		e.ToState = string(rec.Step.To)
		e.Outcome = string(rec.Step.Outcome)
		e.Synthetic = rec.Step.Synthetic
	}
	return e
}

const insertEntry = `INSERT INTO transition_journal
	(instance_id, chat_id, kind, update_id, event, from_state, via_state, to_state, outcome, synthetic, err, created_at)
	VALUES (:instance_id, :chat_id, :kind, :update_id, :event, :from_state, :via_state, :to_state, :outcome, :synthetic, :err, :created_at)`

const selectColumns = `id, instance_id, chat_id, kind, update_id, event, from_state, via_state, to_state, outcome, synthetic, err, created_at`

// Store reads and writes journal rows.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps db. The transition_journal table must exist.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Insert writes entries in one statement.
func (s *Store) Insert(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if _, err := s.db.NamedExecContext(ctx, insertEntry, entries); err != nil {
		return fmt.Errorf("journal: insert %d entries: %w", len(entries), err)
	}
	return nil
}

// ByInstance returns the rows of one conversation instance in write order.
func (s *Store) ByInstance(ctx context.Context, instanceID string) ([]Entry, error) {
	q := s.db.Rebind(`SELECT ` + selectColumns + ` FROM transition_journal WHERE instance_id = ? ORDER BY id`)
	var out []Entry
	if err := s.db.SelectContext(ctx, &out, q, instanceID); err != nil {
		return nil, fmt.Errorf("journal: select instance %s: %w", instanceID, err)
	}
	return out, nil
}

// Rejections returns the latest guard rejections for a chat, newest first.
func (s *Store) Rejections(ctx context.Context, chatID int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	q := s.db.Rebind(`SELECT ` + selectColumns + ` FROM transition_journal
		WHERE chat_id = ? AND outcome = ? ORDER BY id DESC LIMIT ?`)
	var out []Entry
	if err := s.db.SelectContext(ctx, &out, q, chatID, string(fsm.OutcomeRejected), limit); err != nil {
		return nil, fmt.Errorf("journal: select rejections for %d: %w", chatID, err)
	}
	return out, nil
}
