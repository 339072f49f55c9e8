package conversation

import (
	"context"
	"time"

	"github.com/m3rciful/fsmbot/core/dialog"
	"github.com/m3rciful/fsmbot/core/fsm"
)

// RecordKind classifies journal records.
type RecordKind string

const (
	// RecordStarted marks the first message of a conversation instance.
	RecordStarted RecordKind = "started"
	// RecordStep is one processed event.
	RecordStep RecordKind = "step"
	// RecordEnded marks an instance that reached the terminal state.
	RecordEnded RecordKind = "ended"
	// RecordFatal marks an instance dropped after a fatal error.
	RecordFatal RecordKind = "fatal"
	// RecordEvicted marks an instance removed by the idle sweep.
	RecordEvicted RecordKind = "evicted"
)

// Record is one entry of the transition journal.
type Record struct {
	InstanceID string
	Key        dialog.Key
	Kind       RecordKind
	UpdateID   int
	Step       fsm.Step
	State      fsm.State
	Err        string
	At         time.Time
}

// Journal receives every record produced by the Processor. Record is called
// from conversation consumers and must not block for long.
type Journal interface {
	Record(ctx context.Context, rec Record)
}

type nopJournal struct{}

func (nopJournal) Record(context.Context, Record) {}
