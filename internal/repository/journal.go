package repository

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/heyglassy/flyspace/internal/bus"
	"github.com/heyglassy/flyspace/internal/domain"
)

// Journal writes one event per registry mutation.
type Journal struct {
	store *SQLiteStore
	now   func() time.Time
}

// NewJournal creates a Journal writing to store.
func NewJournal(store *SQLiteStore) *Journal {
	return &Journal{store: store, now: time.Now}
}

// Attach journals every state change published on b. Writes happen on the
// publisher's goroutine so no mutation is skipped.
func (j *Journal) Attach(b *bus.Bus) (cancel func()) {
	return b.Handle(bus.KindStateChanged, func(ev bus.Event) {
		if err := j.Record(context.Background(), ev.(bus.StateChanged)); err != nil {
			log.Printf("ERROR: Failed to journal %s: %v", ev.(bus.StateChanged).Mutation.Type, err)
		}
	})
}

// mutationPayload is the journaled body of one mutation: the touched
// entities as they were right after it.
type mutationPayload struct {
	Run  *domain.Run  `json:"run,omitempty"`
	Step *domain.Step `json:"step,omitempty"`
	Eval *domain.Eval `json:"eval,omitempty"`
}

// Record journals one state change.
func (j *Journal) Record(ctx context.Context, sc bus.StateChanged) error {
	m := sc.Mutation
	var payload mutationPayload

	run, ok := sc.Snapshot.Runs[m.RunID]
	if ok {
		payload.Run = &run
	}
	if step, ok := sc.Snapshot.Steps[m.StepID]; ok {
		payload.Step = &step
	}
	if ev, ok := sc.Snapshot.Evals[m.EvalID]; ok {
		payload.Eval = &ev
	}

	switch m.Type {
	case domain.EventTypeRunStarted:
		if err := j.store.CreateRun(ctx, &RunRecord{
			RunID:     run.ID,
			File:      run.File,
			Status:    run.Status,
			StartedAt: run.StartedAt,
		}); err != nil {
			return err
		}
	case domain.EventTypeRunCompleted:
		completedAt := j.now()
		if run.CompletedAt != nil {
			completedAt = *run.CompletedAt
		}
		if err := j.store.UpdateRunCompleted(ctx, m.RunID, run.Status, completedAt); err != nil {
			return err
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return j.store.CreateEvent(ctx, &domain.Event{
		EventID: "evt_" + uuid.New().String(),
		RunID:   m.RunID,
		Ts:      j.now().UnixMilli(),
		Type:    m.Type,
		Payload: data,
	})
}
