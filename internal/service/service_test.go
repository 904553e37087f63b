package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heyglassy/flyspace/internal/bus"
	"github.com/heyglassy/flyspace/internal/domain"
	"github.com/heyglassy/flyspace/internal/registry"
	"github.com/heyglassy/flyspace/internal/repository"
	"github.com/heyglassy/flyspace/internal/sandbox"
	"github.com/heyglassy/flyspace/pkg/flyspace"
	"github.com/heyglassy/flyspace/tests/helpers"
)

type fakeIndex struct {
	dir   string
	files map[string]domain.ExportDetails
	err   error
}

func (i *fakeIndex) Dir() string { return i.dir }

func (i *fakeIndex) Files() (map[string]domain.ExportDetails, error) {
	return i.files, i.err
}

func (i *fakeIndex) Lookup(file, export string) bool {
	for _, name := range i.files[file].MatchingExports {
		if name == export {
			return true
		}
	}
	return false
}

type fixture struct {
	reg    *registry.Registry
	bus    *bus.Bus
	loader *sandbox.StaticLoader
	store  *repository.SQLiteStore
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := bus.New(64)
	reg := registry.New(b)

	store := helpers.NewTestSQLiteStore(t)
	t.Cleanup(repository.NewJournal(store).Attach(b))

	loader := sandbox.NewStaticLoader()
	sb := sandbox.New(reg, b, helpers.NewFakePage(), loader,
		sandbox.WithSourceReader(func(string) ([]byte, error) { return []byte("package main"), nil }))

	index := &fakeIndex{
		dir: "scripts",
		files: map[string]domain.ExportDetails{
			filepath.Join("scripts", "title.go"): {MatchingExports: []string{"Title"}, AllExports: []string{"Title", "helper"}},
		},
	}

	svc := New(reg, b, sb, index, store)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})
	return &fixture{reg: reg, bus: b, loader: loader, store: store, svc: svc}
}

func (f *fixture) waitIdle(t *testing.T) domain.Step {
	t.Helper()
	var step domain.Step
	require.Eventually(t, func() bool {
		s, ok := f.reg.Step(f.reg.Cursor().StepID)
		step = s
		return ok && s.Status == domain.StepStatusIdle
	}, 2*time.Second, 5*time.Millisecond)
	return step
}

func (f *fixture) waitSettled(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return !f.svc.Running() }, 2*time.Second, 5*time.Millisecond)
}

func TestTriggerValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  domain.TriggerRequest
		want error
	}{
		{"missing file", domain.TriggerRequest{ExportName: "Title"}, ErrInvalidRequest},
		{"missing export", domain.TriggerRequest{File: "title.go"}, ErrInvalidRequest},
		{"unknown file", domain.TriggerRequest{File: "nope.go", ExportName: "Title"}, ErrUnknownEntryPoint},
		{"non-matching export", domain.TriggerRequest{File: "title.go", ExportName: "helper"}, ErrUnknownEntryPoint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Trigger(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.reg.Snapshot().Runs)
}

func TestTriggerRunsToCompletion(t *testing.T) {
	f := newFixture(t)
	f.loader.Register(filepath.Join("scripts", "title.go"), "Title", func(ctx context.Context, env flyspace.Env) error {
		return env.Page.Goto(ctx, "https://example.com")
	})

	triggered := f.bus.Subscribe(context.Background(), bus.KindTriggered)
	resp, err := f.svc.Trigger(context.Background(), domain.TriggerRequest{File: "title.go", ExportName: "Title"})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, filepath.Join("scripts", "title.go"), resp.File)

	select {
	case ev := <-triggered:
		assert.Equal(t, "Title", ev.(bus.Triggered).ExportName)
	case <-time.After(time.Second):
		t.Fatal("no triggered event")
	}

	f.waitSettled(t)
	snap := f.svc.State()
	require.Len(t, snap.Runs, 1)
	for _, run := range snap.Runs {
		assert.Equal(t, domain.RunStatusCompleted, run.Status)
	}
}

func TestTriggerRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.loader.Register(filepath.Join("scripts", "title.go"), "Title", func(ctx context.Context, env flyspace.Env) error {
		<-release
		return nil
	})

	req := domain.TriggerRequest{File: "title.go", ExportName: "Title"}
	_, err := f.svc.Trigger(context.Background(), req)
	require.NoError(t, err)

	_, err = f.svc.Trigger(context.Background(), req)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	f.waitSettled(t)

	_, err = f.svc.Trigger(context.Background(), req)
	require.NoError(t, err)
	f.waitSettled(t)
	assert.Len(t, f.reg.Snapshot().Runs, 2)
}

func TestCommandsWithoutPendingStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.NewEval(ctx, domain.NewEvalRequest{Prompt: "again"}), ErrNoPendingStep)
	assert.ErrorIs(t, f.svc.CompleteStep(ctx), ErrNoPendingStep)
	assert.ErrorIs(t, f.svc.NewEval(ctx, domain.NewEvalRequest{Prompt: "  "}), ErrInvalidRequest)
}

func TestReplayThenAdvance(t *testing.T) {
	f := newFixture(t)
	result := make(chan string, 1)
	f.loader.Register(filepath.Join("scripts", "title.go"), "Title", func(ctx context.Context, env flyspace.Env) error {
		data, err := env.Page.Extract(ctx, "find the title")
		result <- string(data)
		return err
	})

	_, err := f.svc.Trigger(context.Background(), domain.TriggerRequest{File: "title.go", ExportName: "Title"})
	require.NoError(t, err)

	step := f.waitIdle(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, f.svc.NewEval(ctx, domain.NewEvalRequest{Prompt: "find the heading"}))
	evals := f.reg.EvalsForStep(step.ID)
	require.Len(t, evals, 2)
	assert.Equal(t, "find the heading", evals[1].Prompt)

	require.NoError(t, f.svc.CompleteStep(ctx))
	assert.JSONEq(t, *evals[1].Result, <-result)
	f.waitSettled(t)

	done, _ := f.reg.Step(step.ID)
	assert.Equal(t, domain.StepStatusCompleted, done.Status)
	assert.Equal(t, evals[1].ID, *done.FinalEvalID)
}

func TestRunEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loader.Register(filepath.Join("scripts", "title.go"), "Title", func(ctx context.Context, env flyspace.Env) error {
		return env.Page.Goto(ctx, "https://example.com")
	})

	_, err := f.svc.Trigger(ctx, domain.TriggerRequest{File: "title.go", ExportName: "Title"})
	require.NoError(t, err)
	f.waitSettled(t)

	runID := f.reg.Cursor().RunID
	events, err := f.svc.RunEvents(ctx, RunEventsQuery{RunID: runID})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventTypeRunStarted, events[0].Type)
	assert.Equal(t, domain.EventTypeRunCompleted, events[len(events)-1].Type)

	filtered, err := f.svc.RunEvents(ctx, RunEventsQuery{RunID: runID, Types: []string{string(domain.EventTypeStepStarted)}})
	require.NoError(t, err)
	require.Len(t, filtered, 1)

	_, err = f.svc.RunEvents(ctx, RunEventsQuery{RunID: "run_missing"})
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = f.svc.RunEvents(ctx, RunEventsQuery{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRunEventsWithoutJournal(t *testing.T) {
	b := bus.New(8)
	svc := New(registry.New(b), b, nil, nil, nil)
	_, err := svc.RunEvents(context.Background(), RunEventsQuery{RunID: "run_1"})
	assert.ErrorIs(t, err, ErrJournalDisabled)
}

func TestFiles(t *testing.T) {
	f := newFixture(t)
	resp, err := f.svc.Files()
	require.NoError(t, err)
	assert.Contains(t, resp.Files, filepath.Join("scripts", "title.go"))

	b := bus.New(8)
	failing := New(registry.New(b), b, nil, &fakeIndex{err: errors.New("boom")}, nil)
	_, err = failing.Files()
	assert.Error(t, err)

	empty := New(registry.New(b), b, nil, nil, nil)
	resp, err = empty.Files()
	require.NoError(t, err)
	assert.Empty(t, resp.Files)
}
