// Package service is the engine facade the transports call: it accepts
// triggers, routes operator commands onto the bus and answers queries.
package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/heyglassy/flyspace/internal/bus"
	"github.com/heyglassy/flyspace/internal/domain"
	"github.com/heyglassy/flyspace/internal/interceptor"
	"github.com/heyglassy/flyspace/internal/registry"
	"github.com/heyglassy/flyspace/internal/repository"
	"github.com/heyglassy/flyspace/internal/sandbox"
)

var (
	// ErrInvalidRequest marks a request with missing or malformed fields.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRunInProgress is returned by Trigger while a run is executing.
	ErrRunInProgress = errors.New("a run is already in progress")
	// ErrUnknownEntryPoint is returned by Trigger for a file or export that
	// discovery does not list.
	ErrUnknownEntryPoint = errors.New("unknown entry point")
	// ErrRunNotFound is returned by run queries for unknown runs.
	ErrRunNotFound = errors.New("run not found")
	// ErrJournalDisabled is returned by run event queries without a journal.
	ErrJournalDisabled = errors.New("journal is not configured")
	// ErrNoPendingStep is returned by replay and advance when no step waits
	// for the operator.
	ErrNoPendingStep = interceptor.ErrNoPendingStep
)

// Runner executes one script entry point. *sandbox.Sandbox implements it.
type Runner interface {
	Run(ctx context.Context, file, export string) sandbox.Result
}

// FileIndex lists runnable entry points. *discovery.Index implements it.
type FileIndex interface {
	Dir() string
	Files() (map[string]domain.ExportDetails, error)
	Lookup(file, export string) bool
}

// EventStore reads the mutation journal. *repository.SQLiteStore implements it.
type EventStore interface {
	GetRun(ctx context.Context, runID string) (*repository.RunRecord, error)
	GetEvents(ctx context.Context, runID string, afterTs int64, types []string, limit int) ([]domain.Event, error)
}

// Service is the engine facade.
type Service struct {
	reg    *registry.Registry
	bus    *bus.Bus
	runner Runner
	files  FileIndex
	store  EventStore

	running atomic.Bool
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a Service. files and store may be nil.
func New(reg *registry.Registry, b *bus.Bus, runner Runner, files FileIndex, store EventStore) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		reg:     reg,
		bus:     b,
		runner:  runner,
		files:   files,
		store:   store,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Shutdown cancels the executing run, if any, and waits for it to settle or
// for ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether a run is executing.
func (s *Service) Running() bool {
	return s.running.Load()
}

// Events streams bus events of the given kinds until ctx ends.
func (s *Service) Events(ctx context.Context, kinds ...bus.Kind) <-chan bus.Event {
	return s.bus.Subscribe(ctx, kinds...)
}
