package service

import (
	"context"
	"fmt"

	"github.com/heyglassy/flyspace/internal/domain"
)

// State returns a copy of the whole execution state.
func (s *Service) State() domain.Snapshot {
	return s.reg.Snapshot()
}

// Files returns the runnable entry points of the scripts folder.
func (s *Service) Files() (*domain.FilesResponse, error) {
	if s.files == nil {
		return &domain.FilesResponse{Files: map[string]domain.ExportDetails{}}, nil
	}
	files, err := s.files.Files()
	if err != nil {
		return nil, fmt.Errorf("failed to discover scripts: %w", err)
	}
	return &domain.FilesResponse{Files: files}, nil
}

// RunEventsQuery selects journaled events of one run.
type RunEventsQuery struct {
	RunID   string
	AfterTs int64
	Types   []string
	Limit   int
}

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// RunEvents returns the journaled mutations of a run in order.
func (s *Service) RunEvents(ctx context.Context, q RunEventsQuery) ([]domain.Event, error) {
	if s.store == nil {
		return nil, ErrJournalDisabled
	}
	if q.RunID == "" {
		return nil, fmt.Errorf("%w: run_id is required", ErrInvalidRequest)
	}
	if q.Limit <= 0 {
		q.Limit = defaultEventLimit
	}
	if q.Limit > maxEventLimit {
		q.Limit = maxEventLimit
	}

	run, err := s.store.GetRun(ctx, q.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, ErrRunNotFound
	}

	events, err := s.store.GetEvents(ctx, q.RunID, q.AfterTs, q.Types, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	if events == nil {
		events = []domain.Event{}
	}
	return events, nil
}
