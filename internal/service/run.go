package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/heyglassy/flyspace/internal/bus"
	"github.com/heyglassy/flyspace/internal/domain"
)

// Trigger starts executing req.ExportName from req.File and returns once the
// execution is accepted. Only one execution runs at a time.
func (s *Service) Trigger(ctx context.Context, req domain.TriggerRequest) (*domain.TriggerResponse, error) {
	if strings.TrimSpace(req.File) == "" {
		return nil, fmt.Errorf("%w: file is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.ExportName) == "" {
		return nil, fmt.Errorf("%w: exportName is required", ErrInvalidRequest)
	}

	file := s.resolveFile(req.File)
	if s.files != nil && !s.files.Lookup(file, req.ExportName) {
		return nil, fmt.Errorf("%w: %s#%s", ErrUnknownEntryPoint, req.File, req.ExportName)
	}

	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}

	s.bus.Publish(bus.Triggered{File: file, ExportName: req.ExportName})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.runner.Run(s.baseCtx, file, req.ExportName)
	}()

	return &domain.TriggerResponse{OK: true, File: file, ExportName: req.ExportName}, nil
}

// NewEval replays the step waiting for the operator with prompt. It returns
// once the replay has been evaluated.
func (s *Service) NewEval(ctx context.Context, req domain.NewEvalRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	reply := make(chan error, 1)
	return s.command(ctx, bus.ReplayRequested{Prompt: req.Prompt, Reply: reply}, reply)
}

// CompleteStep advances the step waiting for the operator.
func (s *Service) CompleteStep(ctx context.Context) error {
	reply := make(chan error, 1)
	return s.command(ctx, bus.AdvanceRequested{Reply: reply}, reply)
}

func (s *Service) command(ctx context.Context, ev bus.Event, reply <-chan error) error {
	if s.bus.Publish(ev) == 0 {
		return ErrNoPendingStep
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolveFile maps a file name relative to the scripts folder onto the path
// discovery reports.
func (s *Service) resolveFile(file string) string {
	if s.files == nil || filepath.IsAbs(file) {
		return file
	}
	files, err := s.files.Files()
	if err != nil {
		return file
	}
	if _, ok := files[file]; ok {
		return file
	}
	if candidate := filepath.Join(s.files.Dir(), file); files != nil {
		if _, ok := files[candidate]; ok {
			return candidate
		}
	}
	return file
}
