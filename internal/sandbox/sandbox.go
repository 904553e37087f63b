// Package sandbox executes one exported entry point of a compiled script
// against an intercepted page and settles the run it records.
package sandbox

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime/debug"

	"github.com/heyglassy/flyspace/internal/bus"
	"github.com/heyglassy/flyspace/internal/domain"
	"github.com/heyglassy/flyspace/internal/interceptor"
	"github.com/heyglassy/flyspace/internal/registry"
	"github.com/heyglassy/flyspace/pkg/flyspace"
)

// BlankURL is where the page is left after a successful run.
const BlankURL = "about:blank"

// Driver is the raw automation driver scripts run against.
type Driver interface {
	flyspace.Driver
	// Reset returns the page to a blank state.
	Reset(ctx context.Context) error
}

// Result is the settled outcome of one execution.
type Result struct {
	RunID  string
	Status domain.RunStatus
	Err    error
}

// Sandbox runs scripts one at a time against a shared driver.
type Sandbox struct {
	reg      *registry.Registry
	bus      *bus.Bus
	driver   Driver
	loader   Loader
	builder  Builder
	pageOpts []interceptor.Option
	readFile func(string) ([]byte, error)
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithBuilder compiles scripts before loading them. Without a builder the
// file path is handed to the loader as is.
func WithBuilder(b Builder) Option {
	return func(s *Sandbox) { s.builder = b }
}

// WithPageOptions configures the intercepted page of every run.
func WithPageOptions(opts ...interceptor.Option) Option {
	return func(s *Sandbox) { s.pageOpts = append(s.pageOpts, opts...) }
}

// WithSourceReader overrides how script source text is read.
func WithSourceReader(fn func(string) ([]byte, error)) Option {
	return func(s *Sandbox) { s.readFile = fn }
}

// New creates a Sandbox.
func New(reg *registry.Registry, b *bus.Bus, driver Driver, loader Loader, opts ...Option) *Sandbox {
	s := &Sandbox{
		reg:      reg,
		bus:      b,
		driver:   driver,
		loader:   loader,
		readFile: os.ReadFile,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes export from file once. It never returns an error: failures of
// any kind are recorded as a crashed run and reported in the Result.
func (s *Sandbox) Run(ctx context.Context, file, export string) Result {
	source, readErr := s.readFile(file)

	runID := s.reg.NewRun(file, string(source))
	log.Printf("Starting run %s: %s#%s", runID, file, export)

	err := readErr
	if err != nil {
		err = fmt.Errorf("failed to read script: %w", err)
	} else {
		err = s.execute(ctx, runID, file, export, source)
	}

	res := Result{RunID: runID, Status: domain.RunStatusCompleted}
	if err != nil {
		res.Status = domain.RunStatusCrashed
		res.Err = err
		log.Printf("ERROR: Run %s crashed: %v", runID, err)
	}

	if cerr := s.reg.CompleteRun(runID, res.Status); cerr != nil {
		log.Printf("ERROR: Failed to settle run %s: %v", runID, cerr)
	}

	if res.Err == nil {
		if rerr := s.driver.Reset(context.WithoutCancel(ctx)); rerr != nil {
			log.Printf("WARN: Failed to reset page after run %s: %v", runID, rerr)
		}
		log.Printf("Run %s completed", runID)
	}

	if s.bus != nil {
		s.bus.Publish(bus.RunSettled{RunID: runID, Status: res.Status, Err: res.Err})
	}
	return res
}

func (s *Sandbox) execute(ctx context.Context, runID, file, export string, source []byte) error {
	artifact := file
	if s.builder != nil {
		built, err := s.builder.Build(ctx, file, source)
		if err != nil {
			return err
		}
		artifact = built
	}

	entry, err := s.loader.Load(ctx, artifact, export)
	if err != nil {
		return err
	}

	page := interceptor.New(s.reg, s.bus, s.driver.Page(), runID, s.pageOpts...)
	defer page.Close()

	bctx := s.driver.Context()
	env := flyspace.Env{
		Page:    page,
		Context: bctx,
		Driver:  flyspace.BoundDriver{P: page, C: bctx},
	}
	return call(ctx, entry, env)
}

func call(ctx context.Context, entry flyspace.EntryPoint, env flyspace.Env) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Script panicked: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("script panicked: %v", r)
		}
	}()
	return entry(ctx, env)
}
