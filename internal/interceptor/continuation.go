package interceptor

import (
	"context"
	"log"

	"github.com/heyglassy/flyspace/internal/bus"
	"github.com/heyglassy/flyspace/internal/domain"
	"github.com/heyglassy/flyspace/internal/registry"
)

const commandBuffer = 1

type commandKind int

const (
	commandReplay commandKind = iota
	commandAdvance
)

type command struct {
	kind   commandKind
	prompt string
	reply  chan<- error
}

// continuation is the pending half of a suspended extract or observe call.
// Commands are queued on cmds and processed by the suspended goroutine. cmds
// is only written under Page.mu while the continuation is registered.
type continuation struct {
	stepID string
	cmds   chan command
}

type candidate[T any] struct {
	value  T
	evalID string
}

// await moves the step to idle and processes operator commands until an
// advance arrives or ctx ends. Advance finalizes with the eval whose result
// is returned, which after a failed replay is not the step's current eval.
func await[T any](ctx context.Context, p *Page, stepID string, cur candidate[T], rerun func(context.Context, string) (T, error)) (T, error) {
	var zero T

	c := &continuation{
		stepID: stepID,
		cmds:   make(chan command, commandBuffer),
	}
	p.mu.Lock()
	p.pending[stepID] = c
	p.mu.Unlock()
	defer p.release(c)

	// the continuation exists before the step is announced as idle, so an
	// operator reacting to the notification always finds it
	if err := p.setStatus(stepID, domain.StepStatusIdle); err != nil {
		return zero, err
	}

	for {
		select {
		case <-ctx.Done():
			return zero, p.abandon(ctx, stepID)

		case cmd := <-c.cmds:
			if ctx.Err() != nil {
				reply(cmd.reply, ErrNoPendingStep)
				return zero, p.abandon(ctx, stepID)
			}
			switch cmd.kind {
			case commandAdvance:
				err := p.reg.UpdateLLMStep(registry.LLMStepUpdate{
					StepID:      stepID,
					Status:      domain.StepStatusCompleted,
					FinalEvalID: cur.evalID,
				})
				reply(cmd.reply, err)
				if err != nil {
					return zero, err
				}
				return cur.value, nil

			case commandReplay:
				next, err := replay(ctx, p, stepID, cmd.prompt, rerun)
				reply(cmd.reply, err)
				if err == nil {
					cur = next
				}
			}
		}
	}
}

// replay evaluates prompt under the idle step and returns the step to idle.
// A failed evaluation crashes only its own eval.
func replay[T any](ctx context.Context, p *Page, stepID, prompt string, rerun func(context.Context, string) (T, error)) (candidate[T], error) {
	evalID, err := p.reg.NewEval(stepID, p.runID, prompt)
	if err != nil {
		return candidate[T]{}, err
	}
	if err := p.setStatus(stepID, domain.StepStatusRunning); err != nil {
		return candidate[T]{}, err
	}

	res, callErr := rerun(ctx, prompt)
	if callErr != nil {
		if err := p.reg.FailEval(evalID, callErr.Error()); err != nil {
			log.Printf("ERROR: Failed to mark eval %s crashed: %v", evalID, err)
		}
	} else if err := p.reg.CompleteEval(evalID, serialize(res)); err != nil {
		return candidate[T]{}, err
	}

	if err := p.setStatus(stepID, domain.StepStatusIdle); err != nil {
		return candidate[T]{}, err
	}
	if callErr != nil {
		log.Printf("WARN: Replay of step %s failed: %v", stepID, callErr)
		return candidate[T]{}, callErr
	}
	return candidate[T]{value: res, evalID: evalID}, nil
}

// abandon crashes a step whose caller went away.
func (p *Page) abandon(ctx context.Context, stepID string) error {
	if err := p.setStatus(stepID, domain.StepStatusCrashed); err != nil {
		log.Printf("ERROR: Failed to mark step %s crashed: %v", stepID, err)
	}
	return ctx.Err()
}

// release unregisters c and answers any command still queued on it.
func (p *Page) release(c *continuation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, c.stepID)
	for {
		select {
		case cmd := <-c.cmds:
			reply(cmd.reply, ErrNoPendingStep)
		default:
			return
		}
	}
}

func (p *Page) setStatus(stepID string, status domain.StepStatus) error {
	return p.reg.UpdateLLMStep(registry.LLMStepUpdate{StepID: stepID, Status: status})
}

func (p *Page) onReplay(ev bus.Event) {
	req := ev.(bus.ReplayRequested)
	p.dispatch(command{kind: commandReplay, prompt: req.Prompt, reply: req.Reply})
}

func (p *Page) onAdvance(ev bus.Event) {
	req := ev.(bus.AdvanceRequested)
	p.dispatch(command{kind: commandAdvance, reply: req.Reply})
}

// dispatch routes a command to the continuation of the current step. It runs
// on the publisher's goroutine and never waits for the command to finish.
func (p *Page) dispatch(cmd command) {
	stepID := p.reg.Cursor().StepID

	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.pending[stepID]
	if c == nil {
		reply(cmd.reply, ErrNoPendingStep)
		return
	}

	select {
	case c.cmds <- cmd:
	default:
		reply(cmd.reply, ErrStepBusy)
	}
}

// reply sends err without blocking. Reply channels must be buffered.
func reply(ch chan<- error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}
