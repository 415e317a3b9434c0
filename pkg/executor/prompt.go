package executor

import (
	"errors"
	"sync"
)

type PromptKind string

const PromptGuardCode PromptKind = "guard_code"

var (
	ErrNoPendingPrompt = errors.New("no prompt is awaiting input")
	ErrPromptInFlight  = errors.New("another prompt is already awaiting input")
)

// PromptSlot holds at most one prompt awaiting an out-of-band answer. An
// answer counts as delivered only once the waiting session has taken it.
type PromptSlot struct {
	mu        sync.Mutex
	kind      PromptKind
	answer    chan string
	cancelled chan struct{}
	resolving bool
}

// Await arms the slot for kind. The returned channel yields the answer once
// Resolve is called.
func (p *PromptSlot) Await(kind PromptKind) (<-chan string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// A slot that is mid-handoff belongs to the caller, which has already
	// received from it.
	if p.answer != nil && !p.resolving {
		return nil, ErrPromptInFlight
	}
	if p.cancelled != nil {
		close(p.cancelled)
	}
	p.kind = kind
	p.answer = make(chan string)
	p.cancelled = make(chan struct{})
	p.resolving = false
	return p.answer, nil
}

// Resolve hands value to the waiting session. It returns ErrNoPendingPrompt
// when nothing waits for kind or the session ends before taking the value.
func (p *PromptSlot) Resolve(kind PromptKind, value string) error {
	p.mu.Lock()
	if p.answer == nil || p.kind != kind || p.resolving {
		p.mu.Unlock()
		return ErrNoPendingPrompt
	}
	answer, cancelled := p.answer, p.cancelled
	p.resolving = true
	p.mu.Unlock()

	select {
	case answer <- value:
		p.mu.Lock()
		if p.answer == answer {
			p.clearLocked()
		}
		p.mu.Unlock()
		return nil
	case <-cancelled:
		return ErrNoPendingPrompt
	}
}

// Cancel drops the pending prompt, if any, and fails an in-flight Resolve.
func (p *PromptSlot) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelled != nil {
		close(p.cancelled)
	}
	p.clearLocked()
}

func (p *PromptSlot) Pending() (PromptKind, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kind, p.answer != nil && !p.resolving
}

func (p *PromptSlot) clearLocked() {
	p.kind = ""
	p.answer = nil
	p.cancelled = nil
	p.resolving = false
}
