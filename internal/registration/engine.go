// Package registration implements the per-address name-capture flow: a
// small state machine built on github.com/qmuntal/stateless. The engine
// has no direct dependency on the bridge or the store; side effects flow
// through the injected Notifier so the state machine stays testable in
// isolation.
package registration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/damamartinez/chatcore/internal/config"
	"github.com/damamartinez/chatcore/internal/domain"
)

// Notifier delivers the engine's side effects. The engine never calls the
// bridge or the store directly.
type Notifier interface {
	UpdateName(ctx context.Context, user *domain.User, name string, isTemporary bool) error
	SendMessage(ctx context.Context, address, text string) error
	NotifyRegistered(ctx context.Context, address, name string) error
}

// PendingRegistration is the live, in-memory state for one address's
// name-capture attempt, persisted through Engine.store on every mutation so
// a restart can resume it.
type PendingRegistration struct {
	Address       string
	Attempts      int
	StartedAt     time.Time
	LastMessageID string

	sm *stateless.StateMachine
}

func newPendingRegistration(address string, startedAt time.Time, attempts int) *PendingRegistration {
	p := &PendingRegistration{Address: address, StartedAt: startedAt, Attempts: attempts}
	sm := stateless.NewStateMachine(StateAwaitingName)
	sm.Configure(StateAwaitingName).
		Permit(TriggerSubmitValidName, StateCompleted).
		Permit(TriggerTimeout, StateAbandoned).
		Permit(TriggerMaxAttemptsExceeded, StateAbandoned).
		PermitReentry(TriggerSubmitInvalidName)
	sm.Configure(StateCompleted)
	sm.Configure(StateAbandoned)
	p.sm = sm
	return p
}

// registrationStore is the persistence surface the engine needs from C2.
type registrationStore interface {
	GetRegistration(ctx context.Context, address string) (*domain.RegistrationData, error)
	SetRegistration(ctx context.Context, address string, data domain.RegistrationData) error
	ClearRegistration(ctx context.Context, address string) error
}

// Engine runs the name-capture flow for every address that needs it.
type Engine struct {
	store    registrationStore
	notifier Notifier
	cfg      func() *config.Config

	mu      sync.Mutex
	pending map[string]*PendingRegistration
}

// NewEngine builds a registration Engine. cfg is called on every operation
// so the engine always observes the live, hot-reloaded configuration.
func NewEngine(store registrationStore, notifier Notifier, cfg func() *config.Config) *Engine {
	return &Engine{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		pending:  make(map[string]*PendingRegistration),
	}
}

// NeedsRegistration reports whether user must complete name capture before
// anything else is dispatched.
func NeedsRegistration(user *domain.User) bool {
	return user.Registration.Step == domain.StepAwaitingName || user.Registration.Step == domain.StepNone
}

// Begin starts (or resumes) the registration flow for address and sends the
// name prompt.
func (e *Engine) Begin(ctx context.Context, address string) error {
	return e.BeginWithPreamble(ctx, address, "")
}

// BeginWithPreamble is Begin, but prefixes the name prompt with preamble
// (e.g. a first-contact greeting) when preamble is non-empty.
func (e *Engine) BeginWithPreamble(ctx context.Context, address, preamble string) error {
	cfg := e.cfg()

	e.mu.Lock()
	p, ok := e.pending[address]
	if !ok {
		p = newPendingRegistration(address, time.Now(), 0)
		e.pending[address] = p
	}
	e.mu.Unlock()

	if err := e.store.SetRegistration(ctx, address, domain.RegistrationData{
		Step: domain.StepAwaitingName, Attempts: p.Attempts, StartedAt: p.StartedAt,
	}); err != nil {
		return fmt.Errorf("registration: persist begin: %w", err)
	}

	prompt := cfg.Messages.Registration.AskName
	if preamble != "" {
		prompt = preamble + "\n\n" + prompt
	}
	return e.notifier.SendMessage(ctx, address, prompt)
}

// HandleMessage processes one inbound message from a user mid-registration.
// It returns a HandlerResult describing the reply to send, if any.
func (e *Engine) HandleMessage(ctx context.Context, user *domain.User, text string) (*domain.HandlerResult, error) {
	cfg := e.cfg()
	address := user.Address

	e.mu.Lock()
	p, ok := e.pending[address]
	if !ok {
		startedAt := user.Registration.StartedAt
		if startedAt.IsZero() {
			startedAt = time.Now()
		}
		p = newPendingRegistration(address, startedAt, user.Registration.Attempts)
		e.pending[address] = p
	}
	e.mu.Unlock()

	if time.Since(p.StartedAt) > cfg.Registration.Timeout {
		return e.fallback(ctx, p, user)
	}

	reason := ValidateName(text, user.Phone, cfg.Registration.MinNameLen, cfg.Registration.MaxNameLen)
	if reason == ReasonNone {
		name := CleanName(text)
		if err := p.sm.FireCtx(ctx, TriggerSubmitValidName); err != nil {
			return nil, fmt.Errorf("registration: fire submitValidName: %w", err)
		}
		if err := e.notifier.UpdateName(ctx, user, name, false); err != nil {
			return nil, fmt.Errorf("registration: update name: %w", err)
		}
		e.complete(ctx, p)
		if err := e.notifier.NotifyRegistered(ctx, address, name); err != nil {
			return nil, fmt.Errorf("registration: notify registered: %w", err)
		}
		return &domain.HandlerResult{
			Success: true, Claimed: true, ShouldReply: true,
			Response: fmt.Sprintf(cfg.Messages.Registration.Welcome, name),
		}, nil
	}

	p.Attempts++
	if p.Attempts >= cfg.Registration.MaxAttempts {
		if err := p.sm.FireCtx(ctx, TriggerMaxAttemptsExceeded); err != nil {
			return nil, fmt.Errorf("registration: fire maxAttemptsExceeded: %w", err)
		}
		return e.fallback(ctx, p, user)
	}

	if err := p.sm.FireCtx(ctx, TriggerSubmitInvalidName); err != nil {
		return nil, fmt.Errorf("registration: fire submitInvalidName: %w", err)
	}
	if err := e.store.SetRegistration(ctx, address, domain.RegistrationData{
		Step: domain.StepAwaitingName, Attempts: p.Attempts, StartedAt: p.StartedAt,
	}); err != nil {
		return nil, fmt.Errorf("registration: persist attempt: %w", err)
	}

	return &domain.HandlerResult{
		Success: true, Claimed: true, ShouldReply: true,
		Response: reasonMessage(cfg, reason),
	}, nil
}

// fallback assigns the deterministic temp name and closes out the flow,
// used on both timeout and max-attempts exhaustion.
func (e *Engine) fallback(ctx context.Context, p *PendingRegistration, user *domain.User) (*domain.HandlerResult, error) {
	cfg := e.cfg()
	name := FallbackName(user.Phone)

	if err := e.notifier.UpdateName(ctx, user, name, true); err != nil {
		return nil, fmt.Errorf("registration: assign fallback name: %w", err)
	}
	e.complete(ctx, p)
	if err := e.notifier.NotifyRegistered(ctx, user.Address, name); err != nil {
		return nil, fmt.Errorf("registration: notify registered: %w", err)
	}

	return &domain.HandlerResult{
		Success: true, Claimed: true, ShouldReply: true,
		Response: fmt.Sprintf(cfg.Messages.Registration.FallbackAssigned, name),
	}, nil
}

func (e *Engine) complete(ctx context.Context, p *PendingRegistration) {
	e.mu.Lock()
	delete(e.pending, p.Address)
	e.mu.Unlock()

	if err := e.store.ClearRegistration(ctx, p.Address); err != nil {
		// Best-effort: the in-memory entry is already gone; a stale DB row
		// is overwritten by the next Begin for this address.
		_ = err
	}
}

func reasonMessage(cfg *config.Config, reason Reason) string {
	m := cfg.Messages.Registration
	switch reason {
	case ReasonEmpty:
		return m.InvalidEmpty
	case ReasonAllDigits:
		return m.InvalidDigits
	case ReasonLength:
		return fmt.Sprintf(m.InvalidLength, cfg.Registration.MinNameLen, cfg.Registration.MaxNameLen)
	case ReasonChars:
		return m.InvalidChars
	case ReasonIsPhone:
		return m.InvalidIsPhone
	case ReasonForbidden:
		return m.InvalidForbidden
	default:
		return m.InvalidEmpty
	}
}
