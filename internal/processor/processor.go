package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/damamartinez/chatcore/internal/classify"
	"github.com/damamartinez/chatcore/internal/config"
	"github.com/damamartinez/chatcore/internal/domain"
	"github.com/damamartinez/chatcore/internal/registration"
	"github.com/damamartinez/chatcore/internal/store"
)

// ErrInvalidMessage is returned (wrapped into the processing result, not as
// a Go error) when an inbound message fails structural validation.
var ErrInvalidMessage = errors.New("processor: invalid message")

// Processor is C7: the end-to-end pipeline from one IncomingMessage to one
// ProcessingResult.
type Processor struct {
	store    UserStore
	bridge   Bridge
	guard    RateGuard
	registry Registry
	engine   RegistrationEngine
	cfg      func() *config.Config
	log      *slog.Logger
	bridgeOn bool

	addrLocks *addrLockRegistry // per-address serialization (§5.1)
}

// New builds a Processor. bridgeEnabled toggles every bridge side effect:
// the markRead/typing calls around dispatch (§4.7 step 6) and the reply
// send itself.
func New(userStore UserStore, bridge Bridge, guard RateGuard, registry Registry, engine RegistrationEngine, cfg func() *config.Config, bridgeEnabled bool, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		store:     userStore,
		bridge:    bridge,
		guard:     guard,
		registry:  registry,
		engine:    engine,
		cfg:       cfg,
		bridgeOn:  bridgeEnabled,
		log:       log,
		addrLocks: newAddrLockRegistry(),
	}
}

// Process runs one inbound message through the full pipeline. It is safe
// for concurrent use across different addresses; calls for the same
// address serialize against each other.
//
// cfg.Concurrency.ProcessingTimeout bounds how long Process itself waits: if
// it elapses, Process returns an OutcomeTimeout result right away, built
// fresh rather than the pipeline's own in-progress result, since that one is
// still being written by the pipeline goroutine. The pipeline keeps running
// under the same per-address lock until it actually terminates — onComplete,
// if given, fires exactly once at that point, never on the early-return
// timeout path, so a caller tracking real concurrency (the pool's semaphore,
// its own wait group) never frees capacity for work that is still in flight
// (§5 invariants 1, 2).
func (p *Processor) Process(ctx context.Context, msg *domain.IncomingMessage, onComplete ...func()) *domain.ProcessingResult {
	id := uuid.NewString()

	if strings.TrimSpace(msg.Sender) == "" || strings.TrimSpace(msg.ID) == "" {
		runOnComplete(onComplete)
		return &domain.ProcessingResult{
			ID:      id,
			Outcome: domain.OutcomeFailed,
			Errors:  []error{fmt.Errorf("%w: empty sender or id", ErrInvalidMessage)},
		}
	}
	msg.Content = strings.TrimSpace(msg.Content)

	cfg := p.cfg()
	pipelineCtx, cancel := context.WithTimeout(ctx, cfg.Concurrency.ProcessingTimeout)

	release := p.addrLocks.acquire(msg.Sender)

	// Dedup must happen before any other side effect and must be recorded
	// even if the pipeline later times out or fails, so the poller never
	// redelivers the same id forever (§4.5, §8 property 1).
	if p.guard.IsDuplicate(msg.ID) {
		cancel()
		release()
		runOnComplete(onComplete)
		return &domain.ProcessingResult{ID: id, Outcome: domain.OutcomeAlreadyProcessed}
	}

	asyncResult := &domain.ProcessingResult{ID: id}
	done := make(chan *domain.ProcessingResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if p.bridgeOn {
					_ = p.bridge.SetTyping(context.Background(), msg.Sender, false)
				}
				asyncResult.Outcome = domain.OutcomeFailed
				asyncResult.Errors = append(asyncResult.Errors, fmt.Errorf("processor: panic: %v", r))
				done <- asyncResult
			}
			// Only now has the pipeline actually finished with msg.Sender's
			// lock and with whatever capacity onComplete represents.
			cancel()
			release()
			runOnComplete(onComplete)
		}()
		done <- p.process(pipelineCtx, msg, asyncResult)
	}()

	select {
	case r := <-done:
		return r
	case <-pipelineCtx.Done():
		if p.bridgeOn {
			_ = p.bridge.SetTyping(context.Background(), msg.Sender, false)
		}
		return &domain.ProcessingResult{
			ID:      id,
			Outcome: domain.OutcomeTimeout,
			Errors:  []error{fmt.Errorf("processor: timed out after %s", cfg.Concurrency.ProcessingTimeout)},
		}
	}
}

func runOnComplete(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

func (p *Processor) process(ctx context.Context, msg *domain.IncomingMessage, result *domain.ProcessingResult) *domain.ProcessingResult {
	cfg := p.cfg()

	user, isNew, err := p.resolveUser(ctx, msg.Sender, cfg)
	if err != nil {
		result.Outcome = domain.OutcomeFailed
		result.Errors = append(result.Errors, fmt.Errorf("processor: resolve user: %w", err))
		return result
	}
	result.User = user

	if err := p.store.RecordInteraction(ctx, user.Address); err != nil {
		p.log.Warn("processor: record interaction failed", "address", user.Address, "err", err)
	}

	if registration.NeedsRegistration(user) && !looksLikeCommand(msg.Content, cfg.Bot.CommandPrefix) {
		return p.handleRegistration(ctx, user, msg, isNew, cfg, result)
	}

	classification := classify.Classify(msg.Content, cfg.Messages.Classifier, []string{cfg.Bot.CommandPrefix})

	if p.bridgeOn {
		if err := p.bridge.MarkRead(ctx, user.Address, msg.ID); err != nil {
			p.log.Warn("processor: mark read failed", "address", user.Address, "err", err)
		}
		if err := p.bridge.SetTyping(ctx, user.Address, true); err != nil {
			p.log.Warn("processor: typing on failed", "address", user.Address, "err", err)
		}
		defer func() {
			if err := p.bridge.SetTyping(context.Background(), user.Address, false); err != nil {
				p.log.Warn("processor: typing off failed", "address", user.Address, "err", err)
			}
		}()
	}

	hr, err := p.registry.Dispatch(ctx, msg, user, classification)
	if err != nil {
		result.Outcome = domain.OutcomeFailed
		result.Errors = append(result.Errors, fmt.Errorf("processor: dispatch: %w", err))
		result.HandlerName = "internal-error"
		p.deliver(ctx, user, classification, &domain.HandlerResult{
			ShouldReply: true, Response: cfg.Messages.Errors.Internal,
		})
		return result
	}

	if hr == nil {
		if classification.Primary == domain.KindContextual {
			result.Outcome = domain.OutcomeSilent
			return result
		}
		hr = &domain.HandlerResult{
			Success: true, ShouldReply: true,
			Response: defaultResponse(cfg),
		}
	}

	if name, ok := hr.Data["handler"].(string); ok {
		result.HandlerName = name
	}
	if !hr.Success && hr.Err != nil {
		result.Errors = append(result.Errors, hr.Err)
	}

	p.deliver(ctx, user, classification, hr)

	switch {
	case hr.ShouldReply && hr.Response == "" && hr.MediaPath == "":
		result.Outcome = domain.OutcomeSilent
	case !hr.Success:
		result.Outcome = domain.OutcomeDenied
	default:
		result.Outcome = domain.OutcomeHandled
	}
	return result
}

// deliver sends a handler's reply through the bridge, subject to the rate
// guard. Admins bypass the cooldown/cap and are not recorded against it.
func (p *Processor) deliver(ctx context.Context, user *domain.User, c domain.Classification, hr *domain.HandlerResult) {
	if !hr.ShouldReply || (hr.Response == "" && hr.MediaPath == "") {
		return
	}
	isAdmin := user.Role == domain.RoleAdmin
	if !p.guard.CanRespond(user.Address, c.Primary, isAdmin) {
		return
	}
	if !p.bridgeOn {
		return
	}

	var err error
	if hr.MediaPath != "" {
		_, err = p.bridge.SendMedia(ctx, user.Address, hr.MediaPath, hr.Caption)
	} else {
		_, err = p.bridge.Send(ctx, user.Address, hr.Response)
	}
	if err != nil {
		p.log.Warn("processor: outbound send failed", "address", user.Address, "err", err)
		return
	}
	if !isAdmin {
		p.guard.RecordResponse(user.Address)
	}
}

func (p *Processor) resolveUser(ctx context.Context, address string, cfg *config.Config) (*domain.User, bool, error) {
	user, err := p.store.GetByAddress(ctx, address)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	now := time.Now()
	user = &domain.User{
		Address:        address,
		Phone:          extractPhone(address),
		Role:           domain.RoleCustomer,
		Language:       cfg.Bot.Language,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
		Registration:   domain.RegistrationData{Step: domain.StepNone},
		Metadata:       map[string]string{},
	}
	user.DisplayName = user.Phone
	if err := p.store.Create(ctx, user); err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	return user, true, nil
}

func (p *Processor) handleRegistration(ctx context.Context, user *domain.User, msg *domain.IncomingMessage, isNew bool, cfg *config.Config, result *domain.ProcessingResult) *domain.ProcessingResult {
	result.HandlerName = "registration"

	if user.Registration.Step == domain.StepNone {
		preamble := ""
		if isNew {
			preamble = pickGreeting(cfg.Messages.Greetings.New)
		}
		if err := p.engine.BeginWithPreamble(ctx, user.Address, preamble); err != nil {
			result.Outcome = domain.OutcomeFailed
			result.Errors = append(result.Errors, fmt.Errorf("processor: begin registration: %w", err))
			return result
		}
		result.Outcome = domain.OutcomeRegistration
		return result
	}

	hr, err := p.engine.HandleMessage(ctx, user, msg.Content)
	if err != nil {
		result.Outcome = domain.OutcomeFailed
		result.Errors = append(result.Errors, fmt.Errorf("processor: handle registration message: %w", err))
		return result
	}
	if hr != nil && !hr.Success && hr.Err != nil {
		result.Errors = append(result.Errors, hr.Err)
	}
	result.Outcome = domain.OutcomeRegistration
	return result
}

func looksLikeCommand(text string, prefix string) bool {
	if prefix == "" {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(text), prefix) &&
		len(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), prefix))) > 0
}

func defaultResponse(cfg *config.Config) string {
	if len(cfg.Messages.Responses.Default) == 0 {
		return ""
	}
	return cfg.Messages.Responses.Default[0]
}

func pickGreeting(greetings []string) string {
	if len(greetings) == 0 {
		return ""
	}
	if len(greetings) == 1 {
		return greetings[0]
	}
	hour := time.Now().Hour()
	idx := 0
	switch {
	case hour < 12:
		idx = 0
	case hour < 19:
		idx = 1 % len(greetings)
	default:
		idx = 2 % len(greetings)
	}
	return greetings[idx]
}

func extractPhone(address string) string {
	at := strings.IndexByte(address, '@')
	if at < 0 {
		return address
	}
	digits := strings.Builder{}
	for _, r := range address[:at] {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return digits.String()
}
