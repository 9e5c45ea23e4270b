// Package handlers implements the command registry (C6): a priority-ordered
// table of command descriptors dispatched against every inbound message.
// Commands register at runtime as a sorted slice of predicates instead of
// compiling into a fixed switch.
package handlers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/damamartinez/chatcore/internal/config"
	"github.com/damamartinez/chatcore/internal/domain"
)

// RateGuard is the C5 surface the registry consults before invoking a
// matched command.
type RateGuard interface {
	AllowCommand(address string, role domain.Role) bool
	// AllowCommandUsage checks and consumes one invocation of commandName's
	// own cooldown/day-cap for address, independent of the per-role hourly
	// quota AllowCommand enforces. A zero cooldown or dailyCap means that
	// axis is unbounded.
	AllowCommandUsage(address, commandName string, cooldown time.Duration, dailyCap int) bool
}

// Matcher reports whether a descriptor should handle this message.
type Matcher func(text string, c domain.Classification) bool

// Executor runs a matched command and produces the reply.
type Executor func(ctx context.Context, req Request) (*domain.HandlerResult, error)

// Request is everything an Executor needs. Args is the whitespace-split
// text with the command token itself removed.
type Request struct {
	Message        *domain.IncomingMessage
	User           *domain.User
	Classification domain.Classification
	Args           []string
	RawText        string
	Deps           *Deps
}

// HandlerDescriptor is one registrable command.
type HandlerDescriptor struct {
	Name      string
	Aliases   []string
	Category  string
	Priority  int
	MinRole   domain.Role
	Sensitive bool
	// Cooldown is the minimum interval between two invocations of this
	// command from the same address. Zero means no cooldown.
	Cooldown time.Duration
	// DailyCap bounds how many times this command may run for the same
	// address in a calendar day. Zero means unbounded.
	DailyCap int
	Matcher  Matcher
	Executor Executor
}

func (d HandlerDescriptor) names() []string {
	return append([]string{d.Name}, d.Aliases...)
}

// Registry holds every registered HandlerDescriptor in ascending priority
// order and dispatches one inbound message to the first match.
type Registry struct {
	guard RateGuard
	cfg   func() *config.Config
	deps  *Deps

	mu       sync.RWMutex
	handlers []HandlerDescriptor
	seen     map[string]string // alias -> owning handler name, for uniqueness
}

// NewRegistry builds an empty Registry. deps is handed to every executor's
// Request so handlers can reach the store, bridge client, and config
// service without the registry itself depending on their concrete types.
func NewRegistry(guard RateGuard, cfg func() *config.Config, deps *Deps) *Registry {
	return &Registry{guard: guard, cfg: cfg, deps: deps, seen: make(map[string]string)}
}

// Register adds d to the registry. It fails if any of d's name/aliases is
// already claimed by another handler.
func (r *Registry) Register(d HandlerDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, n := range d.names() {
		key := strings.ToLower(n)
		if owner, ok := r.seen[key]; ok {
			return fmt.Errorf("handlers: alias %q already registered by %q", n, owner)
		}
	}
	for _, n := range d.names() {
		r.seen[strings.ToLower(n)] = d.Name
	}

	r.handlers = append(r.handlers, d)
	sort.SliceStable(r.handlers, func(i, j int) bool {
		return r.handlers[i].Priority < r.handlers[j].Priority
	})
	return nil
}

// Dispatch walks registered handlers in priority order and runs the first
// one that matches and is permitted.
func (r *Registry) Dispatch(ctx context.Context, msg *domain.IncomingMessage, user *domain.User, classification domain.Classification) (*domain.HandlerResult, error) {
	r.mu.RLock()
	handlers := make([]HandlerDescriptor, len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.RUnlock()

	cfg := r.cfg()
	text := strings.TrimSpace(msg.Content)

	for _, d := range handlers {
		if !d.Matcher(text, classification) {
			continue
		}

		if d.Sensitive && user.Role != domain.RoleAdmin {
			return &domain.HandlerResult{
				Claimed:     true,
				ShouldReply: true,
				Response:    cfg.Messages.Errors.PermissionDenied,
			}, nil
		}
		if !user.Role.AtLeast(d.MinRole) {
			return &domain.HandlerResult{
				Claimed:     true,
				ShouldReply: true,
				Response:    cfg.Messages.Errors.PermissionDenied,
			}, nil
		}

		if r.guard != nil && !r.guard.AllowCommand(user.Address, user.Role) {
			return &domain.HandlerResult{
				Claimed:     true,
				ShouldReply: true,
				Response:    cfg.Messages.Errors.QuotaExceeded,
			}, nil
		}
		if r.guard != nil && !r.guard.AllowCommandUsage(user.Address, d.Name, d.Cooldown, d.DailyCap) {
			return &domain.HandlerResult{
				Claimed:     true,
				ShouldReply: true,
				Response:    cfg.Messages.Errors.QuotaExceeded,
			}, nil
		}

		req := Request{
			Message:        msg,
			User:           user,
			Classification: classification,
			Args:           tokenizeArgs(text),
			RawText:        text,
			Deps:           r.deps,
		}
		result, err := d.Executor(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("handlers: %s: %w", d.Name, err)
		}
		if result.Claimed || result.Response != "" {
			if result.Data == nil {
				result.Data = map[string]any{}
			}
			result.Data["handler"] = d.Name
			return result, nil
		}
	}

	return nil, nil
}

func tokenizeArgs(text string) []string {
	fields := strings.Fields(text)
	if len(fields) <= 1 {
		return nil
	}
	return fields[1:]
}
