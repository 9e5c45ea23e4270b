// Package processor implements C7, the message processor: the end-to-end
// pipeline wiring the dedup/rate guard, the user store, the classifier, the
// registration engine, and the handler registry into one Process call per
// inbound message, bracketing the typing/read side effects and a
// per-pipeline timeout around dispatch.
package processor

import (
	"context"

	"github.com/damamartinez/chatcore/internal/domain"
)

// UserStore is the subset of store.UserRepository the processor needs to
// identify the sender (C2).
type UserStore interface {
	GetByAddress(ctx context.Context, address string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
	RecordInteraction(ctx context.Context, address string) error
}

// Bridge is the subset of bridgeclient.Client the processor needs to
// deliver the outbound side effects (C1).
type Bridge interface {
	Send(ctx context.Context, address, text string) (string, error)
	SendMedia(ctx context.Context, address, localPath, caption string) (string, error)
	SetTyping(ctx context.Context, address string, on bool) error
	MarkRead(ctx context.Context, address, messageID string) error
}

// RateGuard is the subset of ratelimit.Guard the processor consults (C5).
type RateGuard interface {
	IsDuplicate(id string) bool
	CanRespond(address string, kind domain.Kind, isAdmin bool) bool
	RecordResponse(address string)
}

// Registry is the subset of handlers.Registry the processor dispatches
// through (C6).
type Registry interface {
	Dispatch(ctx context.Context, msg *domain.IncomingMessage, user *domain.User, c domain.Classification) (*domain.HandlerResult, error)
}

// RegistrationEngine is the subset of registration.Engine the processor
// drives for unregistered senders (C4).
type RegistrationEngine interface {
	BeginWithPreamble(ctx context.Context, address, preamble string) error
	HandleMessage(ctx context.Context, user *domain.User, text string) (*domain.HandlerResult, error)
}
