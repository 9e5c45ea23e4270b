package store

import (
	"context"
	"errors"

	"github.com/damamartinez/chatcore/internal/domain"
)

// ErrNotFound is returned when a requested item is not found.
var ErrNotFound = errors.New("not found")

// UserRepository defines operations for user identity persistence. C2.
type UserRepository interface {
	GetByAddress(ctx context.Context, address string) (*domain.User, error)
	GetByPhone(ctx context.Context, phone string) (*domain.User, error)
	Search(ctx context.Context, term string, limit int) ([]domain.User, error)
	List(ctx context.Context, limit, offset int) ([]domain.User, error)
	Create(ctx context.Context, user *domain.User) error
	// Update applies an explicit, operator-driven change (e.g. the admin
	// "!users update" command): every field, including Role, is written as
	// given.
	Update(ctx context.Context, user *domain.User) error
	// UpdateAutoIngest applies a routine, message-driven change (e.g. the
	// registration flow naming a user): it additionally protects a
	// privileged role from being silently downgraded by that path.
	UpdateAutoIngest(ctx context.Context, user *domain.User) error
	Delete(ctx context.Context, address string) error
	RecordInteraction(ctx context.Context, address string) error
	Stats(ctx context.Context) (Stats, error)
}

// RegistrationRepository persists the per-address name-capture sub-state
// consulted and mutated by C4.
type RegistrationRepository interface {
	GetRegistration(ctx context.Context, address string) (*domain.RegistrationData, error)
	SetRegistration(ctx context.Context, address string, data domain.RegistrationData) error
	ClearRegistration(ctx context.Context, address string) error
}

// IntegrationRepository persists simple named on/off toggles, consulted by
// the admin-system "toggle" command.
type IntegrationRepository interface {
	IsEnabled(ctx context.Context, name string) (bool, error)
	SetEnabled(ctx context.Context, name string, enabled bool) error
	List(ctx context.Context) (map[string]bool, error)
}
