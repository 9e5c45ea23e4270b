package handlers

import (
	"context"

	"github.com/damamartinez/chatcore/internal/bridgeclient"
	"github.com/damamartinez/chatcore/internal/config"
	"github.com/damamartinez/chatcore/internal/domain"
	"github.com/damamartinez/chatcore/internal/store"
)

// UserStore is the subset of store.UserRepository the built-in "users"
// command family needs.
type UserStore interface {
	GetByAddress(ctx context.Context, address string) (*domain.User, error)
	GetByPhone(ctx context.Context, phone string) (*domain.User, error)
	Search(ctx context.Context, term string, limit int) ([]domain.User, error)
	List(ctx context.Context, limit, offset int) ([]domain.User, error)
	Update(ctx context.Context, user *domain.User) error
	Delete(ctx context.Context, address string) error
	Stats(ctx context.Context) (store.Stats, error)
}

// Bridge is the subset of bridgeclient.Client the bridge-facing command
// family needs.
type Bridge interface {
	GetQR(ctx context.Context) (string, bool, error)
	GetChats(ctx context.Context, limit int) ([]bridgeclient.ChatSummary, error)
	GetHistory(ctx context.Context, address string, limit int) ([]bridgeclient.Message, error)
	HealthCheck(ctx context.Context) (bridgeclient.Health, error)
	GetConnection(ctx context.Context) (bridgeclient.Connection, error)
}

// ConfigReloader is the subset of config.Service the admin-system command
// family needs.
type ConfigReloader interface {
	Current() *config.Config
	Load() error
}

// Integrations is the subset of store.IntegrationRepository the
// admin-system "toggle" command needs.
type Integrations interface {
	IsEnabled(ctx context.Context, name string) (bool, error)
	SetEnabled(ctx context.Context, name string, enabled bool) error
	List(ctx context.Context) (map[string]bool, error)
}

// Deps bundles the collaborators built-in handlers reach outside of their
// own Request. Any field may be nil in tests that don't exercise it.
type Deps struct {
	Users        UserStore
	Bridge       Bridge
	ConfigSvc    ConfigReloader
	Integrations Integrations
	StartedAt    func() string
}
