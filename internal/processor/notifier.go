package processor

import (
	"context"
	"fmt"

	"github.com/damamartinez/chatcore/internal/config"
	"github.com/damamartinez/chatcore/internal/domain"
)

// notifierUserStore is the subset of store.UserRepository the notifier
// needs to persist a captured or fallback name.
type notifierUserStore interface {
	UpdateAutoIngest(ctx context.Context, user *domain.User) error
}

// notifierBridge is the subset of bridgeclient.Client the notifier needs to
// speak to the registering address and the owner.
type notifierBridge interface {
	Send(ctx context.Context, address, text string) (string, error)
}

// notifier wires registration.Notifier to the store and the bridge: naming
// a user persists through the store, every outbound text goes through the
// bridge, and a completed registration also pings the configured owner.
type notifier struct {
	store  notifierUserStore
	bridge notifierBridge
	cfg    func() *config.Config
}

// NewNotifier builds the registration.Notifier implementation used by the
// running core.
func NewNotifier(store notifierUserStore, bridge notifierBridge, cfg func() *config.Config) *notifier {
	return &notifier{store: store, bridge: bridge, cfg: cfg}
}

func (n *notifier) UpdateName(ctx context.Context, user *domain.User, name string, isTemporary bool) error {
	user.DisplayName = name
	user.Registration.Step = domain.StepCompleted
	if err := n.store.UpdateAutoIngest(ctx, user); err != nil {
		return fmt.Errorf("notifier: update name: %w", err)
	}
	return nil
}

func (n *notifier) SendMessage(ctx context.Context, address, text string) error {
	_, err := n.bridge.Send(ctx, address, text)
	return err
}

func (n *notifier) NotifyRegistered(ctx context.Context, address, name string) error {
	cfg := n.cfg()
	if cfg.OwnerPhone == "" {
		return nil
	}
	_, err := n.bridge.Send(ctx, cfg.OwnerPhone, fmt.Sprintf("Nuevo usuario registrado: %s (%s)", name, address))
	return err
}
