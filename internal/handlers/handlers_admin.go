package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/damamartinez/chatcore/internal/domain"
)

// newAdminHandler builds the "!admin" panel: a quick-glance summary for
// admins, listing population counts and the admin-only command surface.
func newAdminHandler(cmdPrefix func() string) HandlerDescriptor {
	return HandlerDescriptor{
		Name:      "admin",
		Category:  "admin",
		Priority:  10,
		MinRole:   domain.RoleAdmin,
		Sensitive: true,
		Cooldown:  3 * time.Second,
		Matcher:   commandMatcher(cmdPrefix, "admin"),
		Executor: func(ctx context.Context, req Request) (*domain.HandlerResult, error) {
			lines := []string{"Panel de administración:"}
			if req.Deps != nil && req.Deps.Users != nil {
				if stats, err := req.Deps.Users.Stats(ctx); err == nil {
					lines = append(lines, fmt.Sprintf("Usuarios totales: %d (activos: %d)", stats.TotalUsers, stats.ActiveUsers))
				}
			}
			lines = append(lines,
				"!admin-system stats|reload|toggle|help",
				"!diagnostic stats|contextual|test|all",
				"!users list|search|info|update|delete|stats",
				"!qr, !bridge, !bridge-health, !chats, !history",
			)
			return &domain.HandlerResult{
				Success: true, Claimed: true, ShouldReply: true,
				Response: strings.Join(lines, "\n"),
			}, nil
		},
	}
}
