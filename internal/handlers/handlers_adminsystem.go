package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/damamartinez/chatcore/internal/domain"
)

// newAdminSystemHandler implements "!admin-system stats|reload|toggle|help",
// the operator surface over C8's configuration service and the integration
// toggle table.
func newAdminSystemHandler(cmdPrefix func() string) HandlerDescriptor {
	return HandlerDescriptor{
		Name:      "admin-system",
		Category:  "admin",
		Priority:  11,
		MinRole:   domain.RoleAdmin,
		Sensitive: true,
		Cooldown:  5 * time.Second,
		DailyCap:  200,
		Matcher:   commandMatcher(cmdPrefix, "admin-system"),
		Executor: func(ctx context.Context, req Request) (*domain.HandlerResult, error) {
			if len(req.Args) == 0 {
				return adminSystemHelp(), nil
			}
			switch strings.ToLower(req.Args[0]) {
			case "stats":
				return adminSystemStats(ctx, req)
			case "reload":
				return adminSystemReload(req)
			case "toggle":
				return adminSystemToggle(ctx, req)
			case "help":
				return adminSystemHelp(), nil
			default:
				return adminSystemHelp(), nil
			}
		},
	}
}

func adminSystemHelp() *domain.HandlerResult {
	return &domain.HandlerResult{
		Success: true, Claimed: true, ShouldReply: true,
		Response: strings.Join([]string{
			"!admin-system stats - resumen de configuración y uso",
			"!admin-system reload - recarga la configuración desde disco",
			"!admin-system toggle <nombre> [on|off] - activa o desactiva una integración",
			"!admin-system help - esta ayuda",
		}, "\n"),
	}
}

func adminSystemStats(ctx context.Context, req Request) (*domain.HandlerResult, error) {
	if req.Deps == nil || req.Deps.Users == nil {
		return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true,
			Response: "Sin acceso al almacén de usuarios."}, nil
	}
	stats, err := req.Deps.Users.Stats(ctx)
	if err != nil {
		return &domain.HandlerResult{Success: false, Claimed: true, ShouldReply: true,
			Response: "No se pudieron obtener las estadísticas.", Err: err}, nil
	}
	lines := []string{
		fmt.Sprintf("Usuarios: %d totales, %d activos", stats.TotalUsers, stats.ActiveUsers),
		fmt.Sprintf("Activos 24h/7d/30d: %d/%d/%d", stats.ActiveLast24h, stats.ActiveLastWeek, stats.ActiveLastMonth),
		fmt.Sprintf("Mensajes totales: %d", stats.TotalMessages),
	}
	for role, count := range stats.ByRole {
		lines = append(lines, fmt.Sprintf("  %s: %d", role, count))
	}
	return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: strings.Join(lines, "\n")}, nil
}

func adminSystemReload(req Request) (*domain.HandlerResult, error) {
	if req.Deps == nil || req.Deps.ConfigSvc == nil {
		return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true,
			Response: "Sin acceso al servicio de configuración."}, nil
	}
	if err := req.Deps.ConfigSvc.Load(); err != nil {
		return &domain.HandlerResult{Success: false, Claimed: true, ShouldReply: true,
			Response: "Recarga fallida, se mantiene la configuración anterior.", Err: err}, nil
	}
	return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: "Configuración recargada."}, nil
}

func adminSystemToggle(ctx context.Context, req Request) (*domain.HandlerResult, error) {
	if req.Deps == nil || req.Deps.Integrations == nil {
		return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true,
			Response: "Sin acceso al registro de integraciones."}, nil
	}
	if len(req.Args) < 2 {
		all, err := req.Deps.Integrations.List(ctx)
		if err != nil {
			return &domain.HandlerResult{Success: false, Claimed: true, ShouldReply: true,
				Response: "No se pudieron listar las integraciones.", Err: err}, nil
		}
		lines := []string{"Integraciones:"}
		for name, enabled := range all {
			lines = append(lines, fmt.Sprintf("  %s: %s", name, onOff(enabled)))
		}
		return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: strings.Join(lines, "\n")}, nil
	}

	name := req.Args[1]
	var target bool
	if len(req.Args) >= 3 {
		target = strings.EqualFold(req.Args[2], "on")
	} else {
		current, _ := req.Deps.Integrations.IsEnabled(ctx, name)
		target = !current
	}
	if err := req.Deps.Integrations.SetEnabled(ctx, name, target); err != nil {
		return &domain.HandlerResult{Success: false, Claimed: true, ShouldReply: true,
			Response: "No se pudo actualizar la integración.", Err: err}, nil
	}
	return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true,
		Response: fmt.Sprintf("%s: %s", name, onOff(target))}, nil
}
