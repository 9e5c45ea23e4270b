package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/damamartinez/chatcore/internal/domain"
)

func newStatusHandler(cmdPrefix func() string) HandlerDescriptor {
	return HandlerDescriptor{
		Name:     "status",
		Aliases:  []string{"ping"},
		Category: "general",
		Priority: 101,
		MinRole:  domain.RoleBlock,
		Cooldown: 5 * time.Second,
		Matcher:  commandMatcher(cmdPrefix, "status", "ping"),
		Executor: func(ctx context.Context, req Request) (*domain.HandlerResult, error) {
			if req.Deps == nil || req.Deps.Bridge == nil {
				return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: "pong"}, nil
			}
			h, err := req.Deps.Bridge.HealthCheck(ctx)
			if err != nil {
				return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true,
					Response: "No se pudo verificar el estado del puente."}, nil
			}
			return &domain.HandlerResult{
				Success: true, Claimed: true, ShouldReply: true,
				Response: fmt.Sprintf("Puente: %s | WhatsApp: %s", onOff(h.BridgeAvailable), onOff(h.WhatsAppConnected)),
			}, nil
		},
	}
}

func onOff(b bool) string {
	if b {
		return "activo"
	}
	return "inactivo"
}
