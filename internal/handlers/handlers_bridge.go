package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/damamartinez/chatcore/internal/domain"
)

// newQRHandler implements the admin-only "!qr" command, surfacing the
// bridge's pending login QR payload.
func newQRHandler(cmdPrefix func() string) HandlerDescriptor {
	return HandlerDescriptor{
		Name:      "qr",
		Category:  "bridge",
		Priority:  30,
		MinRole:   domain.RoleAdmin,
		Sensitive: true,
		Cooldown:  60 * time.Second,
		DailyCap:  20,
		Matcher:   commandMatcher(cmdPrefix, "qr"),
		Executor: func(ctx context.Context, req Request) (*domain.HandlerResult, error) {
			if req.Deps == nil || req.Deps.Bridge == nil {
				return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: "Sin acceso al puente."}, nil
			}
			qr, available, err := req.Deps.Bridge.GetQR(ctx)
			if err != nil {
				return &domain.HandlerResult{Success: false, Claimed: true, ShouldReply: true,
					Response: "No se pudo obtener el código QR.", Err: err}, nil
			}
			if !available {
				return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true,
					Response: "No hay un código QR pendiente; la sesión ya está vinculada."}, nil
			}
			return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: qr}, nil
		},
	}
}

// newBridgeHandler implements "!bridge", reporting the bridge's connection
// snapshot.
func newBridgeHandler(cmdPrefix func() string) HandlerDescriptor {
	return HandlerDescriptor{
		Name:     "bridge",
		Category: "bridge",
		Priority: 31,
		MinRole:  domain.RoleProvider,
		Cooldown: 10 * time.Second,
		Matcher:  commandMatcher(cmdPrefix, "bridge"),
		Executor: func(ctx context.Context, req Request) (*domain.HandlerResult, error) {
			if req.Deps == nil || req.Deps.Bridge == nil {
				return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: "Sin acceso al puente."}, nil
			}
			conn, err := req.Deps.Bridge.GetConnection(ctx)
			if err != nil {
				return &domain.HandlerResult{Success: false, Claimed: true, ShouldReply: true,
					Response: "No se pudo consultar el puente.", Err: err}, nil
			}
			return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true,
				Response: fmt.Sprintf("Estado: %s | conectado: %v | telefono: %s", conn.State, conn.LoggedIn, conn.Phone)}, nil
		},
	}
}

// newBridgeHealthHandler implements the admin-only "!bridge-health", which
// exposes C1's two orthogonal health bits separately.
func newBridgeHealthHandler(cmdPrefix func() string) HandlerDescriptor {
	return HandlerDescriptor{
		Name:      "bridge-health",
		Category:  "bridge",
		Priority:  32,
		MinRole:   domain.RoleAdmin,
		Sensitive: true,
		Cooldown:  30 * time.Second,
		Matcher:   commandMatcher(cmdPrefix, "bridge-health"),
		Executor: func(ctx context.Context, req Request) (*domain.HandlerResult, error) {
			if req.Deps == nil || req.Deps.Bridge == nil {
				return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: "Sin acceso al puente."}, nil
			}
			h, err := req.Deps.Bridge.HealthCheck(ctx)
			if err != nil {
				return &domain.HandlerResult{Success: false, Claimed: true, ShouldReply: true,
					Response: "No se pudo verificar la salud del puente.", Err: err}, nil
			}
			return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true,
				Response: fmt.Sprintf("bridge_available=%v whatsapp_connected=%v", h.BridgeAvailable, h.WhatsAppConnected)}, nil
		},
	}
}

// newChatsHandler implements "!chats [limit]".
func newChatsHandler(cmdPrefix func() string) HandlerDescriptor {
	return HandlerDescriptor{
		Name:     "chats",
		Category: "bridge",
		Priority: 33,
		MinRole:  domain.RoleProvider,
		Cooldown: 5 * time.Second,
		DailyCap: 200,
		Matcher:  commandMatcher(cmdPrefix, "chats"),
		Executor: func(ctx context.Context, req Request) (*domain.HandlerResult, error) {
			if req.Deps == nil || req.Deps.Bridge == nil {
				return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: "Sin acceso al puente."}, nil
			}
			limit := 20
			if len(req.Args) >= 1 {
				if n, err := strconv.Atoi(req.Args[0]); err == nil {
					limit = n
				}
			}
			chats, err := req.Deps.Bridge.GetChats(ctx, limit)
			if err != nil {
				return &domain.HandlerResult{Success: false, Claimed: true, ShouldReply: true,
					Response: "No se pudo obtener la lista de chats.", Err: err}, nil
			}
			if len(chats) == 0 {
				return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: "Sin chats recientes."}, nil
			}
			lines := make([]string, 0, len(chats)+1)
			lines = append(lines, fmt.Sprintf("%d chat(s):", len(chats)))
			for _, c := range chats {
				lines = append(lines, fmt.Sprintf("  %s (%s) - %s", c.Name, c.Address, c.LastMessage))
			}
			return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: strings.Join(lines, "\n")}, nil
		},
	}
}

// newHistoryHandler implements "!history <address> [limit]".
func newHistoryHandler(cmdPrefix func() string) HandlerDescriptor {
	return HandlerDescriptor{
		Name:     "history",
		Category: "bridge",
		Priority: 34,
		MinRole:  domain.RoleProvider,
		Cooldown: 5 * time.Second,
		DailyCap: 200,
		Matcher:  commandMatcher(cmdPrefix, "history"),
		Executor: func(ctx context.Context, req Request) (*domain.HandlerResult, error) {
			if req.Deps == nil || req.Deps.Bridge == nil {
				return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: "Sin acceso al puente."}, nil
			}
			if len(req.Args) == 0 {
				return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: "Uso: !history <telefono_o_jid> [limite]"}, nil
			}
			limit := 20
			if len(req.Args) >= 2 {
				if n, err := strconv.Atoi(req.Args[1]); err == nil {
					limit = n
				}
			}
			msgs, err := req.Deps.Bridge.GetHistory(ctx, req.Args[0], limit)
			if err != nil {
				return &domain.HandlerResult{Success: false, Claimed: true, ShouldReply: true,
					Response: "No se pudo obtener el historial.", Err: err}, nil
			}
			if len(msgs) == 0 {
				return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: "Sin historial."}, nil
			}
			lines := make([]string, 0, len(msgs)+1)
			lines = append(lines, fmt.Sprintf("%d mensaje(s):", len(msgs)))
			for _, m := range msgs {
				who := "ellos"
				if m.FromMe {
					who = "yo"
				}
				lines = append(lines, fmt.Sprintf("  [%s] %s: %s", m.Timestamp.Format("15:04"), who, m.Text))
			}
			return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: strings.Join(lines, "\n")}, nil
		},
	}
}
