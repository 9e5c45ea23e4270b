package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/damamartinez/chatcore/internal/domain"
)

// newUsersHandler implements "!users list|search|info|update|delete|stats",
// addressing users by phone number rather than the raw bridge address.
// update and delete additionally require the caller to be admin; delete
// additionally requires a trailing "confirm" token.
func newUsersHandler(cmdPrefix func() string) HandlerDescriptor {
	return HandlerDescriptor{
		Name:      "users",
		Category:  "admin",
		Priority:  20,
		MinRole:   domain.RoleProvider,
		Sensitive: false,
		Cooldown:  2 * time.Second,
		DailyCap:  300,
		Matcher:   commandMatcher(cmdPrefix, "users"),
		Executor: func(ctx context.Context, req Request) (*domain.HandlerResult, error) {
			if req.Deps == nil || req.Deps.Users == nil {
				return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true,
					Response: "Sin acceso al almacén de usuarios."}, nil
			}
			if len(req.Args) == 0 {
				return usersHelp(), nil
			}
			sub := strings.ToLower(req.Args[0])
			rest := req.Args[1:]

			switch sub {
			case "list":
				return usersList(ctx, req, rest)
			case "search":
				return usersSearch(ctx, req, rest)
			case "info":
				return usersInfo(ctx, req, rest)
			case "update":
				if req.User.Role != domain.RoleAdmin {
					return permissionDenied(req), nil
				}
				return usersUpdate(ctx, req, rest)
			case "delete":
				if req.User.Role != domain.RoleAdmin {
					return permissionDenied(req), nil
				}
				return usersDelete(ctx, req, rest)
			case "stats":
				return adminSystemStats(ctx, req)
			default:
				return usersHelp(), nil
			}
		},
	}
}

func permissionDenied(req Request) *domain.HandlerResult {
	msg := "Permisos insuficientes para ejecutar este comando."
	if req.Deps != nil && req.Deps.ConfigSvc != nil {
		msg = req.Deps.ConfigSvc.Current().Messages.Errors.PermissionDenied
	}
	return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: msg}
}

func usersHelp() *domain.HandlerResult {
	return &domain.HandlerResult{
		Success: true, Claimed: true, ShouldReply: true,
		Response: strings.Join([]string{
			"!users list [limite] [offset]",
			"!users search <termino> [limite]",
			"!users info <telefono>",
			"!users update <telefono> <campo> <valor>  (solo admin)",
			"!users delete <telefono> confirm  (solo admin)",
			"!users stats",
		}, "\n"),
	}
}

func usersList(ctx context.Context, req Request, args []string) (*domain.HandlerResult, error) {
	limit, offset := 20, 0
	if len(args) >= 1 {
		if n, err := strconv.Atoi(args[0]); err == nil {
			limit = n
		}
	}
	if len(args) >= 2 {
		if n, err := strconv.Atoi(args[1]); err == nil {
			offset = n
		}
	}
	users, err := req.Deps.Users.List(ctx, limit, offset)
	if err != nil {
		return &domain.HandlerResult{Success: false, Claimed: true, ShouldReply: true,
			Response: "No se pudo listar usuarios.", Err: err}, nil
	}
	return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: formatUserList(users)}, nil
}

func usersSearch(ctx context.Context, req Request, args []string) (*domain.HandlerResult, error) {
	if len(args) == 0 {
		return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: "Uso: !users search <termino> [limite]"}, nil
	}
	limit := 20
	if len(args) >= 2 {
		if n, err := strconv.Atoi(args[1]); err == nil {
			limit = n
		}
	}
	users, err := req.Deps.Users.Search(ctx, args[0], limit)
	if err != nil {
		return &domain.HandlerResult{Success: false, Claimed: true, ShouldReply: true,
			Response: "No se pudo buscar usuarios.", Err: err}, nil
	}
	return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: formatUserList(users)}, nil
}

func usersInfo(ctx context.Context, req Request, args []string) (*domain.HandlerResult, error) {
	if len(args) == 0 {
		return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: "Uso: !users info <telefono>"}, nil
	}
	u, err := req.Deps.Users.GetByPhone(ctx, args[0])
	if err != nil {
		return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: "Usuario no encontrado."}, nil
	}
	return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: formatUser(*u)}, nil
}

func usersUpdate(ctx context.Context, req Request, args []string) (*domain.HandlerResult, error) {
	if len(args) < 3 {
		return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true,
			Response: "Uso: !users update <telefono> <campo> <valor>"}, nil
	}
	u, err := req.Deps.Users.GetByPhone(ctx, args[0])
	if err != nil {
		return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: "Usuario no encontrado."}, nil
	}
	field := strings.ToLower(args[1])
	value := strings.Join(args[2:], " ")
	switch field {
	case "role":
		if !domain.ValidRole(domain.Role(value)) {
			return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: "Rol inválido."}, nil
		}
		u.Role = domain.Role(value)
	case "displayname", "name":
		u.DisplayName = value
	case "language", "lang":
		u.Language = value
	case "active":
		u.Active = strings.EqualFold(value, "true")
	default:
		return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: "Campo desconocido."}, nil
	}
	if err := req.Deps.Users.Update(ctx, u); err != nil {
		return &domain.HandlerResult{Success: false, Claimed: true, ShouldReply: true,
			Response: "No se pudo actualizar el usuario.", Err: err}, nil
	}
	return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: "Usuario actualizado."}, nil
}

func usersDelete(ctx context.Context, req Request, args []string) (*domain.HandlerResult, error) {
	if len(args) < 2 || !strings.EqualFold(args[len(args)-1], "confirm") {
		return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true,
			Response: "Uso: !users delete <telefono> confirm"}, nil
	}
	u, err := req.Deps.Users.GetByPhone(ctx, args[0])
	if err != nil {
		return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: "Usuario no encontrado."}, nil
	}
	if err := req.Deps.Users.Delete(ctx, u.Address); err != nil {
		return &domain.HandlerResult{Success: false, Claimed: true, ShouldReply: true,
			Response: "No se pudo eliminar el usuario.", Err: err}, nil
	}
	return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: "Usuario eliminado."}, nil
}

func formatUser(u domain.User) string {
	return fmt.Sprintf("%s (%s) | tel: %s | rol: %s | idioma: %s | activo: %v | mensajes: %d",
		u.DisplayName, u.Address, u.Phone, u.Role, u.Language, u.Active, u.MessageCount)
}

func formatUserList(users []domain.User) string {
	if len(users) == 0 {
		return "Sin resultados."
	}
	lines := make([]string, 0, len(users)+1)
	lines = append(lines, fmt.Sprintf("%d usuario(s):", len(users)))
	for _, u := range users {
		lines = append(lines, "  "+formatUser(u))
	}
	return strings.Join(lines, "\n")
}
