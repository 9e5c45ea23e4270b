package handlers

import (
	"context"
	"strings"

	"github.com/damamartinez/chatcore/internal/domain"
)

func commandMatcher(cfg func() string, name string, aliases ...string) Matcher {
	names := append([]string{name}, aliases...)
	return func(text string, c domain.Classification) bool {
		prefix := cfg()
		if !strings.HasPrefix(text, prefix) {
			return false
		}
		word := strings.Fields(strings.TrimPrefix(text, prefix))
		if len(word) == 0 {
			return false
		}
		token := strings.ToLower(word[0])
		for _, n := range names {
			if token == n {
				return true
			}
		}
		return false
	}
}

func newHelpHandler(cmdPrefix func() string) HandlerDescriptor {
	return HandlerDescriptor{
		Name:     "help",
		Category: "general",
		Priority: 100,
		MinRole:  domain.RoleBlock,
		Matcher:  commandMatcher(cmdPrefix, "help", "ayuda"),
		Executor: func(ctx context.Context, req Request) (*domain.HandlerResult, error) {
			return &domain.HandlerResult{
				Success:     true,
				Claimed:     true,
				ShouldReply: true,
				Response:    strings.Join(helpLines(req), "\n"),
			}, nil
		},
	}
}

func helpLines(req Request) []string {
	lines := []string{"Comandos disponibles:", "!help - esta ayuda", "!status - estado del bot"}
	if req.User.Role.AtLeast(domain.RoleProvider) {
		lines = append(lines, "!users list|search|info|update|delete|stats - gestión de usuarios")
		lines = append(lines, "!chats, !history <telefono> - historial de conversación")
	}
	if req.User.Role == domain.RoleAdmin {
		lines = append(lines, "!admin - panel de administración")
		lines = append(lines, "!diagnostic stats|contextual|test|all - diagnóstico")
		lines = append(lines, "!qr, !bridge-health - estado del puente")
	}
	return lines
}
