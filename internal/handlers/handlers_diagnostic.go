package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/damamartinez/chatcore/internal/classify"
	"github.com/damamartinez/chatcore/internal/domain"
)

// newDiagnosticHandler implements "!diagnostic stats|contextual|test|all",
// an admin-only introspection surface over C3's classifier and C2's
// population stats.
func newDiagnosticHandler(cmdPrefix func() string) HandlerDescriptor {
	return HandlerDescriptor{
		Name:      "diagnostic",
		Category:  "admin",
		Priority:  12,
		MinRole:   domain.RoleAdmin,
		Sensitive: true,
		Cooldown:  10 * time.Second,
		DailyCap:  50,
		Matcher:   commandMatcher(cmdPrefix, "diagnostic"),
		Executor: func(ctx context.Context, req Request) (*domain.HandlerResult, error) {
			if len(req.Args) == 0 {
				return diagnosticHelp(), nil
			}
			switch strings.ToLower(req.Args[0]) {
			case "stats":
				return adminSystemStats(ctx, req)
			case "contextual":
				return diagnosticContextual(req), nil
			case "test":
				return diagnosticTest(req), nil
			case "all":
				return diagnosticAll(ctx, req)
			default:
				return diagnosticHelp(), nil
			}
		},
	}
}

func diagnosticHelp() *domain.HandlerResult {
	return &domain.HandlerResult{
		Success: true, Claimed: true, ShouldReply: true,
		Response: strings.Join([]string{
			"!diagnostic stats - estadísticas de usuarios",
			"!diagnostic contextual - vocabulario contextual activo",
			"!diagnostic test <texto> - clasifica un texto de prueba",
			"!diagnostic all - ejecuta todo lo anterior",
		}, "\n"),
	}
}

func diagnosticContextual(req Request) *domain.HandlerResult {
	if req.Deps == nil || req.Deps.ConfigSvc == nil {
		return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: "Sin configuración disponible."}
	}
	kw := req.Deps.ConfigSvc.Current().Messages.Classifier
	return &domain.HandlerResult{
		Success: true, Claimed: true, ShouldReply: true,
		Response: fmt.Sprintf("Palabras contextuales: %s", strings.Join(kw.Contextual, ", ")),
	}
}

func diagnosticTest(req Request) *domain.HandlerResult {
	if req.Deps == nil || req.Deps.ConfigSvc == nil {
		return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: "Sin configuración disponible."}
	}
	if len(req.Args) < 2 {
		return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true,
			Response: "Uso: !diagnostic test <texto>"}
	}
	cfg := req.Deps.ConfigSvc.Current()
	text := strings.Join(req.Args[1:], " ")
	c := classify.Classify(text, cfg.Messages.Classifier, []string{cfg.Bot.CommandPrefix})
	secondary := make([]string, 0, len(c.Secondary))
	for k := range c.Secondary {
		secondary = append(secondary, string(k))
	}
	return &domain.HandlerResult{
		Success: true, Claimed: true, ShouldReply: true,
		Response: fmt.Sprintf("primary=%s confidence=%.2f secondary=[%s] sentiment=%s",
			c.Primary, c.Confidence, strings.Join(secondary, ","), c.Sentiment),
	}
}

func diagnosticAll(ctx context.Context, req Request) (*domain.HandlerResult, error) {
	stats, err := adminSystemStats(ctx, req)
	if err != nil {
		return nil, err
	}
	parts := []string{stats.Response, diagnosticContextual(req).Response}
	if len(req.Args) >= 2 {
		parts = append(parts, diagnosticTest(req).Response)
	}
	return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: strings.Join(parts, "\n---\n")}, nil
}
