package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damamartinez/chatcore/internal/config"
	"github.com/damamartinez/chatcore/internal/domain"
)

type alwaysAllowGuard struct {
	allow      bool
	allowUsage bool
}

func (g alwaysAllowGuard) AllowCommand(address string, role domain.Role) bool { return g.allow }

func (g alwaysAllowGuard) AllowCommandUsage(address, commandName string, cooldown time.Duration, dailyCap int) bool {
	return g.allowUsage
}

func testCfgFunc() func() *config.Config {
	cfg := config.DefaultConfig()
	return func() *config.Config { return cfg }
}

func echoHandler(name string, priority int, minRole domain.Role, sensitive bool) HandlerDescriptor {
	return HandlerDescriptor{
		Name:      name,
		Priority:  priority,
		MinRole:   minRole,
		Sensitive: sensitive,
		Matcher:   func(text string, c domain.Classification) bool { return text == name },
		Executor: func(ctx context.Context, req Request) (*domain.HandlerResult, error) {
			return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: name}, nil
		},
	}
}

func TestRegistry_RejectsDuplicateAlias(t *testing.T) {
	r := NewRegistry(alwaysAllowGuard{allow: true, allowUsage: true}, testCfgFunc(), &Deps{})
	require.NoError(t, r.Register(HandlerDescriptor{Name: "a", Aliases: []string{"x"}, Matcher: func(string, domain.Classification) bool { return false }}))
	err := r.Register(HandlerDescriptor{Name: "b", Aliases: []string{"x"}, Matcher: func(string, domain.Classification) bool { return false }})
	assert.Error(t, err)
}

func TestRegistry_DispatchPicksHighestPriorityMatch(t *testing.T) {
	r := NewRegistry(alwaysAllowGuard{allow: true, allowUsage: true}, testCfgFunc(), &Deps{})
	require.NoError(t, r.Register(echoHandler("cmd", 50, domain.RoleBlock, false)))
	first := echoHandler("cmd", 10, domain.RoleBlock, false)
	first.Name = "cmd-first"
	first.Executor = func(ctx context.Context, req Request) (*domain.HandlerResult, error) {
		return &domain.HandlerResult{Success: true, Claimed: true, ShouldReply: true, Response: "first"}, nil
	}
	require.NoError(t, r.Register(first))

	user := &domain.User{Address: "addr", Role: domain.RoleCustomer}
	result, err := r.Dispatch(context.Background(), &domain.IncomingMessage{Content: "cmd"}, user, domain.Classification{})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "first", result.Response)
}

func TestRegistry_DeniesBelowMinRole(t *testing.T) {
	r := NewRegistry(alwaysAllowGuard{allow: true, allowUsage: true}, testCfgFunc(), &Deps{})
	require.NoError(t, r.Register(echoHandler("admincmd", 10, domain.RoleAdmin, false)))

	user := &domain.User{Address: "addr", Role: domain.RoleCustomer}
	result, err := r.Dispatch(context.Background(), &domain.IncomingMessage{Content: "admincmd"}, user, domain.Classification{})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotEqual(t, "admincmd", result.Response)
}

func TestRegistry_SensitiveRequiresAdminRegardlessOfMinRole(t *testing.T) {
	r := NewRegistry(alwaysAllowGuard{allow: true, allowUsage: true}, testCfgFunc(), &Deps{})
	require.NoError(t, r.Register(echoHandler("sens", 10, domain.RoleBlock, true)))

	user := &domain.User{Address: "addr", Role: domain.RoleEmployee}
	result, err := r.Dispatch(context.Background(), &domain.IncomingMessage{Content: "sens"}, user, domain.Classification{})
	require.NoError(t, err)
	assert.NotEqual(t, "sens", result.Response)
}

func TestRegistry_DeniesWhenCommandQuotaExhausted(t *testing.T) {
	r := NewRegistry(alwaysAllowGuard{allow: false}, testCfgFunc(), &Deps{})
	require.NoError(t, r.Register(echoHandler("cmd", 10, domain.RoleBlock, false)))

	user := &domain.User{Address: "addr", Role: domain.RoleCustomer}
	result, err := r.Dispatch(context.Background(), &domain.IncomingMessage{Content: "cmd"}, user, domain.Classification{})
	require.NoError(t, err)
	assert.NotEqual(t, "cmd", result.Response)
}

func TestRegistry_DeniesWhenCommandCooldownOrCapExhausted(t *testing.T) {
	r := NewRegistry(alwaysAllowGuard{allow: true, allowUsage: false}, testCfgFunc(), &Deps{})
	require.NoError(t, r.Register(echoHandler("cmd", 10, domain.RoleBlock, false)))

	user := &domain.User{Address: "addr", Role: domain.RoleCustomer}
	result, err := r.Dispatch(context.Background(), &domain.IncomingMessage{Content: "cmd"}, user, domain.Classification{})
	require.NoError(t, err)
	assert.NotEqual(t, "cmd", result.Response)
}

func TestRegistry_NoMatchReturnsNil(t *testing.T) {
	r := NewRegistry(alwaysAllowGuard{allow: true, allowUsage: true}, testCfgFunc(), &Deps{})
	require.NoError(t, r.Register(echoHandler("cmd", 10, domain.RoleBlock, false)))

	user := &domain.User{Address: "addr", Role: domain.RoleCustomer}
	result, err := r.Dispatch(context.Background(), &domain.IncomingMessage{Content: "unrelated"}, user, domain.Classification{})
	require.NoError(t, err)
	assert.Nil(t, result)
}
