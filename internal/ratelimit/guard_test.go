package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damamartinez/chatcore/internal/config"
	"github.com/damamartinez/chatcore/internal/domain"
)

func testGuard(t *testing.T) *Guard {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.RateLimit.DefaultInterval = 50 * time.Millisecond
	cfg.RateLimit.CommandInterval = 20 * time.Millisecond
	cfg.RateLimit.QuestionDivisor = 2
	cfg.RateLimit.MaxDailyDefault = 3
	cfg.RateLimit.DedupCapacity = 100
	cfg.RateLimit.DedupTTL = time.Hour
	g := NewGuard(func() *config.Config { return cfg }, nil)
	return g
}

func TestGuard_IsDuplicate(t *testing.T) {
	g := testGuard(t)
	assert.False(t, g.IsDuplicate("msg-1"))
	assert.True(t, g.IsDuplicate("msg-1"))
	assert.False(t, g.IsDuplicate("msg-2"))
}

func TestGuard_CanRespond_FirstCallAlwaysAllowed(t *testing.T) {
	g := testGuard(t)
	assert.True(t, g.CanRespond("addr-1", domain.KindContextual, false))
}

func TestGuard_CanRespond_CooldownBoundary(t *testing.T) {
	g := testGuard(t)
	require.True(t, g.CanRespond("addr-1", domain.KindContextual, false))
	g.RecordResponse("addr-1")

	// Well inside the cooldown window: denied.
	assert.False(t, g.CanRespond("addr-1", domain.KindContextual, false))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, g.CanRespond("addr-1", domain.KindContextual, false))
}

func TestGuard_CanRespond_CommandsUseShorterInterval(t *testing.T) {
	g := testGuard(t)
	require.True(t, g.CanRespond("addr-1", domain.KindCommand, false))
	g.RecordResponse("addr-1")

	time.Sleep(25 * time.Millisecond)
	assert.True(t, g.CanRespond("addr-1", domain.KindCommand, false))
}

func TestGuard_CanRespond_AdminBypassesCooldownAndDailyCap(t *testing.T) {
	g := testGuard(t)
	for i := 0; i < 10; i++ {
		assert.True(t, g.CanRespond("addr-admin", domain.KindContextual, true))
	}
}

func TestGuard_CanRespond_DailyCapThenRollover(t *testing.T) {
	g := testGuard(t)
	addr := "addr-daily"

	for i := 0; i < 3; i++ {
		require.True(t, g.CanRespond(addr, domain.KindContextual, false), "iteration %d", i)
		g.RecordResponse(addr)
		time.Sleep(60 * time.Millisecond)
	}

	assert.False(t, g.CanRespond(addr, domain.KindContextual, false))

	st := g.getState(addr)
	st.mu.Lock()
	st.dailyDay = st.dailyDay - 1
	st.mu.Unlock()

	assert.True(t, g.CanRespond(addr, domain.KindContextual, false))
}

func TestGuard_AllowCommand_HourlyQuotaPerRole(t *testing.T) {
	g := testGuard(t)
	cfg := g.cfg()
	cfg.RateLimit.HourlyQuota["customer"] = 2

	assert.True(t, g.AllowCommand("addr-1", domain.RoleCustomer))
	assert.True(t, g.AllowCommand("addr-1", domain.RoleCustomer))
	assert.False(t, g.AllowCommand("addr-1", domain.RoleCustomer))
}

func TestGuard_AllowCommand_UnknownRoleFallsBackToCustomerQuota(t *testing.T) {
	g := testGuard(t)
	cfg := g.cfg()
	cfg.RateLimit.HourlyQuota["customer"] = 1
	delete(cfg.RateLimit.HourlyQuota, "friend")

	assert.True(t, g.AllowCommand("addr-1", domain.RoleFriend))
	assert.False(t, g.AllowCommand("addr-1", domain.RoleFriend))
}

func TestGuard_AllowCommand_IndependentPerAddress(t *testing.T) {
	g := testGuard(t)
	cfg := g.cfg()
	cfg.RateLimit.HourlyQuota["customer"] = 1

	assert.True(t, g.AllowCommand("addr-1", domain.RoleCustomer))
	assert.True(t, g.AllowCommand("addr-2", domain.RoleCustomer))
}

func TestGuard_AllowCommandUsage_CooldownBoundary(t *testing.T) {
	g := testGuard(t)
	require.True(t, g.AllowCommandUsage("addr-1", "diagnostic", 30*time.Millisecond, 0))

	assert.False(t, g.AllowCommandUsage("addr-1", "diagnostic", 30*time.Millisecond, 0))

	time.Sleep(40 * time.Millisecond)
	assert.True(t, g.AllowCommandUsage("addr-1", "diagnostic", 30*time.Millisecond, 0))
}

func TestGuard_AllowCommandUsage_DailyCap(t *testing.T) {
	g := testGuard(t)
	for i := 0; i < 2; i++ {
		require.True(t, g.AllowCommandUsage("addr-1", "qr", 0, 2), "iteration %d", i)
	}
	assert.False(t, g.AllowCommandUsage("addr-1", "qr", 0, 2))
}

func TestGuard_AllowCommandUsage_IndependentPerCommand(t *testing.T) {
	g := testGuard(t)
	require.True(t, g.AllowCommandUsage("addr-1", "qr", time.Hour, 0))
	assert.True(t, g.AllowCommandUsage("addr-1", "status", time.Hour, 0))
}

func TestGuard_AllowCommandUsage_ZeroValuesAreUnbounded(t *testing.T) {
	g := testGuard(t)
	for i := 0; i < 10; i++ {
		assert.True(t, g.AllowCommandUsage("addr-1", "help", 0, 0))
	}
}

func TestGuard_StartStop(t *testing.T) {
	g := testGuard(t)
	g.Start()
	g.Stop()
}
