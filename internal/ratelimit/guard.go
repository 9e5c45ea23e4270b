// Package ratelimit implements the duplicate-message filter and the
// per-address cooldown/daily-cap/hourly-command-quota guard that sits in
// front of every outbound reply and every command dispatch.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/damamartinez/chatcore/internal/config"
	"github.com/damamartinez/chatcore/internal/domain"
)

// addressState is the mutable rate-limiting state owned by one address.
type addressState struct {
	mu           sync.Mutex
	limiter      *rate.Limiter
	lastResponse time.Time
	lastSeen     time.Time
	dailyCount   int
	dailyDay     int // time.Now().YearDay() the count applies to
	hourlyCount  int
	hourlyWindow int64 // unix hour bucket the count applies to
	commands     map[string]*commandUsage
}

// commandUsage is the per-(address, command) cooldown/day-cap state
// HandlerDescriptor.Cooldown and HandlerDescriptor.DailyCap are checked
// against, independent of the address-wide hourly role quota.
type commandUsage struct {
	lastUsed   time.Time
	dailyCount int
	dailyDay   int
}

// Guard is the C5 rate & dedup guard: a bounded TTL dedup cache for
// already-processed message ids, plus per-address cooldown, daily cap, and
// hourly command quota tracking.
type Guard struct {
	dedup *expirable.LRU[string, struct{}]
	cfg   func() *config.Config
	log   *slog.Logger

	mu        sync.Mutex
	addresses map[string]*addressState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGuard builds a Guard. cfg is consulted on every call so reloaded
// limits take effect immediately.
func NewGuard(cfg func() *config.Config, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	c := cfg()
	dedup := expirable.NewLRU[string, struct{}](c.RateLimit.DedupCapacity, nil, c.RateLimit.DedupTTL)

	ctx, cancel := context.WithCancel(context.Background())
	return &Guard{
		dedup:     dedup,
		cfg:       cfg,
		log:       log,
		addresses: make(map[string]*addressState),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the idle-eviction sweep goroutine; Stop cancels it via
// context and waits for it to exit.
func (g *Guard) Start() {
	g.wg.Add(1)
	go g.sweepLoop()
}

// Stop halts the sweep goroutine and waits for it to exit.
func (g *Guard) Stop() {
	g.cancel()
	g.wg.Wait()
}

func (g *Guard) sweepLoop() {
	defer g.wg.Done()
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.sweep()
		case <-g.ctx.Done():
			return
		}
	}
}

func (g *Guard) sweep() {
	cutoff := time.Now().Add(-24 * time.Hour)
	g.mu.Lock()
	defer g.mu.Unlock()
	for addr, st := range g.addresses {
		st.mu.Lock()
		idle := st.lastSeen.Before(cutoff)
		st.mu.Unlock()
		if idle {
			delete(g.addresses, addr)
		}
	}
}

func (g *Guard) getState(address string) *addressState {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.addresses[address]
	if !ok {
		st = &addressState{limiter: rate.NewLimiter(rate.Every(time.Second), 5)}
		g.addresses[address] = st
	}
	return st
}

// IsDuplicate reports whether id has already been processed, inserting it
// into the dedup cache if not.
func (g *Guard) IsDuplicate(id string) bool {
	if _, found := g.dedup.Get(id); found {
		return true
	}
	g.dedup.Add(id, struct{}{})
	return false
}

func minIntervalFor(kind domain.Kind, rl config.RateLimitSection) time.Duration {
	switch kind {
	case domain.KindCommand:
		return rl.CommandInterval
	case domain.KindQuestion:
		return time.Duration(float64(rl.DefaultInterval) / rl.QuestionDivisor)
	default:
		return rl.DefaultInterval
	}
}

// CanRespond reports whether a reply to address may be sent right now,
// given the message kind and whether the sender is an admin. Admins bypass
// both the cooldown and the daily cap.
func (g *Guard) CanRespond(address string, kind domain.Kind, isAdmin bool) bool {
	if isAdmin {
		return true
	}
	cfg := g.cfg()
	st := g.getState(address)

	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	st.lastSeen = now

	if !st.lastResponse.IsZero() && now.Sub(st.lastResponse) < minIntervalFor(kind, cfg.RateLimit) {
		return false
	}

	resetDailyIfNeeded(st, now)
	if st.dailyCount >= cfg.RateLimit.MaxDailyDefault {
		return false
	}

	return st.limiter.AllowN(now, 1)
}

// RecordResponse marks that a reply was just sent to address, advancing the
// cooldown clock and the daily counter. Callers must not call this for
// admin-bypassed responses.
func (g *Guard) RecordResponse(address string) {
	st := g.getState(address)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	st.lastResponse = now
	st.lastSeen = now
	resetDailyIfNeeded(st, now)
	st.dailyCount++
}

// AllowCommandUsage checks and, if permitted, records one invocation of
// commandName against its own cooldown and per-day cap for address. This is
// separate from AllowCommand's per-role hourly quota: a command can carry
// its own tighter cooldown/cap regardless of how much of the role's hourly
// budget remains. cooldown <= 0 skips the cooldown check; dailyCap <= 0
// skips the cap check.
func (g *Guard) AllowCommandUsage(address, commandName string, cooldown time.Duration, dailyCap int) bool {
	st := g.getState(address)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	st.lastSeen = now
	if st.commands == nil {
		st.commands = make(map[string]*commandUsage)
	}
	cu, ok := st.commands[commandName]
	if !ok {
		cu = &commandUsage{}
		st.commands[commandName] = cu
	}

	if cooldown > 0 && !cu.lastUsed.IsZero() && now.Sub(cu.lastUsed) < cooldown {
		return false
	}
	if dailyCap > 0 {
		day := now.YearDay()
		if cu.dailyDay != day {
			cu.dailyDay = day
			cu.dailyCount = 0
		}
		if cu.dailyCount >= dailyCap {
			return false
		}
		cu.dailyCount++
	}
	cu.lastUsed = now
	return true
}

func resetDailyIfNeeded(st *addressState, now time.Time) {
	day := now.YearDay()
	if st.dailyDay != day {
		st.dailyDay = day
		st.dailyCount = 0
	}
}

// AllowCommand checks and consumes one unit of role's hourly command quota
// for address. Exceeding the quota denies the command but does not mark the
// inbound message for retry.
func (g *Guard) AllowCommand(address string, role domain.Role) bool {
	cfg := g.cfg()
	quota, ok := cfg.RateLimit.HourlyQuota[string(role)]
	if !ok {
		quota = cfg.RateLimit.HourlyQuota["customer"]
	}

	st := g.getState(address)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	st.lastSeen = now
	bucket := now.Unix() / 3600
	if st.hourlyWindow != bucket {
		st.hourlyWindow = bucket
		st.hourlyCount = 0
	}

	if st.hourlyCount >= quota {
		return false
	}
	st.hourlyCount++
	return true
}
