package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damamartinez/chatcore/internal/config"
	"github.com/damamartinez/chatcore/internal/domain"
	"github.com/damamartinez/chatcore/internal/store"
)

type fakeStore struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[string]*domain.User{}}
}

func (f *fakeStore) GetByAddress(ctx context.Context, address string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[address]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) Create(ctx context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.Address] = user
	return nil
}

func (f *fakeStore) Update(ctx context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.Address] = user
	return nil
}

func (f *fakeStore) RecordInteraction(ctx context.Context, address string) error {
	return nil
}

type fakeBridge struct {
	mu       sync.Mutex
	sent     []string
	typing   []bool
	failSend bool
}

func (b *fakeBridge) Send(ctx context.Context, address, text string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSend {
		return "", errors.New("send failed")
	}
	b.sent = append(b.sent, text)
	return "msg-1", nil
}

func (b *fakeBridge) SendMedia(ctx context.Context, address, localPath, caption string) (string, error) {
	return "media-1", nil
}

func (b *fakeBridge) SetTyping(ctx context.Context, address string, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.typing = append(b.typing, on)
	return nil
}

func (b *fakeBridge) MarkRead(ctx context.Context, address, messageID string) error {
	return nil
}

type fakeGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{seen: map[string]bool{}}
}

func (g *fakeGuard) IsDuplicate(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[id] {
		return true
	}
	g.seen[id] = true
	return false
}

func (g *fakeGuard) CanRespond(address string, kind domain.Kind, isAdmin bool) bool { return true }
func (g *fakeGuard) RecordResponse(address string)                                 {}

type fakeRegistry struct {
	result *domain.HandlerResult
	err    error
}

func (r *fakeRegistry) Dispatch(ctx context.Context, msg *domain.IncomingMessage, user *domain.User, c domain.Classification) (*domain.HandlerResult, error) {
	return r.result, r.err
}

type fakeEngine struct {
	begun   []string
	reply   *domain.HandlerResult
	onBegin func(address string) error
}

func (e *fakeEngine) BeginWithPreamble(ctx context.Context, address, preamble string) error {
	e.begun = append(e.begun, address)
	if e.onBegin != nil {
		return e.onBegin(address)
	}
	return nil
}

func (e *fakeEngine) HandleMessage(ctx context.Context, user *domain.User, text string) (*domain.HandlerResult, error) {
	user.Registration.Step = domain.StepCompleted
	return e.reply, nil
}

func testCfg() func() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Concurrency.ProcessingTimeout = time.Second
	return func() *config.Config { return cfg }
}

func TestProcess_NewUserEntersRegistration(t *testing.T) {
	store := newFakeStore()
	bridge := &fakeBridge{}
	guard := newFakeGuard()
	engine := &fakeEngine{}
	p := New(store, bridge, guard, &fakeRegistry{}, engine, testCfg(), true, nil)

	result := p.Process(context.Background(), &domain.IncomingMessage{
		ID: "m1", Sender: "521555@s.whatsapp.net", Content: "hola",
	})

	assert.Equal(t, domain.OutcomeRegistration, result.Outcome)
	assert.Len(t, engine.begun, 1)
	assert.Empty(t, result.Errors)
}

func TestProcess_DuplicateMessageIsDropped(t *testing.T) {
	store := newFakeStore()
	store.users["addr"] = &domain.User{Address: "addr", Registration: domain.RegistrationData{Step: domain.StepCompleted}}
	bridge := &fakeBridge{}
	guard := newFakeGuard()
	registry := &fakeRegistry{result: &domain.HandlerResult{Success: true}}
	p := New(store, bridge, guard, registry, &fakeEngine{}, testCfg(), true, nil)

	msg := &domain.IncomingMessage{ID: "dup-1", Sender: "addr", Content: "hola"}
	first := p.Process(context.Background(), msg)
	second := p.Process(context.Background(), msg)

	assert.NotEqual(t, domain.OutcomeAlreadyProcessed, first.Outcome)
	assert.Equal(t, domain.OutcomeAlreadyProcessed, second.Outcome)
}

func TestProcess_RegisteredUserDispatchesAndReplies(t *testing.T) {
	store := newFakeStore()
	store.users["addr"] = &domain.User{Address: "addr", Role: domain.RoleCustomer, Registration: domain.RegistrationData{Step: domain.StepCompleted}}
	bridge := &fakeBridge{}
	guard := newFakeGuard()
	registry := &fakeRegistry{result: &domain.HandlerResult{Success: true, ShouldReply: true, Response: "pong"}}
	p := New(store, bridge, guard, registry, &fakeEngine{}, testCfg(), true, nil)

	result := p.Process(context.Background(), &domain.IncomingMessage{ID: "m2", Sender: "addr", Content: "!status"})

	assert.Equal(t, domain.OutcomeHandled, result.Outcome)
	require.Len(t, bridge.sent, 1)
	assert.Equal(t, "pong", bridge.sent[0])
	require.Len(t, bridge.typing, 2)
	assert.True(t, bridge.typing[0])
	assert.False(t, bridge.typing[1])
}

func TestProcess_TypingAlwaysTurnedOffOnDispatchError(t *testing.T) {
	store := newFakeStore()
	store.users["addr"] = &domain.User{Address: "addr", Registration: domain.RegistrationData{Step: domain.StepCompleted}}
	bridge := &fakeBridge{}
	guard := newFakeGuard()
	registry := &fakeRegistry{err: errors.New("boom")}
	p := New(store, bridge, guard, registry, &fakeEngine{}, testCfg(), true, nil)

	result := p.Process(context.Background(), &domain.IncomingMessage{ID: "m3", Sender: "addr", Content: "hola"})

	assert.Equal(t, domain.OutcomeFailed, result.Outcome)
	require.Len(t, bridge.typing, 2)
	assert.False(t, bridge.typing[len(bridge.typing)-1])
	require.Len(t, bridge.sent, 1)
}

func TestProcess_RejectsEmptySenderOrID(t *testing.T) {
	p := New(newFakeStore(), &fakeBridge{}, newFakeGuard(), &fakeRegistry{}, &fakeEngine{}, testCfg(), true, nil)

	result := p.Process(context.Background(), &domain.IncomingMessage{ID: "", Sender: "addr"})
	assert.Equal(t, domain.OutcomeFailed, result.Outcome)
	require.Len(t, result.Errors, 1)
}
