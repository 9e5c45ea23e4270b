package registration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damamartinez/chatcore/internal/config"
	"github.com/damamartinez/chatcore/internal/domain"
)

type fakeRegistrationStore struct {
	mu   sync.Mutex
	data map[string]domain.RegistrationData
}

func newFakeRegistrationStore() *fakeRegistrationStore {
	return &fakeRegistrationStore{data: map[string]domain.RegistrationData{}}
}

func (f *fakeRegistrationStore) GetRegistration(ctx context.Context, address string) (*domain.RegistrationData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.data[address]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (f *fakeRegistrationStore) SetRegistration(ctx context.Context, address string, data domain.RegistrationData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[address] = data
	return nil
}

func (f *fakeRegistrationStore) ClearRegistration(ctx context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, address)
	return nil
}

type fakeNotifier struct {
	mu            sync.Mutex
	updatedNames  map[string]string
	temporary     map[string]bool
	sentMessages  []string
	registeredFor []string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{updatedNames: map[string]string{}, temporary: map[string]bool{}}
}

func (f *fakeNotifier) UpdateName(ctx context.Context, user *domain.User, name string, isTemporary bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updatedNames[user.Address] = name
	f.temporary[user.Address] = isTemporary
	user.DisplayName = name
	return nil
}

func (f *fakeNotifier) SendMessage(ctx context.Context, address, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentMessages = append(f.sentMessages, text)
	return nil
}

func (f *fakeNotifier) NotifyRegistered(ctx context.Context, address, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registeredFor = append(f.registeredFor, address)
	return nil
}

func testConfigFunc() func() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Registration.MaxAttempts = 3
	cfg.Registration.Timeout = 30 * time.Minute
	return func() *config.Config { return cfg }
}

func TestEngine_Begin_SendsPrompt(t *testing.T) {
	notifier := newFakeNotifier()
	e := NewEngine(newFakeRegistrationStore(), notifier, testConfigFunc())

	require.NoError(t, e.Begin(context.Background(), "addr-1"))
	assert.Len(t, notifier.sentMessages, 1)
}

func TestEngine_HandleMessage_ValidNameCompletesRegistration(t *testing.T) {
	notifier := newFakeNotifier()
	store := newFakeRegistrationStore()
	e := NewEngine(store, notifier, testConfigFunc())

	user := &domain.User{Address: "addr-2", Phone: "5215512345678"}
	require.NoError(t, e.Begin(context.Background(), user.Address))

	result, err := e.HandleMessage(context.Background(), user, "Mariana")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "Mariana", notifier.updatedNames["addr-2"])
	assert.False(t, notifier.temporary["addr-2"])
	assert.Contains(t, notifier.registeredFor, "addr-2")

	_, err = store.GetRegistration(context.Background(), "addr-2")
	require.NoError(t, err)
	got, _ := store.GetRegistration(context.Background(), "addr-2")
	assert.Nil(t, got)
}

func TestEngine_HandleMessage_InvalidNameAsksAgain(t *testing.T) {
	notifier := newFakeNotifier()
	e := NewEngine(newFakeRegistrationStore(), notifier, testConfigFunc())

	user := &domain.User{Address: "addr-3", Phone: "5215512345678"}
	require.NoError(t, e.Begin(context.Background(), user.Address))

	result, err := e.HandleMessage(context.Background(), user, "123456")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotContains(t, notifier.registeredFor, "addr-3")
}

func TestEngine_HandleMessage_MaxAttemptsAssignsFallback(t *testing.T) {
	notifier := newFakeNotifier()
	e := NewEngine(newFakeRegistrationStore(), notifier, testConfigFunc())

	user := &domain.User{Address: "addr-4", Phone: "5215512345678"}
	require.NoError(t, e.Begin(context.Background(), user.Address))

	var result *domain.HandlerResult
	var err error
	for i := 0; i < 3; i++ {
		result, err = e.HandleMessage(context.Background(), user, "999999")
		require.NoError(t, err)
	}

	assert.True(t, result.Success)
	assert.Equal(t, "Usuario_5678", notifier.updatedNames["addr-4"])
	assert.True(t, notifier.temporary["addr-4"])
	assert.Contains(t, notifier.registeredFor, "addr-4")
}

func TestEngine_HandleMessage_TimeoutAssignsFallback(t *testing.T) {
	notifier := newFakeNotifier()
	cfg := config.DefaultConfig()
	cfg.Registration.Timeout = 1 * time.Millisecond
	cfg.Registration.MaxAttempts = 3
	e := NewEngine(newFakeRegistrationStore(), notifier, func() *config.Config { return cfg })

	user := &domain.User{Address: "addr-5", Phone: "5215512345678"}
	require.NoError(t, e.Begin(context.Background(), user.Address))
	time.Sleep(5 * time.Millisecond)

	result, err := e.HandleMessage(context.Background(), user, "Mariana")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, notifier.temporary["addr-5"])
}
