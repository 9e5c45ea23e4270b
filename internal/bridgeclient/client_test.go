package bridgeclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damamartinez/chatcore/internal/config"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.BridgeSection{
		URL:         srv.URL,
		CallTimeout: 2 * time.Second,
		MaxRetries:  2,
		BaseDelay:   1 * time.Millisecond,
		Factor:      2,
	}
	return New(cfg, nil), srv
}

func TestClient_Send_Success(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/send", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "msg-123"})
	})

	id, err := c.Send(context.Background(), "521555@s.whatsapp.net", "hola")
	require.NoError(t, err)
	assert.Equal(t, "msg-123", id)
}

func TestClient_Send_RetriesOn5xxThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("boom"))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "msg-ok"})
	})

	id, err := c.Send(context.Background(), "addr", "hola")
	require.NoError(t, err)
	assert.Equal(t, "msg-ok", id)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_Send_DoesNotRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("recipient is required"))
	})

	_, err := c.Send(context.Background(), "addr", "hola")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var bErr *BridgeError
	require.ErrorAs(t, err, &bErr)
	assert.Equal(t, KindHTTP4xx, bErr.Kind)
	assert.False(t, bErr.IsRetryable())
}

func TestClient_HealthCheck_400WithRecipientSignalMeansBridgeAlive(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/send" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("recipient is required"))
			return
		}
		_ = json.NewEncoder(w).Encode(Connection{State: "connected", LoggedIn: true})
	})

	h, err := c.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, h.BridgeAvailable)
	assert.True(t, h.WhatsAppConnected)
}

func TestClient_HealthCheck_500MeansBridgeAliveButConnectionUnknown(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/send" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("internal error"))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})

	h, err := c.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, h.BridgeAvailable)
	assert.False(t, h.WhatsAppConnected)
}

func TestClient_HealthCheck_ConnectionRefusedMeansBridgeDown(t *testing.T) {
	cfg := config.BridgeSection{
		URL:         "http://127.0.0.1:1", // nothing listens here
		CallTimeout: 200 * time.Millisecond,
		MaxRetries:  0,
		BaseDelay:   1 * time.Millisecond,
		Factor:      2,
	}
	c := New(cfg, nil)

	h, err := c.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, h.BridgeAvailable)
}

func TestClient_GetChats(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chats", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"chats": []ChatSummary{{Address: "a", Name: "Ana"}},
		})
	})

	chats, err := c.GetChats(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "Ana", chats[0].Name)
}
