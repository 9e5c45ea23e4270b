// Package bridgeclient talks HTTP/JSON to the messaging bridge process,
// wrapping net/http behind a narrow Go interface. Every call is retried
// with github.com/cenkalti/backoff/v4.
package bridgeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/damamartinez/chatcore/internal/config"
)

// recipientRequiredSignal is the substring a 400 response body carries when
// the bridge rejected a deliberately-invalid smart-ping send because it is
// missing a recipient, which proves the bridge process itself handled the
// request.
const recipientRequiredSignal = "recipient"

// Client is the C1 bridge client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	maxRetries int
	baseDelay  time.Duration
	factor     float64
	log        *slog.Logger
}

// New builds a Client from the bridge section of cfg.
func New(cfg config.BridgeSection, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.CallTimeout},
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		factor:     cfg.Factor,
		log:        log,
	}
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.baseDelay
	bo.Multiplier = c.factor
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// doJSON performs one HTTP call with a JSON body and decodes a JSON
// response, retrying per the bridge's retry policy.
func (c *Client) doJSON(ctx context.Context, op, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return newError(KindValidation, 0, op, err)
		}
	}

	var lastErr error
	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			lastErr = newError(KindValidation, 0, op, err)
			return backoff.Permanent(lastErr)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			kind := KindNetwork
			if ctx.Err() != nil {
				kind = KindTimeout
			}
			lastErr = newError(kind, 0, op, err)
			return lastErr
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)

		if resp.StatusCode >= 500 {
			lastErr = newError(KindHTTP5xx, resp.StatusCode, op, fmt.Errorf("%s", string(respBody)))
			return lastErr
		}
		if resp.StatusCode >= 400 {
			lastErr = newError(KindHTTP4xx, resp.StatusCode, op, fmt.Errorf("%s", string(respBody)))
			return backoff.Permanent(lastErr)
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				lastErr = newError(KindProtocol, resp.StatusCode, op, err)
				return backoff.Permanent(lastErr)
			}
		}
		lastErr = nil
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.log.Warn("bridge call retrying", "operation", op, "wait", wait, "error", err)
	}

	retryable := backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxRetries))
	if err := backoff.RetryNotify(attempt, backoff.WithContext(retryable, ctx), notify); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return newError(KindNetwork, 0, op, err)
	}
	return nil
}

// Send posts a text message to address.
func (c *Client) Send(ctx context.Context, address, text string) (string, error) {
	var out struct {
		MessageID string `json:"message_id"`
	}
	err := c.doJSON(ctx, "send", http.MethodPost, "/api/send", map[string]string{
		"recipient": address,
		"message":   text,
	}, &out)
	return out.MessageID, err
}

// SendMedia sends localPath (a path the bridge process can read directly —
// bridge and core share a filesystem, so this is a JSON reference rather
// than a multipart upload) to address with an optional caption, via the
// same /api/send endpoint as Send.
func (c *Client) SendMedia(ctx context.Context, address, localPath, caption string) (string, error) {
	var out struct {
		MessageID string `json:"message_id"`
	}
	err := c.doJSON(ctx, "send_media", http.MethodPost, "/api/send", map[string]string{
		"recipient":  address,
		"message":    caption,
		"media_path": localPath,
	}, &out)
	return out.MessageID, err
}

// DownloadMedia fetches the media attached to messageID and saves it
// locally, returning the path it was saved to.
func (c *Client) DownloadMedia(ctx context.Context, messageID, address string) (string, error) {
	var out struct {
		Path string `json:"path"`
	}
	err := c.doJSON(ctx, "download_media", http.MethodPost, "/api/download", map[string]string{
		"message_id": messageID,
		"chat_jid":   address,
	}, &out)
	return out.Path, err
}

// SetTyping toggles the typing indicator for address.
func (c *Client) SetTyping(ctx context.Context, address string, on bool) error {
	return c.doJSON(ctx, "set_typing", http.MethodPost, "/api/typing", map[string]interface{}{
		"jid":      address,
		"isTyping": on,
	}, nil)
}

// MarkRead marks messageID as read in address's conversation.
func (c *Client) MarkRead(ctx context.Context, address, messageID string) error {
	return c.doJSON(ctx, "mark_read", http.MethodPost, "/api/read", map[string]string{
		"jid":       address,
		"messageId": messageID,
	}, nil)
}

// GetChats lists up to limit recent chats.
func (c *Client) GetChats(ctx context.Context, limit int) ([]ChatSummary, error) {
	var out struct {
		Chats []ChatSummary `json:"chats"`
	}
	err := c.doJSON(ctx, "get_chats", http.MethodGet,
		"/api/chats?limit="+strconv.Itoa(limit), nil, &out)
	return out.Chats, err
}

// GetHistory returns up to limit messages exchanged with address.
func (c *Client) GetHistory(ctx context.Context, address string, limit int) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	err := c.doJSON(ctx, "get_history", http.MethodGet,
		"/api/history?"+url.Values{"chat_jid": {address}, "limit": {strconv.Itoa(limit)}}.Encode(),
		nil, &out)
	return out.Messages, err
}

// GetQR fetches the current login QR payload, if one is pending.
func (c *Client) GetQR(ctx context.Context) (string, bool, error) {
	var out struct {
		QR        string `json:"qr"`
		Available bool   `json:"available"`
	}
	err := c.doJSON(ctx, "get_qr", http.MethodGet, "/api/qr", nil, &out)
	return out.QR, out.Available, err
}

// GetConnection reports the bridge's current WhatsApp connection state.
func (c *Client) GetConnection(ctx context.Context) (Connection, error) {
	var out Connection
	err := c.doJSON(ctx, "get_connection", http.MethodGet, "/api/status", nil, &out)
	return out, err
}

// HealthCheck performs the smart ping: it POSTs a deliberately invalid send
// request (no recipient) and interprets the bridge's response. A 400 whose
// body mentions the missing recipient, or any 500, proves the bridge
// process is alive even if WhatsApp itself is not connected. Only a
// connection-level failure after retries means the bridge is down.
func (c *Client) HealthCheck(ctx context.Context) (Health, error) {
	var resp *http.Response
	err := backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/send",
			bytes.NewReader([]byte(`{"message":"ping"}`)))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		resp, err = c.httpClient.Do(req)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxRetries)), ctx))
	if err != nil {
		return Health{BridgeAvailable: false}, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	bridgeAlive := resp.StatusCode >= 500 ||
		(resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(string(body)), recipientRequiredSignal))
	if !bridgeAlive {
		return Health{BridgeAvailable: false}, nil
	}

	conn, err := c.GetConnection(ctx)
	if err != nil {
		return Health{BridgeAvailable: true, WhatsAppConnected: false}, nil
	}
	return Health{BridgeAvailable: true, WhatsAppConnected: conn.LoggedIn}, nil
}
