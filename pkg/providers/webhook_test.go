package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dispatchd/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func webhookSendRequest(url string) SendRequest {
	return SendRequest{
		To:      "user@example.test",
		Payload: json.RawMessage(`{"subject":"hello"}`),
		Credential: models.ProviderCredential{
			ID:     "cred-1",
			Config: json.RawMessage(fmt.Sprintf(`{"url":%q,"secret":"s3cret"}`, url)),
		},
		Identity: models.ProviderIdentity{
			ID:         "id-1",
			Identifier: "noreply@acme.test",
		},
	}
}

func TestWebhookSend_Success(t *testing.T) {
	var received webhookRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(webhookResponse{MessageID: "pm-42"})
	}))
	defer server.Close()

	adapter := NewWebhookAdapter(5 * time.Second)
	result, err := adapter.Send(context.Background(), webhookSendRequest(server.URL))

	require.NoError(t, err)
	assert.Equal(t, "pm-42", result.ProviderMessageID)
	assert.Equal(t, "user@example.test", received.To)
	assert.Equal(t, "noreply@acme.test", received.From)
	assert.Equal(t, "id-1", received.Identity)
}

func TestWebhookSend_StatusClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantCode      string
		wantRetryable bool
	}{
		{"throttled", http.StatusTooManyRequests, "WEBHOOK_THROTTLED", true},
		{"server error", http.StatusInternalServerError, "WEBHOOK_SERVER_ERROR", true},
		{"bad gateway", http.StatusBadGateway, "WEBHOOK_SERVER_ERROR", true},
		{"bad request", http.StatusBadRequest, "WEBHOOK_REJECTED", false},
		{"unauthorized", http.StatusUnauthorized, "WEBHOOK_REJECTED", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			adapter := NewWebhookAdapter(5 * time.Second)
			_, err := adapter.Send(context.Background(), webhookSendRequest(server.URL))

			require.Error(t, err)
			var perr *Error
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.wantCode, perr.Code)
			assert.Equal(t, tt.wantRetryable, perr.Retryable)
		})
	}
}

func TestWebhookSend_NetworkFailureIsRetryable(t *testing.T) {
	adapter := NewWebhookAdapter(time.Second)

	// Nothing listens here.
	_, err := adapter.Send(context.Background(), webhookSendRequest("http://127.0.0.1:1"))

	require.Error(t, err)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "WEBHOOK_NETWORK", perr.Code)
	assert.True(t, perr.Retryable)
}

func TestWebhookSend_MissingURLIsPermanent(t *testing.T) {
	adapter := NewWebhookAdapter(time.Second)
	req := webhookSendRequest("")
	req.Credential.Config = json.RawMessage(`{}`)

	_, err := adapter.Send(context.Background(), req)

	require.Error(t, err)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "WEBHOOK_CONFIG_INVALID", perr.Code)
	assert.False(t, perr.Retryable)
}

func TestWebhookSend_UnparseableResponseIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	adapter := NewWebhookAdapter(time.Second)
	_, err := adapter.Send(context.Background(), webhookSendRequest(server.URL))

	require.Error(t, err)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "WEBHOOK_DECODE", perr.Code)
	assert.False(t, perr.Retryable)
}
