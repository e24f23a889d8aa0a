package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookAdapter posts the payload to an HTTP endpoint configured on the
// credential. It is the one adapter the binary ships; real provider
// adapters (SES, SNS, WhatsApp Business, Discord) live outside this module
// and register themselves against the same contract.
type WebhookAdapter struct {
	client *http.Client
}

func NewWebhookAdapter(timeout time.Duration) *WebhookAdapter {
	return &WebhookAdapter{
		client: &http.Client{Timeout: timeout},
	}
}

type webhookConfig struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

type webhookRequest struct {
	To       string          `json:"to"`
	From     string          `json:"from"`
	Payload  json.RawMessage `json:"payload"`
	Identity string          `json:"identityId"`
}

type webhookResponse struct {
	MessageID string `json:"messageId"`
}

func (a *WebhookAdapter) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	var cfg webhookConfig
	if err := json.Unmarshal(req.Credential.Config, &cfg); err != nil || cfg.URL == "" {
		return nil, &Error{
			Code:      "WEBHOOK_CONFIG_INVALID",
			Message:   "credential config has no usable url",
			Category:  "permanent",
			Retryable: false,
		}
	}

	body, err := json.Marshal(webhookRequest{
		To:       req.To,
		From:     req.Identity.Identifier,
		Payload:  req.Payload,
		Identity: req.Identity.ID,
	})
	if err != nil {
		return nil, &Error{
			Code:      "WEBHOOK_ENCODE",
			Message:   err.Error(),
			Category:  "permanent",
			Retryable: false,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{
			Code:      "WEBHOOK_REQUEST",
			Message:   err.Error(),
			Category:  "permanent",
			Retryable: false,
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if cfg.Secret != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.Secret)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &Error{
			Code:      "WEBHOOK_NETWORK",
			Message:   err.Error(),
			Category:  "transient",
			Retryable: true,
		}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, respBody)
	}

	var wr webhookResponse
	if err := json.Unmarshal(respBody, &wr); err != nil {
		return nil, &Error{
			Code:      "WEBHOOK_DECODE",
			Message:   fmt.Sprintf("failed to decode response: %v body=%q", err, string(respBody)),
			Category:  "permanent",
			Retryable: false,
		}
	}

	return &SendResult{ProviderMessageID: wr.MessageID}, nil
}

// classifyStatus maps HTTP status classes onto the pipeline's error
// taxonomy: throttling and server errors are transient, other 4xx are
// permanent rejections.
func classifyStatus(status int, body []byte) *Error {
	msg := fmt.Sprintf("unexpected status %d body=%q", status, string(body))

	switch {
	case status == http.StatusTooManyRequests:
		return &Error{Code: "WEBHOOK_THROTTLED", Message: msg, Category: "transient", Retryable: true}
	case status >= 500:
		return &Error{Code: "WEBHOOK_SERVER_ERROR", Message: msg, Category: "transient", Retryable: true}
	default:
		return &Error{Code: "WEBHOOK_REJECTED", Message: msg, Category: "permanent", Retryable: false}
	}
}
