// Package providers defines the contract between the delivery pipeline and
// the adapters that talk to concrete sending services. The pipeline resolves
// an adapter by (provider, channel), invokes it, and interprets the returned
// Error's retryable flag; everything else about an adapter is opaque to it.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"dispatchd/internal/models"
)

// SendRequest carries everything an adapter needs for one attempt.
type SendRequest struct {
	To         string                    `json:"to"`
	Payload    json.RawMessage           `json:"payload"`
	Credential models.ProviderCredential `json:"credential"`
	Identity   models.ProviderIdentity   `json:"identity"`
}

type SendResult struct {
	ProviderMessageID string `json:"providerMessageId"`
}

// Error is the structured failure an adapter reports. Retryable controls
// whether the pipeline may re-attempt on the same identity.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Category  string `json:"category"`
	Retryable bool   `json:"retryable"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Adapter sends one message through a concrete provider. Implementations
// must return either a *SendResult or an error; when the error is a
// providers.Error the pipeline uses its code and retryable flag, otherwise
// the failure is treated as retryable with code ADAPTER_ERROR.
type Adapter interface {
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
}

// Registry maps (provider, channel) to an adapter.
type Registry struct {
	mu       sync.RWMutex
	adapters map[registryKey]Adapter
}

type registryKey struct {
	provider models.ProviderType
	channel  models.Channel
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[registryKey]Adapter)}
}

func (r *Registry) Register(provider models.ProviderType, channel models.Channel, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[registryKey{provider: provider, channel: channel}] = adapter
}

// Resolve returns the adapter for the pair, or false when none is
// registered. A miss is a permanent failure for the attempt.
func (r *Registry) Resolve(provider models.ProviderType, channel models.Channel) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[registryKey{provider: provider, channel: channel}]
	return adapter, ok
}
