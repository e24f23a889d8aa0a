package models

import "time"

type EventStatus string

const (
	EventStatusQueued     EventStatus = "queued"
	EventStatusProcessing EventStatus = "processing"
	EventStatusSent       EventStatus = "sent"
	EventStatusFailed     EventStatus = "failed"
)

// Terminal reports whether the status can no longer change. Redelivered
// queue entries for an event in a terminal status are skipped.
func (s EventStatus) Terminal() bool {
	return s == EventStatusSent || s == EventStatusFailed
}

// ErrorDetail is the structured error persisted on a failed attempt.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Category  string `json:"category"`
	Retryable bool   `json:"retryable"`
}

// MessageEvent is one delivery attempt for a message. Retry and fallback
// never mutate an existing event; they insert a new row referencing the same
// message. Attempt numbers increase by one within a retry chain on the same
// identity; a fallback to a new identity starts a fresh chain at attempt 1.
type MessageEvent struct {
	ID             string       `json:"id"`
	MessageID      string       `json:"messageId"`
	IdentityID     string       `json:"identityId"`
	Status         EventStatus  `json:"status"`
	AttemptNumber  int          `json:"attemptNumber"`
	StartedAt      *time.Time   `json:"startedAt,omitempty"`
	CompletedAt    *time.Time   `json:"completedAt,omitempty"`
	ResponseTimeMs *int64       `json:"responseTimeMs,omitempty"`
	Error          *ErrorDetail `json:"error,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// EventContext is everything the processor needs to drive one attempt:
// the event, its message, the identity and credential to send with, and the
// recipient's per-channel identifiers.
type EventContext struct {
	Event       MessageEvent
	Message     Message
	Identity    ProviderIdentity
	Credential  ProviderCredential
	Identifiers []ContactIdentifier
}

// RecipientAddress resolves the contact identifier for the message's
// channel. The second return is false when the contact has no identifier for
// that channel.
func (c *EventContext) RecipientAddress() (string, bool) {
	for _, id := range c.Identifiers {
		if id.Channel == c.Message.Channel {
			return id.Value, true
		}
	}
	return "", false
}

// FallbackCandidate is an eligible alternate identity sharing the failed
// identity's sender identifier, paired with its owning credential.
type FallbackCandidate struct {
	Identity   ProviderIdentity
	Credential ProviderCredential
}
