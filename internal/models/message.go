package models

import (
	"encoding/json"
	"time"
)

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelDiscord  Channel = "discord"
)

// Message is the immutable record of a send request. The API layer creates
// it; the pipeline only ever stamps the identity that finally delivered it.
type Message struct {
	ID                  string          `json:"id"`
	OrganizationID      string          `json:"organizationId"`
	ContactID           string          `json:"contactId"`
	Channel             Channel         `json:"channel"`
	Payload             json.RawMessage `json:"payload"`
	DeliveredIdentityID *string         `json:"deliveredIdentityId,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
}
