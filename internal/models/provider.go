package models

import "encoding/json"

type ProviderType string

const (
	ProviderSES     ProviderType = "ses"
	ProviderSNS     ProviderType = "sns"
	ProviderMeta    ProviderType = "meta"
	ProviderDiscord ProviderType = "discord"
	ProviderWebhook ProviderType = "webhook"
)

// ProviderCredential is an organization's configured account with a sending
// service. Config is the provider-specific blob (endpoints, keys) consumed
// by the adapter; the pipeline treats it as opaque.
type ProviderCredential struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organizationId"`
	Channel        Channel         `json:"channel"`
	Provider       ProviderType    `json:"provider"`
	Priority       int             `json:"priority"`
	Active         bool            `json:"active"`
	Config         json.RawMessage `json:"config"`
}

// ProviderIdentity is a concrete sender identifier under a credential, e.g.
// a verified from-address. Identifier is unique within a credential.
type ProviderIdentity struct {
	ID           string `json:"id"`
	CredentialID string `json:"credentialId"`
	Identifier   string `json:"identifier"`
	Active       bool   `json:"active"`
}
