package models

import "time"

type Contact struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ContactIdentifier is a contact's address on one channel. A contact holds
// at most one identifier per channel.
type ContactIdentifier struct {
	ContactID string  `json:"contactId"`
	Channel   Channel `json:"channel"`
	Value     string  `json:"value"`
}
