package model

import "time"

// ResponseEvent is published by the inbound-message observer when a contact
// writes back.
type ResponseEvent struct {
	ExternalID string    `json:"external_id"`
	At         time.Time `json:"at"`
}

// EnrollmentEvent enqueues a contact for the campaign.
type EnrollmentEvent struct {
	ExternalID  string `json:"external_id"`
	DisplayName string `json:"display_name"`
}
