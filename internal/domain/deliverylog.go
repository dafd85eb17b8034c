package domain

import "time"

// Delivery log statuses.
const (
	LogStatusSent    = "sent"
	LogStatusFailed  = "failed"
	LogStatusBounced = "bounced"
	LogStatusOpened  = "opened"
	LogStatusClicked = "clicked"
)

// DeliveryLogEntry is the append-only audit record of a terminal delivery
// attempt outcome. Exactly one entry exists per terminal outcome; it is
// later patched only to add open/click timestamps from the tracking
// callback.
type DeliveryLogEntry struct {
	LogID             string           `json:"id" dynamodbav:"log_id"`
	UserID            string           `json:"user_id" dynamodbav:"user_id"`
	MessageID         string           `json:"message_id" dynamodbav:"message_id"`
	Type              NotificationType `json:"type" dynamodbav:"type"`
	Status            string           `json:"status" dynamodbav:"status"`
	RecipientAddress  string           `json:"recipient_address" dynamodbav:"recipient_address"`
	Subject           string           `json:"subject" dynamodbav:"subject"`
	SentAt            time.Time        `json:"sent_at" dynamodbav:"sent_at"`
	OpenedAt          *time.Time       `json:"opened_at,omitempty" dynamodbav:"opened_at,omitempty"`
	ClickedAt         *time.Time       `json:"clicked_at,omitempty" dynamodbav:"clicked_at,omitempty"`
	ErrorMessage      string           `json:"error_message,omitempty" dynamodbav:"error_message,omitempty"`
	ExternalMessageID string           `json:"external_message_id,omitempty" dynamodbav:"external_message_id,omitempty"`
}
