package domain

import "time"

// Queue entry statuses. Terminal states are sent, failed and cancelled.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// QueuedMessage is a rendered message awaiting delivery. Created by the
// notification service at event-intake time; mutated exclusively by the
// dispatcher afterwards.
type QueuedMessage struct {
	MessageID        string           `json:"id" dynamodbav:"message_id"`
	EventID          string           `json:"event_id" dynamodbav:"event_id"`
	UserID           string           `json:"user_id" dynamodbav:"user_id"`
	Type             NotificationType `json:"type" dynamodbav:"type"`
	RecipientAddress string           `json:"recipient_address" dynamodbav:"recipient_address"`
	Subject          string           `json:"subject" dynamodbav:"subject"`
	HTMLBody         string           `json:"html_body" dynamodbav:"html_body"`
	TextBody         string           `json:"text_body" dynamodbav:"text_body"`
	TemplateID       string           `json:"template_id" dynamodbav:"template_id"`
	PriorityWeight   int              `json:"priority_weight" dynamodbav:"priority_weight"`
	Attempts         int              `json:"attempts" dynamodbav:"attempts"`
	MaxAttempts      int              `json:"max_attempts" dynamodbav:"max_attempts"`
	ScheduledFor     time.Time        `json:"scheduled_for" dynamodbav:"scheduled_for"`
	Status           string           `json:"status" dynamodbav:"status"`
	ProcessedAt      *time.Time       `json:"processed_at,omitempty" dynamodbav:"processed_at,omitempty"`
	SentAt           *time.Time       `json:"sent_at,omitempty" dynamodbav:"sent_at,omitempty"`
	ErrorMessage     string           `json:"error_message,omitempty" dynamodbav:"error_message,omitempty"`
	ExternalMessageID string          `json:"external_message_id,omitempty" dynamodbav:"external_message_id,omitempty"`
	CreatedAt        time.Time        `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" dynamodbav:"updated_at"`
}

// Terminal reports whether the message has reached a state from which no
// further transitions occur.
func (m *QueuedMessage) Terminal() bool {
	switch m.Status {
	case StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
