package domain

import "time"

// NotificationEvent is the durable record that a notification was requested.
// Immutable except for the processed transition; eligible for garbage
// collection some days after processing.
type NotificationEvent struct {
	EventID      string                 `json:"id" dynamodbav:"event_id"`
	Type         NotificationType       `json:"type" dynamodbav:"type"`
	UserID       string                 `json:"user_id" dynamodbav:"user_id"`
	Payload      map[string]interface{} `json:"payload" dynamodbav:"payload"`
	Priority     string                 `json:"priority" dynamodbav:"priority"`
	ScheduledFor time.Time              `json:"scheduled_for" dynamodbav:"scheduled_for"`
	// Processed is stored as a number (0/1) so it can key a sparse GSI.
	Processed   int        `json:"processed" dynamodbav:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" dynamodbav:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at" dynamodbav:"created_at"`
}
