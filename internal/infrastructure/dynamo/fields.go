package dynamo

// DynamoDB attribute names used in update expressions across all repos.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldStatus            = "status"
	fieldAttempts          = "attempts"
	fieldScheduledFor      = "scheduled_for"
	fieldProcessed         = "processed"
	fieldProcessedAt       = "processed_at"
	fieldSentAt            = "sent_at"
	fieldErrorMessage      = "error_message"
	fieldExternalMessageID = "external_message_id"
	fieldOpenedAt          = "opened_at"
	fieldClickedAt         = "clicked_at"
	fieldUpdatedAt         = "updated_at"
)
