package domain

import "time"

// EmailTemplate is a catalog record: named, typed source text for the
// subject, HTML and plain-text parts of one notification category.
type EmailTemplate struct {
	TemplateID string           `json:"id" dynamodbav:"template_id"`
	Name       string           `json:"name" dynamodbav:"name"`
	Type       NotificationType `json:"type" dynamodbav:"type"`
	Subject    string           `json:"subject" dynamodbav:"subject"`
	HTMLBody   string           `json:"html_body" dynamodbav:"html_body"`
	TextBody   string           `json:"text_body" dynamodbav:"text_body"`
	Enable     int              `json:"enable" dynamodbav:"enable"`
	CreatedAt  time.Time        `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at" dynamodbav:"updated_at"`
}

// CreateTemplateRequest is the payload for adding a template to the catalog.
type CreateTemplateRequest struct {
	Name     string `json:"name" validate:"required"`
	Type     string `json:"type" validate:"required"`
	Subject  string `json:"subject" validate:"required"`
	HTMLBody string `json:"html_body" validate:"required"`
	TextBody string `json:"text_body"`
}

// UpdateTemplateRequest is a partial template update.
type UpdateTemplateRequest struct {
	Subject  *string `json:"subject"`
	HTMLBody *string `json:"html_body"`
	TextBody *string `json:"text_body"`
	Enable   *int    `json:"enable"`
}
