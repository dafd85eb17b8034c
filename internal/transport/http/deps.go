package http

import (
	"context"
	"time"

	"github.com/fintrack-api/internal/domain"
)

// UserRepository is the minimal interface the router requires from the user
// directory.
type UserRepository interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

// EventRepository is the minimal interface the router requires from the
// event store.
type EventRepository interface {
	Put(ctx context.Context, e *domain.NotificationEvent) error
	Get(ctx context.Context, eventID string) (*domain.NotificationEvent, error)
	ListByUser(ctx context.Context, userID string, limit int32) ([]domain.NotificationEvent, error)
}

// QueueRepository is the minimal interface the router requires from the
// delivery queue.
type QueueRepository interface {
	Put(ctx context.Context, m *domain.QueuedMessage) error
	Get(ctx context.Context, messageID string) (*domain.QueuedMessage, error)
	ListByUser(ctx context.Context, userID string, limit int32) ([]domain.QueuedMessage, error)
	Cancel(ctx context.Context, messageID string) error
}

// DeliveryLogRepository is the minimal interface the router requires from
// the delivery log.
type DeliveryLogRepository interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]domain.DeliveryLogEntry, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.DeliveryLogEntry, error)
	MarkOpened(ctx context.Context, logID string, at time.Time) error
	MarkClicked(ctx context.Context, logID string, at time.Time) error
	SetStatus(ctx context.Context, logID, status string) error
	ListByUser(ctx context.Context, userID string, limit int32) ([]domain.DeliveryLogEntry, error)
}

// PreferenceRepository is the minimal interface the router requires from the
// preference store.
type PreferenceRepository interface {
	Get(ctx context.Context, userID string) (*domain.PreferenceRecord, error)
	Put(ctx context.Context, p *domain.PreferenceRecord) error
}

// TemplateRepository is the minimal interface the router requires from the
// template catalog.
type TemplateRepository interface {
	Put(ctx context.Context, t *domain.EmailTemplate) error
	Get(ctx context.Context, templateID string) (*domain.EmailTemplate, error)
	GetByName(ctx context.Context, name string) (*domain.EmailTemplate, error)
	List(ctx context.Context) ([]domain.EmailTemplate, error)
	Update(ctx context.Context, templateID string, updates map[string]interface{}) error
	Delete(ctx context.Context, templateID string) error
}

// ReportStore is the minimal interface the router requires from report
// object storage.
type ReportStore interface {
	UploadReport(ctx context.Context, key string, body []byte) (string, error)
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
