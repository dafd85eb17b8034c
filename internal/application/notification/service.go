package notification

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fintrack-api/internal/domain"
	"github.com/fintrack-api/internal/pkg/cache"
	"github.com/fintrack-api/internal/pkg/clock"
	"github.com/fintrack-api/internal/pkg/id"
	"github.com/fintrack-api/internal/pkg/template"
	"github.com/fintrack-api/internal/pkg/unsubtoken"
	"github.com/fintrack-api/internal/pkg/validate"
)

// TriggerRequest is a typed domain event that may become an email.
type TriggerRequest struct {
	Type         string                 `json:"type" validate:"required"`
	UserID       string                 `json:"user_id" validate:"required"`
	Payload      map[string]interface{} `json:"payload"`
	ScheduledFor *time.Time             `json:"scheduled_for"`
}

// TriggerResult reports what happened to a triggered event. Skipped is a
// normal outcome (user preference respected), not an error.
type TriggerResult struct {
	EventID  string `json:"event_id"`
	QueuedID string `json:"queued_id,omitempty"`
	Skipped  bool   `json:"skipped"`
	Reason   string `json:"reason,omitempty"`
}

type Service interface {
	Trigger(ctx context.Context, req TriggerRequest) (*TriggerResult, error)
	ListQueue(ctx context.Context, userID string, limit int) ([]domain.QueuedMessage, error)
	// CancelMessage cancels a still-pending message owned by userID.
	CancelMessage(ctx context.Context, messageID, userID string) error
}

type eventStore interface {
	Put(ctx context.Context, e *domain.NotificationEvent) error
}

type queueStore interface {
	Put(ctx context.Context, m *domain.QueuedMessage) error
	Get(ctx context.Context, messageID string) (*domain.QueuedMessage, error)
	ListByUser(ctx context.Context, userID string, limit int32) ([]domain.QueuedMessage, error)
	Cancel(ctx context.Context, messageID string) error
}

type preferenceGate interface {
	MayDeliver(ctx context.Context, userID string, t domain.NotificationType) (bool, error)
}

type userDirectory interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
}

type templateCatalog interface {
	GetByName(ctx context.Context, name string) (*domain.EmailTemplate, error)
}

type smsSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

// Defaults are the values injected into every rendered template.
type Defaults struct {
	BaseURL           string
	SupportEmail      string
	CompanyName       string
	UnsubscribeSecret string
}

type service struct {
	events    eventStore
	queue     queueStore
	gate      preferenceGate
	users     userDirectory
	catalog   templateCatalog
	sms       smsSender // nil when SNS is not configured
	defaults  Defaults
	clk       clock.Clock
	parsedTpl cache.Cache[*template.Template]
}

type ServiceDeps struct {
	EventRepo    eventStore
	QueueRepo    queueStore
	Preferences  preferenceGate
	UserRepo     userDirectory
	TemplateRepo templateCatalog
	SMSSender    smsSender
	Defaults     Defaults
	Clock        clock.Clock
}

func NewService(deps ServiceDeps) Service {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &service{
		events:    deps.EventRepo,
		queue:     deps.QueueRepo,
		gate:      deps.Preferences,
		users:     deps.UserRepo,
		catalog:   deps.TemplateRepo,
		sms:       deps.SMSSender,
		defaults:  deps.Defaults,
		clk:       clk,
		parsedTpl: cache.NewMemory[*template.Template](),
	}
}

func (s *service) Trigger(ctx context.Context, req TriggerRequest) (*TriggerResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%s: %w", err, domain.ErrBadRequest)
	}
	t := domain.NotificationType(req.Type)
	if !domain.IsKnownType(t) {
		return nil, fmt.Errorf("unknown notification type %q: %w", req.Type, domain.ErrBadRequest)
	}
	cfg := domain.ConfigFor(t)
	now := s.clk.Now()

	scheduledFor := now
	if req.ScheduledFor != nil && req.ScheduledFor.After(now) {
		scheduledFor = req.ScheduledFor.UTC()
	}

	event := &domain.NotificationEvent{
		EventID:      id.New(),
		Type:         t,
		UserID:       req.UserID,
		Payload:      req.Payload,
		Priority:     cfg.Priority,
		ScheduledFor: scheduledFor,
		CreatedAt:    now,
	}

	allowed, err := s.gate.MayDeliver(ctx, req.UserID, t)
	if err != nil {
		return nil, err
	}
	if !allowed {
		// The event is still persisted for audit, already marked
		// processed since no queue entry will ever exist for it.
		event.Processed = 1
		event.ProcessedAt = &now
		if err := s.events.Put(ctx, event); err != nil {
			return nil, err
		}
		return &TriggerResult{EventID: event.EventID, Skipped: true, Reason: "user preferences"}, nil
	}

	if err := s.events.Put(ctx, event); err != nil {
		return nil, err
	}

	user, err := s.users.Get(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve recipient: %w", err)
	}

	subject, html, text, tplID, err := s.render(ctx, cfg.TemplateName, cfg.PreferenceFlag, user, req.Payload)
	if err != nil {
		return nil, err
	}

	msg := &domain.QueuedMessage{
		MessageID:        id.New(),
		EventID:          event.EventID,
		UserID:           user.UserID,
		Type:             t,
		RecipientAddress: user.Email,
		Subject:          subject,
		HTMLBody:         html,
		TextBody:         text,
		TemplateID:       tplID,
		PriorityWeight:   domain.PriorityWeight(cfg.Priority),
		MaxAttempts:      cfg.MaxAttempts,
		ScheduledFor:     scheduledFor,
		Status:           domain.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.queue.Put(ctx, msg); err != nil {
		return nil, err
	}

	if cfg.Priority == domain.PriorityCritical && s.sms != nil && user.Phone != "" {
		if err := s.sms.SendSMS(ctx, user.Phone, subject); err != nil {
			log.Printf("WARN: sms ping failed for user %s: %v", user.UserID, err)
		}
	}

	return &TriggerResult{EventID: event.EventID, QueuedID: msg.MessageID}, nil
}

func (s *service) ListQueue(ctx context.Context, userID string, limit int) ([]domain.QueuedMessage, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.queue.ListByUser(ctx, userID, int32(limit))
}

func (s *service) CancelMessage(ctx context.Context, messageID, userID string) error {
	m, err := s.queue.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if m.UserID != userID {
		return fmt.Errorf("message belongs to another user: %w", domain.ErrForbidden)
	}
	return s.queue.Cancel(ctx, messageID)
}

// render resolves the catalog template for the category and evaluates
// subject, HTML and text parts against the payload plus the centrally
// injected defaults.
func (s *service) render(ctx context.Context, templateName, prefFlag string, user *domain.User, payload map[string]interface{}) (subject, html, text, tplID string, err error) {
	tpl, err := s.catalog.GetByName(ctx, templateName)
	if err != nil {
		return "", "", "", "", fmt.Errorf("template lookup %q: %w", templateName, err)
	}

	vars := make(map[string]interface{}, len(payload)+6)
	for k, v := range payload {
		vars[k] = v
	}
	vars["user"] = map[string]interface{}{
		"email":        user.Email,
		"first_name":   user.FirstName,
		"last_name":    user.LastName,
		"display_name": user.Name(),
	}
	vars["base_url"] = s.defaults.BaseURL
	vars["support_email"] = s.defaults.SupportEmail
	vars["company_name"] = s.defaults.CompanyName
	// The unsubscribe link is derived deterministically from the
	// recipient address so it is stable and verifiable without state.
	vars["unsubscribe_url"] = fmt.Sprintf("%s/v1/unsubscribe/%s",
		s.defaults.BaseURL, unsubtoken.Encode(user.Email, prefFlag, s.defaults.UnsubscribeSecret))

	subject = s.renderPart(tpl, "subject", tpl.Subject, vars)
	html = s.renderPart(tpl, "html", tpl.HTMLBody, vars)
	text = s.renderPart(tpl, "text", tpl.TextBody, vars)
	return subject, html, text, tpl.TemplateID, nil
}

// renderPart renders one template part through the parsed-template cache so
// hot templates are not re-parsed on every trigger.
func (s *service) renderPart(tpl *domain.EmailTemplate, part, src string, vars map[string]interface{}) string {
	key := fmt.Sprintf("%s/%s/%d", tpl.TemplateID, part, tpl.UpdatedAt.UnixNano())
	parsed, ok := s.parsedTpl.Get(key)
	if !ok {
		var err error
		parsed, err = template.Parse(src)
		if err != nil {
			// Catalog admission validates templates, so this only
			// happens for legacy rows; fall back to one-shot rendering.
			return template.Render(src, vars)
		}
		s.parsedTpl.Set(key, parsed, time.Hour)
	}
	return parsed.Render(vars)
}
