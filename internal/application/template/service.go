// Package template manages the email template catalog. Templates are
// validated structurally on admission so a malformed block tag fails the
// save, never a send.
package template

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fintrack-api/internal/domain"
	"github.com/fintrack-api/internal/pkg/id"
	tpl "github.com/fintrack-api/internal/pkg/template"
	"github.com/fintrack-api/internal/pkg/validate"
)

type Service interface {
	Create(ctx context.Context, req domain.CreateTemplateRequest) (*domain.EmailTemplate, error)
	Get(ctx context.Context, templateID string) (*domain.EmailTemplate, error)
	GetByName(ctx context.Context, name string) (*domain.EmailTemplate, error)
	List(ctx context.Context) ([]domain.EmailTemplate, error)
	Update(ctx context.Context, templateID string, req domain.UpdateTemplateRequest) (*domain.EmailTemplate, error)
	Delete(ctx context.Context, templateID string) error
	// Preview renders the stored template against sample variables without
	// queueing anything.
	Preview(ctx context.Context, templateID string, vars map[string]interface{}) (subject, html, text string, err error)
}

type templateStore interface {
	Put(ctx context.Context, t *domain.EmailTemplate) error
	Get(ctx context.Context, templateID string) (*domain.EmailTemplate, error)
	GetByName(ctx context.Context, name string) (*domain.EmailTemplate, error)
	List(ctx context.Context) ([]domain.EmailTemplate, error)
	Update(ctx context.Context, templateID string, updates map[string]interface{}) error
	Delete(ctx context.Context, templateID string) error
}

type service struct {
	repo templateStore
}

type ServiceDeps struct {
	TemplateRepo templateStore
}

func NewService(deps ServiceDeps) Service {
	return &service{repo: deps.TemplateRepo}
}

func (s *service) Create(ctx context.Context, req domain.CreateTemplateRequest) (*domain.EmailTemplate, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%s: %w", err, domain.ErrBadRequest)
	}
	if !domain.IsKnownType(domain.NotificationType(req.Type)) {
		return nil, fmt.Errorf("unknown notification type %q: %w", req.Type, domain.ErrBadRequest)
	}
	if err := checkSources(req.Subject, req.HTMLBody, req.TextBody); err != nil {
		return nil, err
	}

	// Names are the lookup key for category config; enforce uniqueness.
	if _, err := s.repo.GetByName(ctx, req.Name); err == nil {
		return nil, fmt.Errorf("template %q already exists: %w", req.Name, domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	t := &domain.EmailTemplate{
		TemplateID: id.New(),
		Name:       req.Name,
		Type:       domain.NotificationType(req.Type),
		Subject:    req.Subject,
		HTMLBody:   req.HTMLBody,
		TextBody:   req.TextBody,
		Enable:     1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Put(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *service) Get(ctx context.Context, templateID string) (*domain.EmailTemplate, error) {
	return s.repo.Get(ctx, templateID)
}

func (s *service) GetByName(ctx context.Context, name string) (*domain.EmailTemplate, error) {
	return s.repo.GetByName(ctx, name)
}

func (s *service) List(ctx context.Context) ([]domain.EmailTemplate, error) {
	return s.repo.List(ctx)
}

func (s *service) Update(ctx context.Context, templateID string, req domain.UpdateTemplateRequest) (*domain.EmailTemplate, error) {
	if _, err := s.repo.Get(ctx, templateID); err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if req.Subject != nil {
		if err := checkSources(*req.Subject); err != nil {
			return nil, err
		}
		updates["subject"] = *req.Subject
	}
	if req.HTMLBody != nil {
		if err := checkSources(*req.HTMLBody); err != nil {
			return nil, err
		}
		updates["html_body"] = *req.HTMLBody
	}
	if req.TextBody != nil {
		if err := checkSources(*req.TextBody); err != nil {
			return nil, err
		}
		updates["text_body"] = *req.TextBody
	}
	if req.Enable != nil {
		updates["enable"] = *req.Enable
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("nothing to update: %w", domain.ErrBadRequest)
	}
	if err := s.repo.Update(ctx, templateID, updates); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, templateID)
}

func (s *service) Delete(ctx context.Context, templateID string) error {
	if _, err := s.repo.Get(ctx, templateID); err != nil {
		return err
	}
	return s.repo.Delete(ctx, templateID)
}

func (s *service) Preview(ctx context.Context, templateID string, vars map[string]interface{}) (string, string, string, error) {
	t, err := s.repo.Get(ctx, templateID)
	if err != nil {
		return "", "", "", err
	}
	return tpl.Render(t.Subject, vars), tpl.Render(t.HTMLBody, vars), tpl.Render(t.TextBody, vars), nil
}

// checkSources runs structural validation over each template part and
// collapses the problems into one bad-request error.
func checkSources(sources ...string) error {
	var problems []string
	for _, src := range sources {
		problems = append(problems, tpl.Validate(src)...)
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid template: %s: %w", strings.Join(problems, "; "), domain.ErrBadRequest)
	}
	return nil
}
