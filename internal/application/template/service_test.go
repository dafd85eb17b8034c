package template

import (
	"context"
	"testing"

	"github.com/fintrack-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTemplateStore struct {
	mock.Mock
}

func (m *mockTemplateStore) Put(ctx context.Context, t *domain.EmailTemplate) error {
	return m.Called(ctx, t).Error(0)
}

func (m *mockTemplateStore) Get(ctx context.Context, templateID string) (*domain.EmailTemplate, error) {
	args := m.Called(ctx, templateID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EmailTemplate), args.Error(1)
}

func (m *mockTemplateStore) GetByName(ctx context.Context, name string) (*domain.EmailTemplate, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EmailTemplate), args.Error(1)
}

func (m *mockTemplateStore) List(ctx context.Context) ([]domain.EmailTemplate, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.EmailTemplate), args.Error(1)
}

func (m *mockTemplateStore) Update(ctx context.Context, templateID string, updates map[string]interface{}) error {
	return m.Called(ctx, templateID, updates).Error(0)
}

func (m *mockTemplateStore) Delete(ctx context.Context, templateID string) error {
	return m.Called(ctx, templateID).Error(0)
}

func validCreateRequest() domain.CreateTemplateRequest {
	return domain.CreateTemplateRequest{
		Name:     "budget-exceeded",
		Type:     string(domain.TypeBudgetExceeded),
		Subject:  "Budget {{budget_name}} exceeded",
		HTMLBody: "<p>Hi {{user.first_name}}, {{#if overage}}you are {{overage}} over.{{/if}}</p>",
		TextBody: "Hi {{user.first_name}}",
	}
}

func TestCreate_StoresValidTemplate(t *testing.T) {
	repo := new(mockTemplateStore)
	repo.On("GetByName", mock.Anything, "budget-exceeded").Return(nil, domain.ErrNotFound)
	repo.On("Put", mock.Anything, mock.Anything).Return(nil)

	svc := NewService(ServiceDeps{TemplateRepo: repo})
	created, err := svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, created.TemplateID)
	assert.Equal(t, domain.TypeBudgetExceeded, created.Type)
	assert.Equal(t, 1, created.Enable)
	repo.AssertExpectations(t)
}

func TestCreate_RejectsMissingFields(t *testing.T) {
	svc := NewService(ServiceDeps{TemplateRepo: new(mockTemplateStore)})
	_, err := svc.Create(context.Background(), domain.CreateTemplateRequest{Name: "x"})
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestCreate_RejectsUnknownCategory(t *testing.T) {
	req := validCreateRequest()
	req.Type = "carrier_pigeon"
	svc := NewService(ServiceDeps{TemplateRepo: new(mockTemplateStore)})
	_, err := svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestCreate_RejectsMalformedTemplate(t *testing.T) {
	req := validCreateRequest()
	req.HTMLBody = "{{#if a}}never closed"
	repo := new(mockTemplateStore)

	svc := NewService(ServiceDeps{TemplateRepo: repo})
	_, err := svc.Create(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrBadRequest)
	assert.Contains(t, err.Error(), "invalid template")
	repo.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
}

func TestCreate_RejectsDuplicateName(t *testing.T) {
	repo := new(mockTemplateStore)
	repo.On("GetByName", mock.Anything, "budget-exceeded").Return(&domain.EmailTemplate{TemplateID: "t1"}, nil)

	svc := NewService(ServiceDeps{TemplateRepo: repo})
	_, err := svc.Create(context.Background(), validCreateRequest())
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestUpdate_PatchesOnlyProvidedFields(t *testing.T) {
	repo := new(mockTemplateStore)
	existing := &domain.EmailTemplate{TemplateID: "t1", Subject: "old"}
	repo.On("Get", mock.Anything, "t1").Return(existing, nil)
	repo.On("Update", mock.Anything, "t1", map[string]interface{}{"subject": "new {{name}}"}).Return(nil)

	svc := NewService(ServiceDeps{TemplateRepo: repo})
	subject := "new {{name}}"
	_, err := svc.Update(context.Background(), "t1", domain.UpdateTemplateRequest{Subject: &subject})
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestUpdate_RejectsMalformedPatch(t *testing.T) {
	repo := new(mockTemplateStore)
	repo.On("Get", mock.Anything, "t1").Return(&domain.EmailTemplate{TemplateID: "t1"}, nil)

	svc := NewService(ServiceDeps{TemplateRepo: repo})
	bad := "{{#each items}}unterminated"
	_, err := svc.Update(context.Background(), "t1", domain.UpdateTemplateRequest{HTMLBody: &bad})
	require.ErrorIs(t, err, domain.ErrBadRequest)
	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdate_EmptyPatchRejected(t *testing.T) {
	repo := new(mockTemplateStore)
	repo.On("Get", mock.Anything, "t1").Return(&domain.EmailTemplate{TemplateID: "t1"}, nil)

	svc := NewService(ServiceDeps{TemplateRepo: repo})
	_, err := svc.Update(context.Background(), "t1", domain.UpdateTemplateRequest{})
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestDelete_UnknownTemplate(t *testing.T) {
	repo := new(mockTemplateStore)
	repo.On("Get", mock.Anything, "absent").Return(nil, domain.ErrNotFound)

	svc := NewService(ServiceDeps{TemplateRepo: repo})
	err := svc.Delete(context.Background(), "absent")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPreview_RendersAllParts(t *testing.T) {
	repo := new(mockTemplateStore)
	repo.On("Get", mock.Anything, "t1").Return(&domain.EmailTemplate{
		TemplateID: "t1",
		Subject:    "Hello {{name}}",
		HTMLBody:   "<p>{{name}}</p>",
		TextBody:   "{{name}}",
	}, nil)

	svc := NewService(ServiceDeps{TemplateRepo: repo})
	subject, html, text, err := svc.Preview(context.Background(), "t1", map[string]interface{}{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada", subject)
	assert.Equal(t, "<p>Ada</p>", html)
	assert.Equal(t, "Ada", text)
}
