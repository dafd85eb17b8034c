package notification

import (
	"context"
	"testing"
	"time"

	"github.com/fintrack-api/internal/domain"
	"github.com/fintrack-api/internal/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEventStore struct {
	mock.Mock
}

func (m *mockEventStore) Put(ctx context.Context, e *domain.NotificationEvent) error {
	return m.Called(ctx, e).Error(0)
}

type mockQueueStore struct {
	mock.Mock
}

func (m *mockQueueStore) Put(ctx context.Context, msg *domain.QueuedMessage) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockQueueStore) Get(ctx context.Context, messageID string) (*domain.QueuedMessage, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QueuedMessage), args.Error(1)
}

func (m *mockQueueStore) ListByUser(ctx context.Context, userID string, limit int32) ([]domain.QueuedMessage, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.QueuedMessage), args.Error(1)
}

func (m *mockQueueStore) Cancel(ctx context.Context, messageID string) error {
	return m.Called(ctx, messageID).Error(0)
}

type mockGate struct {
	mock.Mock
}

func (m *mockGate) MayDeliver(ctx context.Context, userID string, t domain.NotificationType) (bool, error) {
	args := m.Called(ctx, userID, t)
	return args.Bool(0), args.Error(1)
}

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) Get(ctx context.Context, userID string) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) GetByName(ctx context.Context, name string) (*domain.EmailTemplate, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EmailTemplate), args.Error(1)
}

type mockSMS struct {
	mock.Mock
}

func (m *mockSMS) SendSMS(ctx context.Context, to, message string) error {
	return m.Called(ctx, to, message).Error(0)
}

type fixture struct {
	events  *mockEventStore
	queue   *mockQueueStore
	gate    *mockGate
	users   *mockDirectory
	catalog *mockCatalog
	sms     *mockSMS
	clk     *clock.Fake
	svc     Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		events:  new(mockEventStore),
		queue:   new(mockQueueStore),
		gate:    new(mockGate),
		users:   new(mockDirectory),
		catalog: new(mockCatalog),
		sms:     new(mockSMS),
		clk:     clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
	}
	f.svc = NewService(ServiceDeps{
		EventRepo:    f.events,
		QueueRepo:    f.queue,
		Preferences:  f.gate,
		UserRepo:     f.users,
		TemplateRepo: f.catalog,
		SMSSender:    f.sms,
		Defaults: Defaults{
			BaseURL:           "https://app.fintrack.test",
			SupportEmail:      "support@fintrack.test",
			CompanyName:       "FinTrack",
			UnsubscribeSecret: "unit-test-secret",
		},
		Clock: f.clk,
	})
	return f
}

func (f *fixture) user() *domain.User {
	return &domain.User{
		UserID:    "user-1",
		Email:     "ada@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
	}
}

func stockAlertTemplate() *domain.EmailTemplate {
	return &domain.EmailTemplate{
		TemplateID: "tpl-stock",
		Name:       "stock-alert",
		Type:       domain.TypeStockAlert,
		Subject:    "{{symbol}} moved {{change_percent}}%",
		HTMLBody:   "<p>Hi {{user.first_name}}, {{symbol}} is at {{price}}.</p><a href=\"{{unsubscribe_url}}\">unsubscribe</a>",
		TextBody:   "Hi {{user.first_name}}, {{symbol}} is at {{price}}.",
		Enable:     1,
		UpdatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestTrigger_RendersAndQueues(t *testing.T) {
	f := newFixture(t)
	f.gate.On("MayDeliver", mock.Anything, "user-1", domain.TypeStockAlert).Return(true, nil)
	f.events.On("Put", mock.Anything, mock.Anything).Return(nil)
	f.users.On("Get", mock.Anything, "user-1").Return(f.user(), nil)
	f.catalog.On("GetByName", mock.Anything, "stock-alert").Return(stockAlertTemplate(), nil)

	var queued *domain.QueuedMessage
	f.queue.On("Put", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		queued = args.Get(1).(*domain.QueuedMessage)
	}).Return(nil)

	res, err := f.svc.Trigger(context.Background(), TriggerRequest{
		Type:   string(domain.TypeStockAlert),
		UserID: "user-1",
		Payload: map[string]interface{}{
			"symbol":         "ACME",
			"price":          float64(101),
			"change_percent": 7.5,
		},
	})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.NotEmpty(t, res.EventID)

	require.NotNil(t, queued)
	assert.Equal(t, res.QueuedID, queued.MessageID)
	assert.Equal(t, res.EventID, queued.EventID)
	assert.Equal(t, "ada@example.com", queued.RecipientAddress)
	assert.Equal(t, "ACME moved 7.5%", queued.Subject)
	assert.Contains(t, queued.HTMLBody, "Hi Ada, ACME is at 101.")
	assert.Contains(t, queued.HTMLBody, "https://app.fintrack.test/v1/unsubscribe/")
	assert.Equal(t, 75, queued.PriorityWeight)
	assert.Equal(t, 3, queued.MaxAttempts)
	assert.Equal(t, domain.StatusPending, queued.Status)
	assert.Equal(t, f.clk.Now(), queued.ScheduledFor)
}

func TestTrigger_SkippedByPreferences(t *testing.T) {
	f := newFixture(t)
	f.gate.On("MayDeliver", mock.Anything, "user-1", domain.TypeFeatureAnnouncement).Return(false, nil)

	var event *domain.NotificationEvent
	f.events.On("Put", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		event = args.Get(1).(*domain.NotificationEvent)
	}).Return(nil)

	res, err := f.svc.Trigger(context.Background(), TriggerRequest{
		Type:   string(domain.TypeFeatureAnnouncement),
		UserID: "user-1",
	})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "user preferences", res.Reason)
	assert.Empty(t, res.QueuedID)

	// The event is still persisted for audit, already marked processed.
	require.NotNil(t, event)
	assert.Equal(t, 1, event.Processed)
	require.NotNil(t, event.ProcessedAt)

	f.queue.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
	f.users.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestTrigger_UnknownTypeRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Trigger(context.Background(), TriggerRequest{Type: "smoke_signal", UserID: "user-1"})
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestTrigger_MissingRecipientFails(t *testing.T) {
	f := newFixture(t)
	f.gate.On("MayDeliver", mock.Anything, "ghost", domain.TypeStockAlert).Return(true, nil)
	f.events.On("Put", mock.Anything, mock.Anything).Return(nil)
	f.users.On("Get", mock.Anything, "ghost").Return(nil, domain.ErrNotFound)

	_, err := f.svc.Trigger(context.Background(), TriggerRequest{
		Type:   string(domain.TypeStockAlert),
		UserID: "ghost",
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
	f.queue.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
}

func TestTrigger_CriticalPingsSMS(t *testing.T) {
	f := newFixture(t)
	user := f.user()
	user.Phone = "+15550100"
	f.gate.On("MayDeliver", mock.Anything, "user-1", domain.TypePaymentFailed).Return(true, nil)
	f.events.On("Put", mock.Anything, mock.Anything).Return(nil)
	f.users.On("Get", mock.Anything, "user-1").Return(user, nil)
	f.catalog.On("GetByName", mock.Anything, "payment-failed").Return(&domain.EmailTemplate{
		TemplateID: "tpl-pf",
		Subject:    "Payment failed",
		HTMLBody:   "<p>Your payment failed.</p>",
	}, nil)
	f.queue.On("Put", mock.Anything, mock.Anything).Return(nil)
	f.sms.On("SendSMS", mock.Anything, "+15550100", "Payment failed").Return(nil)

	_, err := f.svc.Trigger(context.Background(), TriggerRequest{
		Type:   string(domain.TypePaymentFailed),
		UserID: "user-1",
	})
	require.NoError(t, err)
	f.sms.AssertExpectations(t)
}

func TestTrigger_NoSMSWithoutPhone(t *testing.T) {
	f := newFixture(t)
	f.gate.On("MayDeliver", mock.Anything, "user-1", domain.TypePaymentFailed).Return(true, nil)
	f.events.On("Put", mock.Anything, mock.Anything).Return(nil)
	f.users.On("Get", mock.Anything, "user-1").Return(f.user(), nil)
	f.catalog.On("GetByName", mock.Anything, "payment-failed").Return(&domain.EmailTemplate{
		TemplateID: "tpl-pf",
		Subject:    "Payment failed",
		HTMLBody:   "<p>Your payment failed.</p>",
	}, nil)
	f.queue.On("Put", mock.Anything, mock.Anything).Return(nil)

	_, err := f.svc.Trigger(context.Background(), TriggerRequest{
		Type:   string(domain.TypePaymentFailed),
		UserID: "user-1",
	})
	require.NoError(t, err)
	f.sms.AssertNotCalled(t, "SendSMS", mock.Anything, mock.Anything, mock.Anything)
}

func TestTrigger_FutureScheduleKept(t *testing.T) {
	f := newFixture(t)
	later := f.clk.Now().Add(2 * time.Hour)
	f.gate.On("MayDeliver", mock.Anything, "user-1", domain.TypeWeeklyDigest).Return(true, nil)
	f.events.On("Put", mock.Anything, mock.Anything).Return(nil)
	f.users.On("Get", mock.Anything, "user-1").Return(f.user(), nil)
	f.catalog.On("GetByName", mock.Anything, "weekly-digest").Return(&domain.EmailTemplate{
		TemplateID: "tpl-wd",
		Subject:    "Your week",
		HTMLBody:   "<p>Digest</p>",
	}, nil)

	var queued *domain.QueuedMessage
	f.queue.On("Put", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		queued = args.Get(1).(*domain.QueuedMessage)
	}).Return(nil)

	_, err := f.svc.Trigger(context.Background(), TriggerRequest{
		Type:         string(domain.TypeWeeklyDigest),
		UserID:       "user-1",
		ScheduledFor: &later,
	})
	require.NoError(t, err)
	require.NotNil(t, queued)
	assert.Equal(t, later, queued.ScheduledFor)
}

func TestCancelMessage_OwnershipEnforced(t *testing.T) {
	f := newFixture(t)
	f.queue.On("Get", mock.Anything, "m1").Return(&domain.QueuedMessage{
		MessageID: "m1",
		UserID:    "someone-else",
		Status:    domain.StatusPending,
	}, nil)

	err := f.svc.CancelMessage(context.Background(), "m1", "user-1")
	require.ErrorIs(t, err, domain.ErrForbidden)
	f.queue.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything)
}

func TestCancelMessage_OwnerCancels(t *testing.T) {
	f := newFixture(t)
	f.queue.On("Get", mock.Anything, "m1").Return(&domain.QueuedMessage{
		MessageID: "m1",
		UserID:    "user-1",
		Status:    domain.StatusPending,
	}, nil)
	f.queue.On("Cancel", mock.Anything, "m1").Return(nil)

	require.NoError(t, f.svc.CancelMessage(context.Background(), "m1", "user-1"))
	f.queue.AssertExpectations(t)
}
