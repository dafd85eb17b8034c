package preference

import (
	"context"
	"fmt"
	"time"

	"github.com/fintrack-api/internal/domain"
	"github.com/fintrack-api/internal/pkg/unsubtoken"
)

type Service interface {
	// Get returns the user's preference record, creating it with defaults
	// on first access.
	Get(ctx context.Context, userID string) (*domain.PreferenceRecord, error)
	// MayDeliver decides whether a notification of the given category may
	// be delivered to the user. Absence of a record never suppresses a
	// legitimate first notification.
	MayDeliver(ctx context.Context, userID string, t domain.NotificationType) (bool, error)
	Update(ctx context.Context, userID string, req domain.UpdatePreferencesRequest) (*domain.PreferenceRecord, error)
	// Unsubscribe flips preference flags off via a signed recipient token.
	// An empty category in the token disables everything except security.
	Unsubscribe(ctx context.Context, token string) (*domain.PreferenceRecord, error)
}

type prefStore interface {
	Get(ctx context.Context, userID string) (*domain.PreferenceRecord, error)
	Put(ctx context.Context, p *domain.PreferenceRecord) error
}

type userDirectory interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

type service struct {
	repo       prefStore
	users      userDirectory
	unsubToken string
}

type ServiceDeps struct {
	PreferenceRepo    prefStore
	UserRepo          userDirectory
	UnsubscribeSecret string
}

func NewService(deps ServiceDeps) Service {
	return &service{
		repo:       deps.PreferenceRepo,
		users:      deps.UserRepo,
		unsubToken: deps.UnsubscribeSecret,
	}
}

func (s *service) Get(ctx context.Context, userID string) (*domain.PreferenceRecord, error) {
	p, err := s.repo.Get(ctx, userID)
	if err == nil {
		// Older records written before a flag was clamped server-side
		// could hold false; never expose that.
		p.SecurityAlerts = true
		return p, nil
	}
	p = domain.DefaultPreferences(userID)
	if putErr := s.repo.Put(ctx, p); putErr != nil {
		return nil, putErr
	}
	return p, nil
}

func (s *service) MayDeliver(ctx context.Context, userID string, t domain.NotificationType) (bool, error) {
	cfg := domain.ConfigFor(t)
	if cfg.PreferenceFlag == "" || cfg.PreferenceFlag == domain.PrefSecurityAlerts {
		return true, nil
	}
	p, err := s.repo.Get(ctx, userID)
	if err != nil {
		// No record yet: permissive, not blocking.
		return true, nil
	}
	return p.Allows(cfg.PreferenceFlag), nil
}

func (s *service) Update(ctx context.Context, userID string, req domain.UpdatePreferencesRequest) (*domain.PreferenceRecord, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	apply := func(flag string, v *bool) {
		if v != nil {
			p.SetFlag(flag, *v)
		}
	}
	apply(domain.PrefSecurityAlerts, req.SecurityAlerts)
	apply(domain.PrefPaymentAlerts, req.PaymentAlerts)
	apply(domain.PrefSubscriptionAlerts, req.SubscriptionAlerts)
	apply(domain.PrefStockAlerts, req.StockAlerts)
	apply(domain.PrefBudgetAlerts, req.BudgetAlerts)
	apply(domain.PrefTaskAlerts, req.TaskAlerts)
	apply(domain.PrefWeeklyDigest, req.WeeklyDigest)
	apply(domain.PrefMarketing, req.Marketing)
	if req.DigestFrequency != nil {
		switch *req.DigestFrequency {
		case domain.DigestImmediate, domain.DigestDaily, domain.DigestWeekly, domain.DigestNever:
			p.DigestFrequency = *req.DigestFrequency
		default:
			return nil, fmt.Errorf("invalid digest frequency %q: %w", *req.DigestFrequency, domain.ErrBadRequest)
		}
	}
	p.SecurityAlerts = true
	p.UpdatedAt = time.Now().UTC()
	if err := s.repo.Put(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *service) Unsubscribe(ctx context.Context, token string) (*domain.PreferenceRecord, error) {
	email, flag, err := unsubtoken.Decode(token, s.unsubToken)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	p, err := s.Get(ctx, u.UserID)
	if err != nil {
		return nil, err
	}
	if flag == "" {
		p.PaymentAlerts = false
		p.SubscriptionAlerts = false
		p.StockAlerts = false
		p.BudgetAlerts = false
		p.TaskAlerts = false
		p.WeeklyDigest = false
		p.Marketing = false
	} else {
		p.SetFlag(flag, false)
	}
	p.SecurityAlerts = true
	p.UpdatedAt = time.Now().UTC()
	if err := s.repo.Put(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
