package domain

import "time"

// Digest frequency options.
const (
	DigestImmediate = "immediate"
	DigestDaily     = "daily"
	DigestWeekly    = "weekly"
	DigestNever     = "never"
)

// Preference flag names. Each notification category maps onto one of these
// via CategoryConfig.PreferenceFlag; several related categories share a flag.
const (
	PrefSecurityAlerts     = "security_alerts"
	PrefPaymentAlerts      = "payment_alerts"
	PrefSubscriptionAlerts = "subscription_alerts"
	PrefStockAlerts        = "stock_alerts"
	PrefBudgetAlerts       = "budget_alerts"
	PrefTaskAlerts         = "task_alerts"
	PrefWeeklyDigest       = "weekly_digest"
	PrefMarketing          = "marketing"
)

// PreferenceRecord holds a user's per-category opt-outs. One record per
// user, created lazily on first access. SecurityAlerts can never be false.
type PreferenceRecord struct {
	UserID             string    `json:"user_id" dynamodbav:"user_id"`
	SecurityAlerts     bool      `json:"security_alerts" dynamodbav:"security_alerts"`
	PaymentAlerts      bool      `json:"payment_alerts" dynamodbav:"payment_alerts"`
	SubscriptionAlerts bool      `json:"subscription_alerts" dynamodbav:"subscription_alerts"`
	StockAlerts        bool      `json:"stock_alerts" dynamodbav:"stock_alerts"`
	BudgetAlerts       bool      `json:"budget_alerts" dynamodbav:"budget_alerts"`
	TaskAlerts         bool      `json:"task_alerts" dynamodbav:"task_alerts"`
	WeeklyDigest       bool      `json:"weekly_digest" dynamodbav:"weekly_digest"`
	Marketing          bool      `json:"marketing" dynamodbav:"marketing"`
	DigestFrequency    string    `json:"digest_frequency" dynamodbav:"digest_frequency"`
	CreatedAt          time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// DefaultPreferences returns the lazily-created record for a user:
// everything on except marketing, security always on.
func DefaultPreferences(userID string) *PreferenceRecord {
	now := time.Now().UTC()
	return &PreferenceRecord{
		UserID:             userID,
		SecurityAlerts:     true,
		PaymentAlerts:      true,
		SubscriptionAlerts: true,
		StockAlerts:        true,
		BudgetAlerts:       true,
		TaskAlerts:         true,
		WeeklyDigest:       true,
		Marketing:          false,
		DigestFrequency:    DigestImmediate,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Allows reports whether the named preference flag permits delivery.
// The security flag always permits.
func (p *PreferenceRecord) Allows(flag string) bool {
	switch flag {
	case PrefSecurityAlerts:
		return true
	case PrefPaymentAlerts:
		return p.PaymentAlerts
	case PrefSubscriptionAlerts:
		return p.SubscriptionAlerts
	case PrefStockAlerts:
		return p.StockAlerts
	case PrefBudgetAlerts:
		return p.BudgetAlerts
	case PrefTaskAlerts:
		return p.TaskAlerts
	case PrefWeeklyDigest:
		return p.WeeklyDigest
	case PrefMarketing:
		return p.Marketing
	default:
		return true
	}
}

// SetFlag sets the named preference flag. Attempts to disable security
// alerts are ignored rather than rejected with an error: the write succeeds
// but the flag stays true.
func (p *PreferenceRecord) SetFlag(flag string, value bool) {
	switch flag {
	case PrefSecurityAlerts:
		p.SecurityAlerts = true
	case PrefPaymentAlerts:
		p.PaymentAlerts = value
	case PrefSubscriptionAlerts:
		p.SubscriptionAlerts = value
	case PrefStockAlerts:
		p.StockAlerts = value
	case PrefBudgetAlerts:
		p.BudgetAlerts = value
	case PrefTaskAlerts:
		p.TaskAlerts = value
	case PrefWeeklyDigest:
		p.WeeklyDigest = value
	case PrefMarketing:
		p.Marketing = value
	}
}

// UpdatePreferencesRequest is a partial preference update. Nil fields are
// left unchanged. SecurityAlerts=false is overridden to true.
type UpdatePreferencesRequest struct {
	SecurityAlerts     *bool   `json:"security_alerts"`
	PaymentAlerts      *bool   `json:"payment_alerts"`
	SubscriptionAlerts *bool   `json:"subscription_alerts"`
	StockAlerts        *bool   `json:"stock_alerts"`
	BudgetAlerts       *bool   `json:"budget_alerts"`
	TaskAlerts         *bool   `json:"task_alerts"`
	WeeklyDigest       *bool   `json:"weekly_digest"`
	Marketing          *bool   `json:"marketing"`
	DigestFrequency    *string `json:"digest_frequency" validate:"omitempty,oneof=immediate daily weekly never"`
}
