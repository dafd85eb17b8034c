package domain

import "time"

// NotificationType identifies one of the fixed notification categories.
type NotificationType string

const (
	TypeWelcome               NotificationType = "welcome"
	TypeSecurityAlert         NotificationType = "security_alert"
	TypePasswordChanged       NotificationType = "password_changed"
	TypePaymentFailed         NotificationType = "payment_failed"
	TypePaymentSuccess        NotificationType = "payment_success"
	TypeInvoiceReady          NotificationType = "invoice_ready"
	TypeSubscriptionExpiring  NotificationType = "subscription_expiring"
	TypeSubscriptionCancelled NotificationType = "subscription_cancelled"
	TypeStockAlert            NotificationType = "stock_alert"
	TypeBudgetExceeded        NotificationType = "budget_exceeded"
	TypeTaskAssigned          NotificationType = "task_assigned"
	TypeTaskCompleted         NotificationType = "task_completed"
	TypeWeeklyDigest          NotificationType = "weekly_digest"
	TypeFeatureAnnouncement   NotificationType = "feature_announcement"
)

// Priority levels for notification events.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// PriorityWeight maps a priority name to the numeric weight used for queue
// ordering. Higher weight is dispatched first.
func PriorityWeight(priority string) int {
	switch priority {
	case PriorityCritical:
		return 100
	case PriorityHigh:
		return 75
	case PriorityMedium:
		return 50
	default:
		return 25
	}
}

// CategoryConfig is the static per-category delivery configuration.
type CategoryConfig struct {
	Priority       string
	Batchable      bool
	MaxAttempts    int
	BaseRetryDelay time.Duration
	TemplateName   string
	// PreferenceFlag names the PreferenceRecord field consulted before
	// delivery. Empty means the category is always delivered.
	PreferenceFlag string
}

// categoryConfigs is the authoritative table: category -> priority,
// batchability, retry budget and template. Critical categories are never
// batchable so they are sent the moment they are picked up.
var categoryConfigs = map[NotificationType]CategoryConfig{
	TypeWelcome:               {Priority: PriorityHigh, MaxAttempts: 3, BaseRetryDelay: 5 * time.Second, TemplateName: "welcome"},
	TypeSecurityAlert:         {Priority: PriorityCritical, MaxAttempts: 5, BaseRetryDelay: 2 * time.Second, TemplateName: "security-alert", PreferenceFlag: PrefSecurityAlerts},
	TypePasswordChanged:       {Priority: PriorityCritical, MaxAttempts: 5, BaseRetryDelay: 2 * time.Second, TemplateName: "password-changed", PreferenceFlag: PrefSecurityAlerts},
	TypePaymentFailed:         {Priority: PriorityCritical, MaxAttempts: 5, BaseRetryDelay: 2 * time.Second, TemplateName: "payment-failed", PreferenceFlag: PrefPaymentAlerts},
	TypePaymentSuccess:        {Priority: PriorityMedium, Batchable: true, MaxAttempts: 3, BaseRetryDelay: 5 * time.Second, TemplateName: "payment-success", PreferenceFlag: PrefPaymentAlerts},
	TypeInvoiceReady:          {Priority: PriorityMedium, Batchable: true, MaxAttempts: 3, BaseRetryDelay: 5 * time.Second, TemplateName: "invoice-ready", PreferenceFlag: PrefPaymentAlerts},
	TypeSubscriptionExpiring:  {Priority: PriorityHigh, MaxAttempts: 3, BaseRetryDelay: 5 * time.Second, TemplateName: "subscription-expiring", PreferenceFlag: PrefSubscriptionAlerts},
	TypeSubscriptionCancelled: {Priority: PriorityHigh, MaxAttempts: 3, BaseRetryDelay: 5 * time.Second, TemplateName: "subscription-cancelled", PreferenceFlag: PrefSubscriptionAlerts},
	TypeStockAlert:            {Priority: PriorityHigh, MaxAttempts: 3, BaseRetryDelay: 5 * time.Second, TemplateName: "stock-alert", PreferenceFlag: PrefStockAlerts},
	TypeBudgetExceeded:        {Priority: PriorityHigh, MaxAttempts: 3, BaseRetryDelay: 5 * time.Second, TemplateName: "budget-exceeded", PreferenceFlag: PrefBudgetAlerts},
	TypeTaskAssigned:          {Priority: PriorityMedium, MaxAttempts: 3, BaseRetryDelay: 5 * time.Second, TemplateName: "task-assigned", PreferenceFlag: PrefTaskAlerts},
	TypeTaskCompleted:         {Priority: PriorityLow, Batchable: true, MaxAttempts: 2, BaseRetryDelay: 10 * time.Second, TemplateName: "task-completed", PreferenceFlag: PrefTaskAlerts},
	TypeWeeklyDigest:          {Priority: PriorityLow, Batchable: true, MaxAttempts: 2, BaseRetryDelay: 10 * time.Second, TemplateName: "weekly-digest", PreferenceFlag: PrefWeeklyDigest},
	TypeFeatureAnnouncement:   {Priority: PriorityLow, Batchable: true, MaxAttempts: 2, BaseRetryDelay: 10 * time.Second, TemplateName: "feature-announcement", PreferenceFlag: PrefMarketing},
}

// ConfigFor returns the static configuration for the given category.
// Unknown categories get a conservative medium-priority default.
func ConfigFor(t NotificationType) CategoryConfig {
	if cfg, ok := categoryConfigs[t]; ok {
		return cfg
	}
	return CategoryConfig{Priority: PriorityMedium, MaxAttempts: 3, BaseRetryDelay: 5 * time.Second}
}

// IsKnownType reports whether t is one of the configured categories.
func IsKnownType(t NotificationType) bool {
	_, ok := categoryConfigs[t]
	return ok
}

// Types returns all configured categories.
func Types() []NotificationType {
	out := make([]NotificationType, 0, len(categoryConfigs))
	for t := range categoryConfigs {
		out = append(out, t)
	}
	return out
}
