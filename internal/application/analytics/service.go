// Package analytics computes delivery statistics from the delivery log and
// records engagement signals (opens and clicks) coming back from recipients.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fintrack-api/internal/domain"
	"github.com/fintrack-api/internal/pkg/clock"
)

// Stats is one aggregation bucket. Delivered counts messages that reached
// the recipient regardless of later engagement promotions.
type Stats struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Bounced   int `json:"bounced"`
	Opened    int `json:"opened"`
	Clicked   int `json:"clicked"`

	DeliveryRate     float64 `json:"delivery_rate"`
	OpenRate         float64 `json:"open_rate"`
	ClickThroughRate float64 `json:"click_through_rate"`
}

// Report is the aggregated view over a time window, broken down by
// category and by calendar day.
type Report struct {
	From        time.Time                         `json:"from"`
	To          time.Time                         `json:"to"`
	GeneratedAt time.Time                         `json:"generated_at"`
	Totals      Stats                             `json:"totals"`
	ByCategory  map[domain.NotificationType]Stats `json:"by_category"`
	ByDay       map[string]Stats                  `json:"by_day"`
}

// ExportResult points at a report written to object storage.
type ExportResult struct {
	Location    string `json:"location"`
	DownloadURL string `json:"download_url"`
}

type Service interface {
	// Summary aggregates delivery log entries whose sent_at falls in
	// [from, to).
	Summary(ctx context.Context, from, to time.Time) (*Report, error)
	// Export writes the summary for the window to object storage and
	// returns a time-limited download link.
	Export(ctx context.Context, from, to time.Time) (*ExportResult, error)
	// RecordOpen and RecordClick resolve a transport message id back to its
	// log entry and patch the engagement timestamps. Both are idempotent.
	RecordOpen(ctx context.Context, externalID string) error
	RecordClick(ctx context.Context, externalID string) error
	History(ctx context.Context, userID string, limit int) ([]domain.DeliveryLogEntry, error)
}

type logStore interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]domain.DeliveryLogEntry, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.DeliveryLogEntry, error)
	MarkOpened(ctx context.Context, logID string, at time.Time) error
	MarkClicked(ctx context.Context, logID string, at time.Time) error
	SetStatus(ctx context.Context, logID, status string) error
	ListByUser(ctx context.Context, userID string, limit int32) ([]domain.DeliveryLogEntry, error)
}

type reportStore interface {
	UploadReport(ctx context.Context, key string, body []byte) (string, error)
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type service struct {
	logs    logStore
	reports reportStore // nil when no bucket is configured
	clk     clock.Clock
}

type ServiceDeps struct {
	DeliveryLogRepo logStore
	ReportStore     reportStore
	Clock           clock.Clock
}

func NewService(deps ServiceDeps) Service {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &service{logs: deps.DeliveryLogRepo, reports: deps.ReportStore, clk: clk}
}

func (s *service) Summary(ctx context.Context, from, to time.Time) (*Report, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("empty report window: %w", domain.ErrBadRequest)
	}
	entries, err := s.logs.ListBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}

	report := &Report{
		From:        from.UTC(),
		To:          to.UTC(),
		GeneratedAt: s.clk.Now(),
		ByCategory:  make(map[domain.NotificationType]Stats),
		ByDay:       make(map[string]Stats),
	}
	for i := range entries {
		e := &entries[i]
		accumulate(&report.Totals, e)

		cat := report.ByCategory[e.Type]
		accumulate(&cat, e)
		report.ByCategory[e.Type] = cat

		day := e.SentAt.UTC().Format("2006-01-02")
		bucket := report.ByDay[day]
		accumulate(&bucket, e)
		report.ByDay[day] = bucket
	}

	finalize(&report.Totals)
	for k, v := range report.ByCategory {
		finalize(&v)
		report.ByCategory[k] = v
	}
	for k, v := range report.ByDay {
		finalize(&v)
		report.ByDay[k] = v
	}
	return report, nil
}

func (s *service) Export(ctx context.Context, from, to time.Time) (*ExportResult, error) {
	if s.reports == nil {
		return nil, fmt.Errorf("report storage not configured: %w", domain.ErrBadRequest)
	}
	report, err := s.Summary(ctx, from, to)
	if err != nil {
		return nil, err
	}
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}

	key := fmt.Sprintf("reports/delivery/%s_%s.json",
		report.From.Format("2006-01-02"), report.To.Format("2006-01-02"))
	location, err := s.reports.UploadReport(ctx, key, body)
	if err != nil {
		return nil, err
	}
	url, err := s.reports.PresignedURL(ctx, key, 24*time.Hour)
	if err != nil {
		return nil, err
	}
	return &ExportResult{Location: location, DownloadURL: url}, nil
}

func (s *service) RecordOpen(ctx context.Context, externalID string) error {
	entry, err := s.logs.GetByExternalID(ctx, externalID)
	if err != nil {
		return err
	}
	if entry.OpenedAt != nil {
		return nil
	}
	if err := s.logs.MarkOpened(ctx, entry.LogID, s.clk.Now()); err != nil {
		return err
	}
	// A click is the stronger signal; never demote clicked back to opened.
	if entry.Status != domain.LogStatusClicked {
		return s.logs.SetStatus(ctx, entry.LogID, domain.LogStatusOpened)
	}
	return nil
}

func (s *service) RecordClick(ctx context.Context, externalID string) error {
	entry, err := s.logs.GetByExternalID(ctx, externalID)
	if err != nil {
		return err
	}
	if entry.ClickedAt != nil {
		return nil
	}
	// A click implies an open even when the tracking pixel was blocked.
	if entry.OpenedAt == nil {
		if err := s.logs.MarkOpened(ctx, entry.LogID, s.clk.Now()); err != nil {
			return err
		}
	}
	return s.logs.MarkClicked(ctx, entry.LogID, s.clk.Now())
}

func (s *service) History(ctx context.Context, userID string, limit int) ([]domain.DeliveryLogEntry, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.logs.ListByUser(ctx, userID, int32(limit))
}

// accumulate counts one entry into a bucket. Raw counters only; rates are
// derived once at the end.
func accumulate(st *Stats, e *domain.DeliveryLogEntry) {
	switch e.Status {
	case domain.LogStatusFailed:
		st.Failed++
		return
	case domain.LogStatusBounced:
		st.Bounced++
		return
	}
	st.Delivered++
	if e.OpenedAt != nil || e.Status == domain.LogStatusOpened || e.Status == domain.LogStatusClicked {
		st.Opened++
	}
	if e.ClickedAt != nil || e.Status == domain.LogStatusClicked {
		st.Clicked++
	}
}

func finalize(st *Stats) {
	if total := st.Delivered + st.Failed + st.Bounced; total > 0 {
		st.DeliveryRate = float64(st.Delivered) / float64(total)
	}
	if st.Delivered > 0 {
		st.OpenRate = float64(st.Opened) / float64(st.Delivered)
	}
	if st.Opened > 0 {
		st.ClickThroughRate = float64(st.Clicked) / float64(st.Opened)
	}
}
