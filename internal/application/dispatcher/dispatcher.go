// Package dispatcher drains the notification queue: it claims eligible
// messages, groups batchable categories into bulk transport calls, applies
// exponential backoff on failure and writes the terminal delivery log.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fintrack-api/internal/domain"
	"github.com/fintrack-api/internal/infrastructure/dynamo"
	"github.com/fintrack-api/internal/infrastructure/smtp"
	"github.com/fintrack-api/internal/pkg/clock"
	"github.com/fintrack-api/internal/pkg/id"
	"golang.org/x/time/rate"
)

// maxFanOut bounds concurrent transport calls for non-batchable messages
// within one pass.
const maxFanOut = 8

type queueStore interface {
	FetchDue(ctx context.Context, now time.Time, limit int32) ([]domain.QueuedMessage, error)
	FetchStalled(ctx context.Context, cutoff time.Time, limit int32) ([]domain.QueuedMessage, error)
	Claim(ctx context.Context, messageID string, at time.Time) error
	Reclaim(ctx context.Context, messageID string, cutoff, at time.Time) error
	MarkSent(ctx context.Context, messageID, externalID string, at time.Time) error
	Reschedule(ctx context.Context, messageID string, attempts int, nextAt time.Time, errMsg string) error
	MarkFailed(ctx context.Context, messageID string, attempts int, errMsg string, at time.Time) error
}

type eventStore interface {
	MarkProcessed(ctx context.Context, eventID string, at time.Time) error
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type deliveryLogStore interface {
	Put(ctx context.Context, e *domain.DeliveryLogEntry) error
}

// Dispatcher runs the queue processing passes. Construct one per process;
// the claim step keeps even accidental concurrent instances from
// double-sending.
type Dispatcher struct {
	queue     queueStore
	events    eventStore
	logs      deliveryLogStore
	transport smtp.Mailer
	clk       clock.Clock

	batchSize        int32
	transportTimeout time.Duration
	stalledAfter     time.Duration
	limiter          *rate.Limiter // nil means no send ceiling

	// inProgress guards against overlapping passes: at most one dispatch
	// pass runs at a time.
	inProgress atomic.Bool
}

type Deps struct {
	QueueRepo         queueStore
	EventRepo         eventStore
	DeliveryLogRepo   deliveryLogStore
	Transport         smtp.Mailer
	Clock             clock.Clock
	BatchSize         int
	TransportTimeout  time.Duration
	SendRatePerMinute int

	// StalledAfter is how long a message may sit in processing before a
	// pass reclaims it. Must comfortably exceed the transport timeout so
	// an in-flight settle is never raced.
	StalledAfter time.Duration
}

func New(deps Deps) *Dispatcher {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	batchSize := deps.BatchSize
	if batchSize < 1 {
		batchSize = 50
	}
	timeout := deps.TransportTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	stalledAfter := deps.StalledAfter
	if stalledAfter <= 0 {
		stalledAfter = 5 * time.Minute
	}
	var limiter *rate.Limiter
	if deps.SendRatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(deps.SendRatePerMinute)/60.0), deps.SendRatePerMinute)
	}
	return &Dispatcher{
		queue:            deps.QueueRepo,
		events:           deps.EventRepo,
		logs:             deps.DeliveryLogRepo,
		transport:        deps.Transport,
		clk:              clk,
		batchSize:        int32(batchSize),
		transportTimeout: timeout,
		stalledAfter:     stalledAfter,
		limiter:          limiter,
	}
}

// RunPass executes one dispatch pass: fetch, claim, send, settle. A store
// error while fetching aborts the pass (the next tick retries); errors
// inside one message's send never touch its siblings.
func (d *Dispatcher) RunPass(ctx context.Context) error {
	if !d.inProgress.CompareAndSwap(false, true) {
		return nil // previous pass still running
	}
	defer d.inProgress.Store(false)

	now := d.clk.Now()
	d.reclaimStalled(ctx, now)

	due, err := d.queue.FetchDue(ctx, now, d.batchSize)
	if err != nil {
		return fmt.Errorf("fetch due messages: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	// Highest priority first, oldest first within a tier.
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].PriorityWeight != due[j].PriorityWeight {
			return due[i].PriorityWeight > due[j].PriorityWeight
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})

	singles, batches := d.partition(due)

	for _, group := range batches {
		d.sendBulk(ctx, group)
	}
	d.sendIndividually(ctx, singles)
	return nil
}

// reclaimStalled recovers messages stuck in processing. A crash or a failed
// settle write after a claim would otherwise strand the row forever, since
// FetchDue only sees pending. Reclaimed messages are settled as a failed
// attempt and flow back through the normal retry path; a message whose send
// actually went through before its settle write was lost may be delivered a
// second time.
func (d *Dispatcher) reclaimStalled(ctx context.Context, now time.Time) {
	cutoff := now.Add(-d.stalledAfter)
	stalled, err := d.queue.FetchStalled(ctx, cutoff, d.batchSize)
	if err != nil {
		log.Printf("dispatcher: fetch stalled messages: %v", err)
		return
	}
	for i := range stalled {
		m := stalled[i]
		if err := d.queue.Reclaim(ctx, m.MessageID, cutoff, now); err != nil {
			if !errors.Is(err, dynamo.ErrNotClaimable) {
				log.Printf("dispatcher: reclaim %s: %v", m.MessageID, err)
			}
			continue
		}
		log.Printf("dispatcher: reclaimed stalled message %s (claimed at %v)", m.MessageID, m.ProcessedAt)
		d.settle(ctx, &m, smtp.SendResult{MessageID: m.MessageID, Error: "stalled in processing"})
	}
}

// partition splits the fetched batch into individually-sent messages and
// per-category bulk groups. Only categories flagged batchable are grouped;
// critical categories must never wait on a batch window.
func (d *Dispatcher) partition(due []domain.QueuedMessage) ([]domain.QueuedMessage, [][]domain.QueuedMessage) {
	var singles []domain.QueuedMessage
	grouped := make(map[domain.NotificationType][]domain.QueuedMessage)
	var order []domain.NotificationType
	for _, m := range due {
		if domain.ConfigFor(m.Type).Batchable {
			if _, seen := grouped[m.Type]; !seen {
				order = append(order, m.Type)
			}
			grouped[m.Type] = append(grouped[m.Type], m)
			continue
		}
		singles = append(singles, m)
	}
	batches := make([][]domain.QueuedMessage, 0, len(order))
	for _, t := range order {
		batches = append(batches, grouped[t])
	}
	return singles, batches
}

// sendIndividually fans out bounded concurrent transport calls; each
// message is claimed before its send.
func (d *Dispatcher) sendIndividually(ctx context.Context, messages []domain.QueuedMessage) {
	sem := make(chan struct{}, maxFanOut)
	var wg sync.WaitGroup
	for i := range messages {
		m := messages[i]
		if !d.claim(ctx, &m) {
			continue
		}
		if err := d.waitSendBudget(ctx, 1); err != nil {
			log.Printf("dispatcher: send budget wait aborted: %v", err)
			// Settle the claimed message as a transport failure so it
			// re-enters the retry path, then fall through to wait on the
			// sends already in flight.
			d.settle(ctx, &m, smtp.SendResult{MessageID: m.MessageID, Error: "send budget exhausted"})
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			sendCtx, cancel := context.WithTimeout(ctx, d.transportTimeout)
			defer cancel()
			res := d.transport.Send(sendCtx, smtp.SendRequest{
				MessageID: m.MessageID,
				To:        m.RecipientAddress,
				Subject:   m.Subject,
				HTMLBody:  m.HTMLBody,
				TextBody:  m.TextBody,
			})
			d.settle(ctx, &m, res)
		}()
	}
	wg.Wait()
}

// sendBulk claims the whole group, issues one bulk transport call and fans
// the per-message results back.
func (d *Dispatcher) sendBulk(ctx context.Context, group []domain.QueuedMessage) {
	claimed := make([]domain.QueuedMessage, 0, len(group))
	reqs := make([]smtp.SendRequest, 0, len(group))
	for i := range group {
		m := group[i]
		if !d.claim(ctx, &m) {
			continue
		}
		claimed = append(claimed, m)
		reqs = append(reqs, smtp.SendRequest{
			MessageID: m.MessageID,
			To:        m.RecipientAddress,
			Subject:   m.Subject,
			HTMLBody:  m.HTMLBody,
			TextBody:  m.TextBody,
		})
	}
	if len(claimed) == 0 {
		return
	}
	if err := d.waitSendBudget(ctx, len(claimed)); err != nil {
		log.Printf("dispatcher: send budget wait aborted: %v", err)
		// Claimed messages are settled as transport failures so they
		// re-enter the retry path instead of sticking in processing.
		for i := range claimed {
			d.settle(ctx, &claimed[i], smtp.SendResult{MessageID: claimed[i].MessageID, Error: "send budget exhausted"})
		}
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.transportTimeout)
	defer cancel()
	results := d.transport.SendBulk(sendCtx, reqs)

	byID := make(map[string]smtp.SendResult, len(results))
	for _, r := range results {
		byID[r.MessageID] = r
	}
	for i := range claimed {
		m := &claimed[i]
		res, ok := byID[m.MessageID]
		if !ok {
			res = smtp.SendResult{MessageID: m.MessageID, Error: "no result from transport"}
		}
		d.settle(ctx, m, res)
	}
}

// claim performs the atomic pending->processing transition. Losing the
// claim means another actor already owns the message; that is not an
// error.
func (d *Dispatcher) claim(ctx context.Context, m *domain.QueuedMessage) bool {
	if err := d.queue.Claim(ctx, m.MessageID, d.clk.Now()); err != nil {
		if !errors.Is(err, dynamo.ErrNotClaimable) {
			log.Printf("dispatcher: claim %s: %v", m.MessageID, err)
		}
		return false
	}
	m.Status = domain.StatusProcessing
	return true
}

// settle applies one transport result to the message's state machine.
func (d *Dispatcher) settle(ctx context.Context, m *domain.QueuedMessage, res smtp.SendResult) {
	now := d.clk.Now()
	if res.Success {
		if err := d.queue.MarkSent(ctx, m.MessageID, res.ExternalID, now); err != nil {
			log.Printf("dispatcher: mark sent %s: %v", m.MessageID, err)
			return
		}
		d.writeTerminalLog(ctx, m, domain.LogStatusSent, "", res.ExternalID, now)
		d.markEventProcessed(ctx, m.EventID, now)
		return
	}

	attempts := m.Attempts + 1
	if attempts >= m.MaxAttempts {
		if err := d.queue.MarkFailed(ctx, m.MessageID, attempts, res.Error, now); err != nil {
			log.Printf("dispatcher: mark failed %s: %v", m.MessageID, err)
			return
		}
		d.writeTerminalLog(ctx, m, domain.LogStatusFailed, res.Error, "", now)
		d.markEventProcessed(ctx, m.EventID, now)
		return
	}

	nextAt := now.Add(backoffDelay(m.Type, attempts))
	if err := d.queue.Reschedule(ctx, m.MessageID, attempts, nextAt, res.Error); err != nil {
		log.Printf("dispatcher: reschedule %s: %v", m.MessageID, err)
	}
}

// backoffDelay is the category's base delay doubled per prior attempt:
// base * 2^(attempts-1).
func backoffDelay(t domain.NotificationType, attempts int) time.Duration {
	base := domain.ConfigFor(t).BaseRetryDelay
	return base << (attempts - 1)
}

// writeTerminalLog appends the single delivery-log entry for a terminal
// outcome. Only the final attempt is logged, never intermediate retries.
func (d *Dispatcher) writeTerminalLog(ctx context.Context, m *domain.QueuedMessage, status, errMsg, externalID string, now time.Time) {
	entry := &domain.DeliveryLogEntry{
		LogID:             id.New(),
		UserID:            m.UserID,
		MessageID:         m.MessageID,
		Type:              m.Type,
		Status:            status,
		RecipientAddress:  m.RecipientAddress,
		Subject:           m.Subject,
		SentAt:            now,
		ErrorMessage:      errMsg,
		ExternalMessageID: externalID,
	}
	if err := d.logs.Put(ctx, entry); err != nil {
		log.Printf("dispatcher: write delivery log for %s: %v", m.MessageID, err)
	}
}

// markEventProcessed records completion on the originating event once its
// message reaches a terminal state.
func (d *Dispatcher) markEventProcessed(ctx context.Context, eventID string, now time.Time) {
	if eventID == "" {
		return
	}
	if err := d.events.MarkProcessed(ctx, eventID, now); err != nil {
		log.Printf("dispatcher: mark event processed %s: %v", eventID, err)
	}
}

func (d *Dispatcher) waitSendBudget(ctx context.Context, n int) error {
	if d.limiter == nil {
		return nil
	}
	return d.limiter.WaitN(ctx, n)
}

// CollectGarbage deletes processed events older than the retention window.
func (d *Dispatcher) CollectGarbage(ctx context.Context, retention time.Duration) (int, error) {
	return d.events.DeleteProcessedBefore(ctx, d.clk.Now().Add(-retention))
}
