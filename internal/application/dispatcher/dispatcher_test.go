package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fintrack-api/internal/domain"
	"github.com/fintrack-api/internal/infrastructure/dynamo"
	"github.com/fintrack-api/internal/infrastructure/smtp"
	"github.com/fintrack-api/internal/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memQueue is an in-memory queue store that mirrors the conditional-update
// semantics of the real table, so multi-pass retry flows can be exercised
// without a database.
type memQueue struct {
	mu            sync.Mutex
	items         map[string]*domain.QueuedMessage
	claimErr      map[string]error
	markSentFails map[string]int
	fetchErr      error
	claimOrder    []string
}

func newMemQueue(msgs ...*domain.QueuedMessage) *memQueue {
	q := &memQueue{
		items:         make(map[string]*domain.QueuedMessage),
		claimErr:      make(map[string]error),
		markSentFails: make(map[string]int),
	}
	for _, m := range msgs {
		q.items[m.MessageID] = m
	}
	return q
}

func (q *memQueue) FetchDue(_ context.Context, now time.Time, limit int32) ([]domain.QueuedMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fetchErr != nil {
		return nil, q.fetchErr
	}
	var out []domain.QueuedMessage
	for _, m := range q.items {
		if m.Status == domain.StatusPending && !m.ScheduledFor.After(now) {
			out = append(out, *m)
		}
		if int32(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (q *memQueue) Claim(_ context.Context, messageID string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.claimErr[messageID]; err != nil {
		return err
	}
	m, ok := q.items[messageID]
	if !ok || m.Status != domain.StatusPending {
		return dynamo.ErrNotClaimable
	}
	m.Status = domain.StatusProcessing
	m.ProcessedAt = &at
	m.UpdatedAt = at
	q.claimOrder = append(q.claimOrder, messageID)
	return nil
}

func (q *memQueue) FetchStalled(_ context.Context, cutoff time.Time, limit int32) ([]domain.QueuedMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []domain.QueuedMessage
	for _, m := range q.items {
		if m.Status == domain.StatusProcessing && m.ProcessedAt != nil && !m.ProcessedAt.After(cutoff) {
			out = append(out, *m)
		}
		if int32(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (q *memQueue) Reclaim(_ context.Context, messageID string, cutoff, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.items[messageID]
	if !ok || m.Status != domain.StatusProcessing || m.ProcessedAt == nil || m.ProcessedAt.After(cutoff) {
		return dynamo.ErrNotClaimable
	}
	m.ProcessedAt = &at
	m.UpdatedAt = at
	return nil
}

func (q *memQueue) MarkSent(_ context.Context, messageID, externalID string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.markSentFails[messageID] > 0 {
		q.markSentFails[messageID]--
		return fmt.Errorf("throughput exceeded")
	}
	m := q.items[messageID]
	m.Status = domain.StatusSent
	m.SentAt = &at
	m.ExternalMessageID = externalID
	m.UpdatedAt = at
	return nil
}

func (q *memQueue) Reschedule(_ context.Context, messageID string, attempts int, nextAt time.Time, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := q.items[messageID]
	m.Status = domain.StatusPending
	m.Attempts = attempts
	m.ScheduledFor = nextAt
	m.ErrorMessage = errMsg
	return nil
}

func (q *memQueue) MarkFailed(_ context.Context, messageID string, attempts int, errMsg string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := q.items[messageID]
	m.Status = domain.StatusFailed
	m.Attempts = attempts
	m.ErrorMessage = errMsg
	m.UpdatedAt = at
	return nil
}

func (q *memQueue) get(messageID string) domain.QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return *q.items[messageID]
}

type memEvents struct {
	mu        sync.Mutex
	processed map[string]time.Time
}

func newMemEvents() *memEvents { return &memEvents{processed: make(map[string]time.Time)} }

func (e *memEvents) MarkProcessed(_ context.Context, eventID string, at time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processed[eventID] = at
	return nil
}

func (e *memEvents) DeleteProcessedBefore(_ context.Context, cutoff time.Time) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for id, at := range e.processed {
		if at.Before(cutoff) {
			delete(e.processed, id)
			n++
		}
	}
	return n, nil
}

func (e *memEvents) isProcessed(eventID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.processed[eventID]
	return ok
}

type memLogs struct {
	mu      sync.Mutex
	entries []domain.DeliveryLogEntry
}

func (l *memLogs) Put(_ context.Context, e *domain.DeliveryLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, *e)
	return nil
}

func (l *memLogs) all() []domain.DeliveryLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.DeliveryLogEntry(nil), l.entries...)
}

// scriptedTransport fails each message the scripted number of times, then
// succeeds. Calls records the message ids per transport invocation.
type scriptedTransport struct {
	mu       sync.Mutex
	failures map[string]int
	calls    [][]string
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{failures: make(map[string]int)}
}

func (t *scriptedTransport) Send(ctx context.Context, req smtp.SendRequest) smtp.SendResult {
	return t.SendBulk(ctx, []smtp.SendRequest{req})[0]
}

func (t *scriptedTransport) SendBulk(_ context.Context, reqs []smtp.SendRequest) []smtp.SendResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, len(reqs))
	results := make([]smtp.SendResult, len(reqs))
	for i, req := range reqs {
		ids[i] = req.MessageID
		if t.failures[req.MessageID] > 0 {
			t.failures[req.MessageID]--
			results[i] = smtp.SendResult{MessageID: req.MessageID, Error: "smtp: 451 try again later"}
			continue
		}
		results[i] = smtp.SendResult{
			MessageID:  req.MessageID,
			Success:    true,
			ExternalID: "ext-" + req.MessageID,
		}
	}
	t.calls = append(t.calls, ids)
	return results
}

func (t *scriptedTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func testMessage(msgID string, typ domain.NotificationType, at time.Time) *domain.QueuedMessage {
	cfg := domain.ConfigFor(typ)
	return &domain.QueuedMessage{
		MessageID:        msgID,
		EventID:          "evt-" + msgID,
		UserID:           "user-1",
		Type:             typ,
		RecipientAddress: "user@example.com",
		Subject:          fmt.Sprintf("subject for %s", msgID),
		HTMLBody:         "<p>hi</p>",
		TextBody:         "hi",
		PriorityWeight:   domain.PriorityWeight(cfg.Priority),
		MaxAttempts:      cfg.MaxAttempts,
		ScheduledFor:     at,
		Status:           domain.StatusPending,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
}

func newTestDispatcher(q *memQueue, e *memEvents, l *memLogs, tr smtp.Mailer, clk clock.Clock) *Dispatcher {
	return New(Deps{
		QueueRepo:       q,
		EventRepo:       e,
		DeliveryLogRepo: l,
		Transport:       tr,
		Clock:           clk,
		BatchSize:       50,
	})
}

func TestRunPass_DeliversDueMessage(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	queue := newMemQueue(testMessage("m1", domain.TypeSecurityAlert, clk.Now()))
	events := newMemEvents()
	logs := &memLogs{}
	transport := newScriptedTransport()
	d := newTestDispatcher(queue, events, logs, transport, clk)

	require.NoError(t, d.RunPass(context.Background()))

	m := queue.get("m1")
	assert.Equal(t, domain.StatusSent, m.Status)
	require.NotNil(t, m.SentAt)
	assert.Equal(t, "ext-m1", m.ExternalMessageID)

	entries := logs.all()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.LogStatusSent, entries[0].Status)
	assert.Equal(t, "m1", entries[0].MessageID)
	assert.Equal(t, "ext-m1", entries[0].ExternalMessageID)

	assert.True(t, events.isProcessed("evt-m1"))
}

func TestRunPass_RetriesWithExponentialBackoff(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	queue := newMemQueue(testMessage("m1", domain.TypeWelcome, start))
	events := newMemEvents()
	logs := &memLogs{}
	transport := newScriptedTransport()
	transport.failures["m1"] = 2
	d := newTestDispatcher(queue, events, logs, transport, clk)

	// First attempt fails: back off by the base delay.
	require.NoError(t, d.RunPass(context.Background()))
	m := queue.get("m1")
	assert.Equal(t, domain.StatusPending, m.Status)
	assert.Equal(t, 1, m.Attempts)
	assert.Equal(t, start.Add(5*time.Second), m.ScheduledFor)
	assert.NotEmpty(t, m.ErrorMessage)
	assert.Empty(t, logs.all(), "intermediate attempts must not be logged")
	assert.False(t, events.isProcessed("evt-m1"))

	// Not yet due: nothing happens.
	clk.Advance(2 * time.Second)
	require.NoError(t, d.RunPass(context.Background()))
	assert.Equal(t, 1, queue.get("m1").Attempts)

	// Second attempt fails: delay doubles.
	clk.Advance(3 * time.Second)
	require.NoError(t, d.RunPass(context.Background()))
	m = queue.get("m1")
	assert.Equal(t, 2, m.Attempts)
	assert.Equal(t, clk.Now().Add(10*time.Second), m.ScheduledFor)

	// Third attempt succeeds.
	clk.Advance(10 * time.Second)
	require.NoError(t, d.RunPass(context.Background()))
	m = queue.get("m1")
	assert.Equal(t, domain.StatusSent, m.Status)

	entries := logs.all()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.LogStatusSent, entries[0].Status)
	assert.True(t, events.isProcessed("evt-m1"))
}

func TestRunPass_MarksFailedAfterMaxAttempts(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	// task_completed allows two attempts.
	queue := newMemQueue(testMessage("m1", domain.TypeTaskCompleted, start))
	events := newMemEvents()
	logs := &memLogs{}
	transport := newScriptedTransport()
	transport.failures["m1"] = 10
	d := newTestDispatcher(queue, events, logs, transport, clk)

	require.NoError(t, d.RunPass(context.Background()))
	assert.Equal(t, domain.StatusPending, queue.get("m1").Status)

	clk.Advance(10 * time.Second)
	require.NoError(t, d.RunPass(context.Background()))

	m := queue.get("m1")
	assert.Equal(t, domain.StatusFailed, m.Status)
	assert.Equal(t, 2, m.Attempts)
	assert.NotEmpty(t, m.ErrorMessage)

	entries := logs.all()
	require.Len(t, entries, 1, "exactly one terminal log entry")
	assert.Equal(t, domain.LogStatusFailed, entries[0].Status)
	assert.Equal(t, m.ErrorMessage, entries[0].ErrorMessage)
	assert.True(t, events.isProcessed("evt-m1"))

	// The message is terminal now; later passes must leave it alone.
	clk.Advance(time.Hour)
	require.NoError(t, d.RunPass(context.Background()))
	assert.Len(t, logs.all(), 1)
}

func TestRunPass_BulkPartialFailure(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	queue := newMemQueue(
		testMessage("m1", domain.TypeWeeklyDigest, start),
		testMessage("m2", domain.TypeWeeklyDigest, start),
	)
	events := newMemEvents()
	logs := &memLogs{}
	transport := newScriptedTransport()
	transport.failures["m2"] = 1
	d := newTestDispatcher(queue, events, logs, transport, clk)

	require.NoError(t, d.RunPass(context.Background()))

	// Batchable category: both messages went out in one transport call.
	require.Equal(t, 1, transport.callCount())
	assert.Len(t, transport.calls[0], 2)

	assert.Equal(t, domain.StatusSent, queue.get("m1").Status)
	m2 := queue.get("m2")
	assert.Equal(t, domain.StatusPending, m2.Status)
	assert.Equal(t, 1, m2.Attempts)

	entries := logs.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].MessageID)
	assert.True(t, events.isProcessed("evt-m1"))
	assert.False(t, events.isProcessed("evt-m2"))
}

func TestRunPass_SkipsMessagesClaimedElsewhere(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	queue := newMemQueue(testMessage("m1", domain.TypeSecurityAlert, clk.Now()))
	queue.claimErr["m1"] = dynamo.ErrNotClaimable
	events := newMemEvents()
	logs := &memLogs{}
	transport := newScriptedTransport()
	d := newTestDispatcher(queue, events, logs, transport, clk)

	require.NoError(t, d.RunPass(context.Background()))

	assert.Zero(t, transport.callCount())
	assert.Equal(t, domain.StatusPending, queue.get("m1").Status)
	assert.Empty(t, logs.all())
}

func TestRunPass_ReclaimsStalledProcessing(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	queue := newMemQueue(testMessage("m1", domain.TypeWelcome, start))
	// The send goes through but the settle write is lost.
	queue.markSentFails["m1"] = 1
	events := newMemEvents()
	logs := &memLogs{}
	transport := newScriptedTransport()
	d := newTestDispatcher(queue, events, logs, transport, clk)

	require.NoError(t, d.RunPass(context.Background()))
	m := queue.get("m1")
	assert.Equal(t, domain.StatusProcessing, m.Status)
	assert.Empty(t, logs.all())
	assert.False(t, events.isProcessed("evt-m1"))

	// A fresh claim is not stalled yet; passes leave it alone.
	clk.Advance(30 * time.Second)
	require.NoError(t, d.RunPass(context.Background()))
	assert.Equal(t, domain.StatusProcessing, queue.get("m1").Status)
	assert.Equal(t, 1, transport.callCount())

	// Past the stall threshold the row is reclaimed and rescheduled.
	clk.Advance(5 * time.Minute)
	require.NoError(t, d.RunPass(context.Background()))
	m = queue.get("m1")
	assert.Equal(t, domain.StatusPending, m.Status)
	assert.Equal(t, 1, m.Attempts)
	assert.Equal(t, clk.Now().Add(5*time.Second), m.ScheduledFor)

	// The retry completes the delivery with its terminal log.
	clk.Advance(5 * time.Second)
	require.NoError(t, d.RunPass(context.Background()))
	m = queue.get("m1")
	assert.Equal(t, domain.StatusSent, m.Status)

	entries := logs.all()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.LogStatusSent, entries[0].Status)
	assert.True(t, events.isProcessed("evt-m1"))
}

func TestRunPass_StalledPastMaxAttemptsFails(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	// task_completed allows two attempts; the second one stranded the row.
	msg := testMessage("m1", domain.TypeTaskCompleted, start.Add(-time.Hour))
	msg.Status = domain.StatusProcessing
	claimed := start.Add(-time.Hour)
	msg.ProcessedAt = &claimed
	msg.Attempts = 1
	queue := newMemQueue(msg)
	events := newMemEvents()
	logs := &memLogs{}
	d := newTestDispatcher(queue, events, logs, newScriptedTransport(), clk)

	require.NoError(t, d.RunPass(context.Background()))

	m := queue.get("m1")
	assert.Equal(t, domain.StatusFailed, m.Status)
	assert.Equal(t, 2, m.Attempts)

	entries := logs.all()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.LogStatusFailed, entries[0].Status)
	assert.True(t, events.isProcessed("evt-m1"))
}

func TestRunPass_BudgetAbortReschedulesClaimed(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	queue := newMemQueue(testMessage("m1", domain.TypeSecurityAlert, start))
	events := newMemEvents()
	logs := &memLogs{}
	transport := newScriptedTransport()
	d := New(Deps{
		QueueRepo:         queue,
		EventRepo:         events,
		DeliveryLogRepo:   logs,
		Transport:         transport,
		Clock:             clk,
		BatchSize:         50,
		SendRatePerMinute: 60,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.RunPass(ctx))

	// The claim must not be left dangling in processing.
	m := queue.get("m1")
	assert.Equal(t, domain.StatusPending, m.Status)
	assert.Equal(t, 1, m.Attempts)
	assert.Equal(t, "send budget exhausted", m.ErrorMessage)
	assert.Zero(t, transport.callCount())
}

func TestRunPass_FutureMessagesNotSent(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	queue := newMemQueue(testMessage("m1", domain.TypeWelcome, clk.Now().Add(time.Hour)))
	d := newTestDispatcher(queue, newMemEvents(), &memLogs{}, newScriptedTransport(), clk)

	require.NoError(t, d.RunPass(context.Background()))

	assert.Equal(t, domain.StatusPending, queue.get("m1").Status)
	assert.Zero(t, queue.get("m1").Attempts)
}

func TestRunPass_HigherPriorityClaimedFirst(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start.Add(time.Minute))
	low := testMessage("m-low", domain.TypeSubscriptionExpiring, start) // high, weight 75
	crit := testMessage("m-crit", domain.TypePaymentFailed, start.Add(30*time.Second))
	queue := newMemQueue(low, crit)
	d := newTestDispatcher(queue, newMemEvents(), &memLogs{}, newScriptedTransport(), clk)

	require.NoError(t, d.RunPass(context.Background()))

	// The critical message is newer but outranks the high-priority one.
	require.Len(t, queue.claimOrder, 2)
	assert.Equal(t, "m-crit", queue.claimOrder[0])
	assert.Equal(t, "m-low", queue.claimOrder[1])
}

func TestRunPass_FetchErrorAbortsPass(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	queue := newMemQueue()
	queue.fetchErr = fmt.Errorf("throughput exceeded")
	d := newTestDispatcher(queue, newMemEvents(), &memLogs{}, newScriptedTransport(), clk)

	err := d.RunPass(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch due messages")
}

func TestBackoffDelay_DoublesPerAttempt(t *testing.T) {
	assert.Equal(t, 5*time.Second, backoffDelay(domain.TypeWelcome, 1))
	assert.Equal(t, 10*time.Second, backoffDelay(domain.TypeWelcome, 2))
	assert.Equal(t, 20*time.Second, backoffDelay(domain.TypeWelcome, 3))
	assert.Equal(t, 2*time.Second, backoffDelay(domain.TypeSecurityAlert, 1))
}

func TestCollectGarbage_RemovesOnlyOldProcessedEvents(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	events := newMemEvents()
	events.processed["old"] = start.Add(-8 * 24 * time.Hour)
	events.processed["recent"] = start.Add(-time.Hour)
	d := newTestDispatcher(newMemQueue(), events, &memLogs{}, newScriptedTransport(), clk)

	n, err := d.CollectGarbage(context.Background(), 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, events.isProcessed("old"))
	assert.True(t, events.isProcessed("recent"))
}
