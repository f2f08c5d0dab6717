package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/stablofi/stablo/app/models"
	"github.com/stablofi/stablo/app/repository"
)

// OperationSnapshot is the normalized public view of an operation that
// travels in the webhook payload. Only fields safe to show a subscriber.
type OperationSnapshot struct {
	Reference string                 `json:"reference"`
	Kind      string                 `json:"kind"`
	Status    string                 `json:"status"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// payload is the wire format POSTed to subscribers.
type payload struct {
	Event     string            `json:"event"`
	Timestamp string            `json:"timestamp"`
	Data      OperationSnapshot `json:"data"`
	Signature string            `json:"signature"`
}

// Dispatcher delivers events to every active subscription interested in
// them. Delivery is fire-and-forget from the caller's perspective: every
// outcome lands in the delivery-attempt log, nothing is thrown back.
type Dispatcher struct {
	repo        repository.WebhookRepository
	httpClient  *http.Client
	maxAttempts int
	baseDelay   time.Duration
	wg          sync.WaitGroup
}

// Option tweaks dispatcher construction, mostly for tests.
type Option func(*Dispatcher)

// WithTimeout overrides the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(w *Dispatcher) { w.httpClient.Timeout = d }
}

// WithBaseDelay overrides the first backoff delay.
func WithBaseDelay(d time.Duration) Option {
	return func(w *Dispatcher) { w.baseDelay = d }
}

// WithMaxAttempts overrides the attempt budget.
func WithMaxAttempts(n int) Option {
	return func(w *Dispatcher) { w.maxAttempts = n }
}

// NewDispatcher creates a dispatcher over the given webhook repository.
func NewDispatcher(repo repository.WebhookRepository, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		repo:        repo,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify delivers event to every active subscription of the operation
// owner that subscribes to it. Each subscription is handled in its own
// goroutine; one target's exhausted retries never delay another. Errors
// are recorded per attempt, never returned.
func (d *Dispatcher) Notify(ctx context.Context, userID uint, event string, snap OperationSnapshot) {
	subs, err := d.repo.ListActiveForEvent(userID, event)
	if err != nil {
		log.Errorf("[Webhook] Subscription lookup for user %d event %s failed: %v", userID, event, err)
		return
	}
	if len(subs) == 0 {
		return
	}

	for _, sub := range subs {
		if sub.Secret == "" {
			// A subscription without a signing secret cannot produce a
			// verifiable payload. Skip it; others still deliver.
			log.Errorf("[Webhook] Subscription %d has no signing secret, skipping delivery of %s", sub.ID, event)
			continue
		}
		d.wg.Add(1)
		go func(sub models.WebhookSubscription) {
			defer d.wg.Done()
			d.deliver(ctx, sub, event, snap)
		}(sub)
	}
}

// Wait blocks until all in-flight deliveries have finished or given up.
// Used on shutdown so attempt records are not lost mid-write.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// deliver runs the bounded retry loop for one subscription.
func (d *Dispatcher) deliver(ctx context.Context, sub models.WebhookSubscription, event string, snap OperationSnapshot) {
	body, err := json.Marshal(payload{
		Event:     event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      snap,
		Signature: Sign(sub.Secret, event, snap.Reference, snap.Status),
	})
	if err != nil {
		log.Errorf("[Webhook] Failed to marshal payload for subscription %d: %v", sub.ID, err)
		return
	}

	policy := newRetryPolicy(d.maxAttempts, d.baseDelay)
	for {
		attempt, ok := policy.NextAttempt()
		if !ok {
			log.Warnf("[Webhook] Giving up on subscription %d after %d attempts (event %s, op %s)",
				sub.ID, d.maxAttempts, event, snap.Reference)
			return
		}

		statusCode, attemptErr := d.post(ctx, sub.TargetURL, body)
		d.recordAttempt(sub.ID, event, snap.Reference, attempt, statusCode, attemptErr)

		if attemptErr == nil {
			log.Debugf("[Webhook] Delivered %s to subscription %d on attempt %d", event, sub.ID, attempt)
			return
		}
		log.Warnf("[Webhook] Attempt %d for subscription %d failed: %v", attempt, sub.ID, attemptErr)

		select {
		case <-ctx.Done():
			// Shutdown mid-sequence: the attempt above is recorded,
			// remaining retries are abandoned.
			return
		case <-time.After(policy.Backoff()):
		}
	}
}

// post performs one delivery attempt. A non-2xx response counts as a
// failure and returns the status code alongside the error.
func (d *Dispatcher) post(ctx context.Context, targetURL string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Stablo-Webhook/1.0")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("target returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// recordAttempt appends exactly one attempt row, success or failure.
func (d *Dispatcher) recordAttempt(subscriptionID uint, event, operationRef string, attempt, statusCode int, attemptErr error) {
	record := &models.WebhookDeliveryAttempt{
		SubscriptionID: subscriptionID,
		Event:          event,
		OperationRef:   operationRef,
		AttemptNumber:  attempt,
		Success:        attemptErr == nil,
		StatusCode:     statusCode,
	}
	if attemptErr != nil {
		record.ErrorMessage = attemptErr.Error()
	}
	if err := d.repo.RecordAttempt(record); err != nil {
		log.Errorf("[Webhook] Failed to record attempt %d for subscription %d: %v", attempt, subscriptionID, err)
	}
}
