package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablofi/stablo/app/models"
)

type fakeWebhookRepo struct {
	mu       sync.Mutex
	subs     []models.WebhookSubscription
	attempts []models.WebhookDeliveryAttempt
}

func (f *fakeWebhookRepo) CreateSubscription(sub *models.WebhookSubscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub.ID = uint(len(f.subs) + 1)
	f.subs = append(f.subs, *sub)
	return nil
}

func (f *fakeWebhookRepo) GetSubscription(userID, id uint) (*models.WebhookSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.subs {
		if f.subs[i].ID == id && f.subs[i].UserID == userID {
			s := f.subs[i]
			return &s, nil
		}
	}
	return nil, nil
}

func (f *fakeWebhookRepo) ListSubscriptionsByUser(userID uint) ([]models.WebhookSubscription, error) {
	return nil, nil
}

func (f *fakeWebhookRepo) ListActiveForEvent(userID uint, event string) ([]models.WebhookSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []models.WebhookSubscription
	for _, s := range f.subs {
		if s.UserID == userID && s.IsActive && s.SubscribesTo(event) {
			matched = append(matched, s)
		}
	}
	return matched, nil
}

func (f *fakeWebhookRepo) UpdateSubscription(sub *models.WebhookSubscription) error { return nil }

func (f *fakeWebhookRepo) DeactivateSubscription(userID, id uint) error { return nil }

func (f *fakeWebhookRepo) RecordAttempt(attempt *models.WebhookDeliveryAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt.ID = uint(len(f.attempts) + 1)
	f.attempts = append(f.attempts, *attempt)
	return nil
}

func (f *fakeWebhookRepo) ListAttempts(subscriptionID uint, limit int) ([]models.WebhookDeliveryAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WebhookDeliveryAttempt
	for _, a := range f.attempts {
		if a.SubscriptionID == subscriptionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeWebhookRepo) attemptsFor(subscriptionID uint) []models.WebhookDeliveryAttempt {
	out, _ := f.ListAttempts(subscriptionID, 0)
	return out
}

func newTestSubscription(t *testing.T, repo *fakeWebhookRepo, userID uint, targetURL string, events ...string) *models.WebhookSubscription {
	t.Helper()
	sub := &models.WebhookSubscription{
		UserID:    userID,
		TargetURL: targetURL,
		Secret:    "whsec_test",
		IsActive:  true,
	}
	require.NoError(t, sub.SetEvents(events))
	require.NoError(t, repo.CreateSubscription(sub))
	return sub
}

func testSnapshot() OperationSnapshot {
	return OperationSnapshot{
		Reference: "11111111-2222-3333-4444-555555555555",
		Kind:      "transfer",
		Status:    "confirmed",
	}
}

func TestDispatcherDeliversOnFirstAttempt(t *testing.T) {
	var mu sync.Mutex
	var received []payloadCapture

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		received = append(received, capturePayload(t, r))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := &fakeWebhookRepo{}
	sub := newTestSubscription(t, repo, 1, server.URL, models.EventTransactionConfirmed)

	d := NewDispatcher(repo, WithBaseDelay(time.Millisecond))
	d.Notify(context.Background(), 1, models.EventTransactionConfirmed, testSnapshot())
	d.Wait()

	attempts := repo.attemptsFor(sub.ID)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Success)
	assert.Equal(t, 1, attempts[0].AttemptNumber)
	assert.Equal(t, http.StatusOK, attempts[0].StatusCode)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, models.EventTransactionConfirmed, received[0].Event)
	assert.True(t, Verify("whsec_test", received[0].Event, received[0].Data.Reference, received[0].Data.Status, received[0].Signature))
}

func TestDispatcherRetriesUntilSuccess(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := &fakeWebhookRepo{}
	sub := newTestSubscription(t, repo, 1, server.URL, models.EventPayoutCompleted)

	d := NewDispatcher(repo, WithBaseDelay(time.Millisecond))
	d.Notify(context.Background(), 1, models.EventPayoutCompleted, testSnapshot())
	d.Wait()

	attempts := repo.attemptsFor(sub.ID)
	require.Len(t, attempts, 3)
	assert.False(t, attempts[0].Success)
	assert.False(t, attempts[1].Success)
	assert.True(t, attempts[2].Success)
	assert.Equal(t, 3, attempts[2].AttemptNumber)
}

func TestDispatcherGivesUpAfterMaxAttempts(t *testing.T) {
	var mu sync.Mutex
	calls := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	repo := &fakeWebhookRepo{}
	sub := newTestSubscription(t, repo, 1, server.URL, models.EventTransactionFailed)

	d := NewDispatcher(repo, WithBaseDelay(time.Millisecond))
	d.Notify(context.Background(), 1, models.EventTransactionFailed, testSnapshot())
	d.Wait()

	mu.Lock()
	assert.Equal(t, DefaultMaxAttempts, calls)
	mu.Unlock()

	attempts := repo.attemptsFor(sub.ID)
	require.Len(t, attempts, DefaultMaxAttempts)
	for i, a := range attempts {
		assert.False(t, a.Success)
		assert.Equal(t, i+1, a.AttemptNumber)
		assert.Equal(t, http.StatusBadGateway, a.StatusCode)
	}
}

func TestDispatcherSubscriptionsAreIndependent(t *testing.T) {
	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okServer.Close()

	failServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failServer.Close()

	repo := &fakeWebhookRepo{}
	okSub := newTestSubscription(t, repo, 1, okServer.URL, models.EventPayoutFailed)
	failSub := newTestSubscription(t, repo, 1, failServer.URL, models.EventPayoutFailed)

	d := NewDispatcher(repo, WithBaseDelay(time.Millisecond))
	d.Notify(context.Background(), 1, models.EventPayoutFailed, testSnapshot())
	d.Wait()

	okAttempts := repo.attemptsFor(okSub.ID)
	require.Len(t, okAttempts, 1)
	assert.True(t, okAttempts[0].Success)

	failAttempts := repo.attemptsFor(failSub.ID)
	require.Len(t, failAttempts, DefaultMaxAttempts)
	for _, a := range failAttempts {
		assert.False(t, a.Success)
	}
}

func TestDispatcherSkipsNonSubscribedEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no delivery expected")
	}))
	defer server.Close()

	repo := &fakeWebhookRepo{}
	sub := newTestSubscription(t, repo, 1, server.URL, models.EventPayoutCompleted)

	d := NewDispatcher(repo, WithBaseDelay(time.Millisecond))
	d.Notify(context.Background(), 1, models.EventTransactionConfirmed, testSnapshot())
	d.Wait()

	assert.Empty(t, repo.attemptsFor(sub.ID))
}

func TestDispatcherSkipsSubscriptionWithoutSecret(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := &fakeWebhookRepo{}
	bare := &models.WebhookSubscription{UserID: 1, TargetURL: server.URL, IsActive: true}
	require.NoError(t, bare.SetEvents([]string{models.EventPayoutCancelled}))
	require.NoError(t, repo.CreateSubscription(bare))
	withSecret := newTestSubscription(t, repo, 1, server.URL, models.EventPayoutCancelled)

	d := NewDispatcher(repo, WithBaseDelay(time.Millisecond))
	d.Notify(context.Background(), 1, models.EventPayoutCancelled, testSnapshot())
	d.Wait()

	assert.Empty(t, repo.attemptsFor(bare.ID))
	assert.Len(t, repo.attemptsFor(withSecret.ID), 1)
}

type payloadCapture struct {
	Event     string            `json:"event"`
	Timestamp string            `json:"timestamp"`
	Data      OperationSnapshot `json:"data"`
	Signature string            `json:"signature"`
}

func capturePayload(t *testing.T, r *http.Request) payloadCapture {
	t.Helper()
	var p payloadCapture
	require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
	return p
}
