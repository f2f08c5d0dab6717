package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stablofi/stablo/internal/pkg/env"
)

const defaultGatewayAPIBaseURL = "https://gateway.stablo.io/api/v1"

// External status vocabulary reported by the fiat payout gateway.
const (
	ExternalStatusPending    = "pending"
	ExternalStatusProcessing = "processing"
	ExternalStatusCompleted  = "completed"
	ExternalStatusFailed     = "failed"
)

// ErrPayoutNotFound is returned when the gateway does not know the
// reference yet. Callers must leave the stored status untouched.
var ErrPayoutNotFound = errors.New("payout not found on gateway")

// PayoutStatus is the gateway's view of a payout.
type PayoutStatus struct {
	Status        string     `json:"status"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// SubmitResult is returned by the gateway when a payout is accepted.
type SubmitResult struct {
	GatewayRef string `json:"gateway_ref"`
}

// StatusProvider is the adapter surface the reconcile loop depends on.
type StatusProvider interface {
	GetPayoutStatus(ctx context.Context, gatewayRef string) (*PayoutStatus, error)
}

// Submitter is the adapter surface the payout service depends on.
type Submitter interface {
	SubmitPayout(ctx context.Context, bankAccountEnc string, netAmount float64, currency, reference string) (*SubmitResult, error)
}

// Client talks to the fiat payout gateway API.
type Client struct {
	APIBaseURL string
	APIKey     string

	HTTPClient *http.Client
}

// NewClientFromEnv builds a gateway client from environment configuration.
func NewClientFromEnv() *Client {
	return &Client{
		APIBaseURL: strings.TrimRight(env.GetEnv("GATEWAY_API_BASE_URL", defaultGatewayAPIBaseURL), "/"),
		APIKey:     strings.TrimSpace(env.GetEnv("GATEWAY_API_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetPayoutStatus fetches the gateway status for one payout.
func (c *Client) GetPayoutStatus(ctx context.Context, gatewayRef string) (*PayoutStatus, error) {
	endpoint := fmt.Sprintf("%s/payouts/%s", c.APIBaseURL, gatewayRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrPayoutNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("gateway status request returned %d: %s", resp.StatusCode, string(body))
	}

	var status PayoutStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode gateway status: %w", err)
	}
	return &status, nil
}

// SubmitPayout submits a payout order and returns the gateway reference.
// The bank details travel as the opaque encrypted payload; the gateway
// holds the decryption key.
func (c *Client) SubmitPayout(ctx context.Context, bankAccountEnc string, netAmount float64, currency, reference string) (*SubmitResult, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"bank_account": bankAccountEnc,
		"amount":       netAmount,
		"currency":     currency,
		"reference":    reference,
	})
	if err != nil {
		return nil, err
	}

	endpoint := c.APIBaseURL + "/payouts"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway submit request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("gateway submit returned %d: %s", resp.StatusCode, string(body))
	}

	var result SubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode gateway submit response: %w", err)
	}
	if result.GatewayRef == "" {
		return nil, errors.New("gateway submit response missing gateway_ref")
	}
	return &result, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}
