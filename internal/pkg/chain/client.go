package chain

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

const defaultBundlerAPIBaseURL = "https://bundler.stablo.io/api/v1"

// External status vocabulary reported by the bundler.
const (
	ExternalStatusSubmitted = "SUBMITTED"
	ExternalStatusConfirmed = "CONFIRMED"
	ExternalStatusFailed    = "FAILED"
	ExternalStatusCancelled = "CANCELLED"
)

// ErrOperationNotFound is returned when the bundler has not indexed the
// operation reference yet. Callers must leave the stored status untouched.
var ErrOperationNotFound = errors.New("operation not found on bundler")

// OperationStatus is the bundler's view of a user operation.
type OperationStatus struct {
	Status          string  `json:"status"`
	TransactionHash string  `json:"transaction_hash,omitempty"`
	BlockNumber     *uint64 `json:"block_number,omitempty"`
	FailureReason   string  `json:"failure_reason,omitempty"`
}

// SubmitResult is returned by the bundler when a transfer is accepted.
type SubmitResult struct {
	OperationRef string `json:"operation_ref"`
}

// StatusProvider is the adapter surface the reconcile loop depends on.
type StatusProvider interface {
	GetOperationStatus(ctx context.Context, externalRef string) (*OperationStatus, error)
}

// Submitter is the adapter surface the transfer service depends on.
type Submitter interface {
	SubmitTransfer(ctx context.Context, fromAddress, toAddress, amount, tokenSymbol string) (*SubmitResult, error)
}

// Client talks to the bundler's operations API.
type Client struct {
	APIBaseURL string
	APIKey     string

	HTTPClient *http.Client
}

// NewClientFromEnv builds a bundler client from environment configuration.
func NewClientFromEnv() *Client {
	return &Client{
		APIBaseURL: strings.TrimRight(env.GetEnv("BUNDLER_API_BASE_URL", defaultBundlerAPIBaseURL), "/"),
		APIKey:     strings.TrimSpace(env.GetEnv("BUNDLER_API_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetOperationStatus fetches the bundler status for one operation.
func (c *Client) GetOperationStatus(ctx context.Context, externalRef string) (*OperationStatus, error) {
	endpoint := fmt.Sprintf("%s/operations/%s", c.APIBaseURL, externalRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bundler status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrOperationNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("bundler status request returned %d: %s", resp.StatusCode, string(body))
	}

	var status OperationStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode bundler status: %w", err)
	}
	return &status, nil
}

// SubmitTransfer submits a token transfer for execution and returns the
// external operation reference.
func (c *Client) SubmitTransfer(ctx context.Context, fromAddress, toAddress, amount, tokenSymbol string) (*SubmitResult, error) {
	payload, err := json.Marshal(map[string]string{
		"from":   fromAddress,
		"to":     toAddress,
		"amount": amount,
		"token":  tokenSymbol,
	})
	if err != nil {
		return nil, err
	}

	endpoint := c.APIBaseURL + "/operations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bundler submit request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("bundler submit returned %d: %s", resp.StatusCode, string(body))
	}

	var result SubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode bundler submit response: %w", err)
	}
	if result.OperationRef == "" {
		return nil, errors.New("bundler submit response missing operation_ref")
	}
	return &result, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}
