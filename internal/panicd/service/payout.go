package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Payout statuses reported by the external payout provider. The provider
// moves the real-world money; this service only records the outcome.
const (
	PayoutStatusPending = "PENDING"
	PayoutStatusPaid    = "PAID"
)

// PayoutResponse represents the provider's answer for one withdrawal.
type PayoutResponse struct {
	Withdrawal string `json:"withdrawal"`
	Status     string `json:"status"`
}

// PayoutService handles communication with the external payout provider.
type PayoutService struct {
	baseURL    string
	httpClient *http.Client
}

// NewPayoutService creates a new payout provider client
func NewPayoutService(baseURL string) *PayoutService {
	return &PayoutService{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GetPayoutStatus fetches the provider's status for a withdrawal. A nil
// response with nil error means the provider does not know the withdrawal
// yet; the caller should ask again later.
func (s *PayoutService) GetPayoutStatus(ctx context.Context, withdrawalID uuid.UUID) (*PayoutResponse, error) {
	url := fmt.Sprintf("%s/api/payouts/%s", s.baseURL, withdrawalID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Handle rate limiting
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := resp.Header.Get("Retry-After")
		if retryAfter != "" {
			seconds, err := strconv.Atoi(retryAfter)
			if err == nil {
				return nil, fmt.Errorf("rate limited, retry after %d seconds", seconds)
			}
		}
		return nil, fmt.Errorf("rate limited")
	}

	// Withdrawal not registered with the provider yet
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payout provider returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var payoutResp PayoutResponse
	if err := json.Unmarshal(body, &payoutResp); err != nil {
		return nil, err
	}

	return &payoutResp, nil
}
