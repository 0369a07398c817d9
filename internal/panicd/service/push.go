package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/panicattack/panicd/internal/panicd/logger"
	"github.com/panicattack/panicd/internal/panicd/metrics"
	"github.com/panicattack/panicd/internal/panicd/models"
)

// SendOutcome reports what happened to a single recipient of a fan-out.
// Failures are observable here but never escalate to the parent operation.
type SendOutcome struct {
	UserID    int64
	Delivered bool
	Skipped   bool
	Err       error
}

// Dispatcher delivers push messages through the external relay. It is
// outbound-only; redelivery by the push transport downstream is tolerated.
type Dispatcher struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
	metrics    *metrics.Metrics
}

// NewDispatcher creates a new push dispatcher
func NewDispatcher(baseURL string, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log:     log,
		metrics: m,
	}
}

// Notify sends the message to every recipient and reports per-recipient
// outcomes. Recipients without a registered token, or with push turned off,
// are skipped rather than treated as errors.
func (d *Dispatcher) Notify(ctx context.Context, recipients []models.User, message string, badge int) []SendOutcome {
	outcomes := make([]SendOutcome, 0, len(recipients))

	for _, recipient := range recipients {
		if recipient.PushToken == "" || !recipient.IsPushOn {
			d.metrics.NotificationsSkipped.Inc()
			outcomes = append(outcomes, SendOutcome{UserID: recipient.ID, Skipped: true})
			continue
		}

		err := d.send(ctx, recipient.PushToken, message, badge)
		if err != nil {
			d.metrics.NotificationsFailed.Inc()
			d.log.WithUserID(recipient.ID).WithError(err).Warn("push notification failed")
			outcomes = append(outcomes, SendOutcome{UserID: recipient.ID, Err: err})
			continue
		}

		d.metrics.NotificationsSent.Inc()
		outcomes = append(outcomes, SendOutcome{UserID: recipient.ID, Delivered: true})
	}

	return outcomes
}

// send posts a single notification to the relay. Only the HTTP status is
// consumed from the response.
func (d *Dispatcher) send(ctx context.Context, token, message string, badge int) error {
	body, err := json.Marshal(map[string]interface{}{
		"token": token,
		"alert": message,
		"badge": badge,
		"sound": "default",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/sendNotification/", d.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay returned status %d", resp.StatusCode)
	}

	return nil
}
