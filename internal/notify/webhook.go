// Package notify delivers idle alerts and window summaries to webhook
// receivers and the chat relay. Senders report per-target results and
// never return an error to the caller; delivery failure must not stall
// the polling loop.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	webhookTimeout = 5 * time.Second
	maxBodyBytes   = 1024
)

// PayloadConfig echoes the alerting configuration active when the
// message was produced, so receivers can interpret the numbers without
// querying the admin API.
type PayloadConfig struct {
	Threshold int    `json:"threshold"`
	TimeRange string `json:"timeRange"`
}

// IdlePayload is the JSON body posted per idle socket. The payload
// schema is append-only: fields may be added, never removed or retyped.
type IdlePayload struct {
	Type          string        `json:"type"`
	StationID     int64         `json:"stationId"`
	StationName   string        `json:"stationName"`
	SocketID      int           `json:"socketId"`
	IdleMinutes   int           `json:"idleMinutes"`
	IdleStartTime int64         `json:"idleStartTime"`
	Timestamp     int64         `json:"timestamp"`
	Config        PayloadConfig `json:"config"`
}

// SummarySocket is one idle socket listed in a boundary summary.
// IdleStartTime is in unix seconds here, matching the alert logs.
type SummarySocket struct {
	StationID     int64  `json:"stationId"`
	StationName   string `json:"stationName"`
	SocketID      int    `json:"socketId"`
	IdleMinutes   int    `json:"idleMinutes"`
	IdleStartTime int64  `json:"idleStartTime"`
	Status        string `json:"status"`
}

// SummaryPayload is the JSON body posted at window boundaries.
type SummaryPayload struct {
	Type        string          `json:"type"`
	MessageType string          `json:"messageType"`
	SocketCount int             `json:"socketCount"`
	Sockets     []SummarySocket `json:"sockets"`
	Timestamp   int64           `json:"timestamp"`
	Config      PayloadConfig   `json:"config"`
}

// SendResult records the outcome of one webhook delivery attempt,
// retries included.
type SendResult struct {
	URL        string
	Success    bool
	Status     int
	Body       string
	Error      string
	RetryCount int
	ElapsedMs  int64
}

// WebhookSender posts JSON payloads to a set of receiver URLs.
type WebhookSender struct {
	client        *http.Client
	retryTimes    int
	retryInterval time.Duration
	log           *zap.SugaredLogger
}

// NewWebhookSender creates a sender with the given retry policy.
// retryTimes counts retries after the first attempt.
func NewWebhookSender(retryTimes, retryIntervalSeconds int, log *zap.SugaredLogger) *WebhookSender {
	return &WebhookSender{
		client:        &http.Client{Timeout: webhookTimeout},
		retryTimes:    retryTimes,
		retryInterval: time.Duration(retryIntervalSeconds) * time.Second,
		log:           log,
	}
}

// SendAll delivers payload to every URL concurrently and returns one
// result per URL, in the same order.
func (w *WebhookSender) SendAll(ctx context.Context, urls []string, payload any) []SendResult {
	results := make([]SendResult, len(urls))
	var wg sync.WaitGroup
	for i, url := range urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			results[i] = w.Send(ctx, url, payload)
		}(i, url)
	}
	wg.Wait()
	return results
}

// Send delivers payload to a single URL with constant-interval retries.
// 4xx responses are terminal; 5xx and transport errors are retried up
// to the configured count.
func (w *WebhookSender) Send(ctx context.Context, url string, payload any) SendResult {
	body, err := json.Marshal(payload)
	if err != nil {
		return SendResult{URL: url, Error: fmt.Sprintf("marshal payload: %v", err)}
	}

	result := SendResult{URL: url}
	start := time.Now()
	attempt := 0

	op := func() error {
		if attempt > 0 {
			result.RetryCount = attempt
		}
		attempt++

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		result.Status = resp.StatusCode
		result.Body = string(respBody)

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			result.Success = true
			return nil
		}
		err = fmt.Errorf("webhook returned %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(w.retryInterval), uint64(w.retryTimes)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		result.Error = err.Error()
		w.log.Warnw("webhook delivery failed",
			"url", url, "status", result.Status, "retries", result.RetryCount, "error", err)
	}
	result.ElapsedMs = time.Since(start).Milliseconds()
	return result
}
