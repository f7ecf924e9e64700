package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSignature = "X-Imageq-Signature"
	HeaderTimestamp = "X-Imageq-Timestamp"
	HeaderEvent     = "X-Imageq-Event"
)

const (
	EventDerivativesCompleted = "derivatives.completed"
	EventDerivativesFailed    = "derivatives.failed"
)

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	httpClient     *http.Client
	signingSecret  string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = 1 * time.Second
	}

	maxBackoff := cfg.MaxBackoff
	if maxBackoff < initialBackoff {
		maxBackoff = initialBackoff
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		signingSecret:  cfg.SigningSecret,
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
	}
}

func (c *Client) Send(ctx context.Context, endpoint, event string, payload any) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	signature := Sign(c.signingSecret, timestamp, body)

	backoff := c.initialBackoff
	var lastErr error
	attempts := 0
	for attempts < c.maxAttempts {
		attempts++
		if err := ctx.Err(); err != nil {
			return err
		}

		delivery, err := c.post(ctx, endpoint, event, timestamp, signature, body)
		if err != nil {
			return err
		}
		if delivery.ok {
			return nil
		}

		lastErr = delivery.err
		if delivery.permanent || attempts == c.maxAttempts {
			break
		}

		wait := backoff
		if delivery.retryAfter > wait {
			wait = minDuration(delivery.retryAfter, c.maxBackoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		backoff = minDuration(backoff*2, c.maxBackoff)
	}

	return fmt.Errorf("webhook delivery failed after %d attempts: %w", attempts, lastErr)
}

type delivery struct {
	ok         bool
	permanent  bool
	retryAfter time.Duration
	err        error
}

// post performs one delivery attempt. Only request construction errors are
// returned; transport and status failures are described by the delivery.
func (c *Client) post(ctx context.Context, endpoint, event, timestamp, signature string, body []byte) (delivery, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return delivery{}, fmt.Errorf("build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderEvent, event)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return delivery{err: err}, nil
	}
	resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return delivery{ok: true}, nil
	case code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable:
		return delivery{
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			err:        fmt.Errorf("webhook returned status=%d", code),
		}, nil
	case code == http.StatusRequestTimeout || code >= 500:
		return delivery{err: fmt.Errorf("webhook returned status=%d", code)}, nil
	default:
		return delivery{permanent: true, err: fmt.Errorf("webhook rejected delivery status=%d", code)}, nil
	}
}

func parseRetryAfter(value string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// Sign returns the signature header value for body: an HMAC-SHA256 over
// "<timestamp>.<body>".
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body for receivers holding the
// same secret.
func Verify(secret, timestamp string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
