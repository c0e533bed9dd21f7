// Package push delivers notifications to devices through the Expo push
// gateway. Delivery is best effort: one retry, then the failure is logged.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"duotime/pkg/circuitbreaker"
	"duotime/pkg/config"
	"duotime/pkg/trace"

	"go.uber.org/zap"
)

const DefaultEndpoint = "https://exp.host/--/api/v2/push/send"

var (
	ErrNoDeviceToken = errors.New("recipient has no push token")
	// ErrDeviceNotRegistered means Expo rejected the token; it will not start
	// working on retry.
	ErrDeviceNotRegistered = errors.New("device not registered")
)

// Message is one Expo push message.
type Message struct {
	To       string         `json:"to"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Data     map[string]any `json:"data,omitempty"`
	Sound    string         `json:"sound,omitempty"`
	Badge    *int           `json:"badge,omitempty"`
	Priority string         `json:"priority,omitempty"`
}

type ticket struct {
	Status  string `json:"status"`
	ID      string `json:"id"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Sender submits a push message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Client talks to the Expo gateway behind a circuit breaker.
type Client struct {
	endpoint    string
	accessToken string
	httpClient  *http.Client
	cb          *circuitbreaker.CircuitBreaker
	retryDelay  time.Duration
	logger      *zap.Logger
}

var _ Sender = (*Client)(nil)

func NewClient(cfg config.PushConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	// 推送网关不稳定时快速失败
	cbConfig := circuitbreaker.Config{
		Name:                "expo-push",
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 2,
	}
	return &Client{
		endpoint:    endpoint,
		accessToken: cfg.AccessToken,
		httpClient:  &http.Client{Timeout: cfg.Timeout()},
		cb:          circuitbreaker.New(cbConfig, logger),
		retryDelay:  500 * time.Millisecond,
		logger:      logger,
	}
}

// Breaker exposes the circuit breaker for tests and health output.
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker { return c.cb }

// Send submits msg, retrying once on transport errors, 429 and 5xx.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoDeviceToken
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// A rejected message says nothing about gateway health, so it is kept
	// out of the breaker's failure count.
	var rejected error
	err = c.cb.Execute(ctx, func(ctx context.Context) error {
		err := c.post(ctx, body)
		var re *retryableError
		if errors.As(err, &re) {
			c.logger.Debug("Push request failed, retrying once", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
			err = c.post(ctx, body)
		}
		var rj *rejectedError
		if errors.As(err, &rj) {
			rejected = err
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	return rejected
}

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

type rejectedError struct{ err error }

func (e *rejectedError) Error() string { return e.err.Error() }
func (e *rejectedError) Unwrap() error { return e.err }

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	// 传播 trace_id
	if traceID := trace.FromContext(ctx); traceID != "" {
		req.Header.Set(trace.HeaderName, traceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return &retryableError{err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &retryableError{err}
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &retryableError{fmt.Errorf("expo gateway %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return &rejectedError{fmt.Errorf("expo gateway %d: %s", resp.StatusCode, bytes.TrimSpace(raw))}
	}

	if err := parseTicket(raw); err != nil {
		return &rejectedError{err}
	}
	return nil
}

// parseTicket accepts both the single-message and the batch response shape.
func parseTicket(raw []byte) error {
	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return fmt.Errorf("decode expo response: %w", err)
	}
	if len(r.Errors) > 0 {
		return fmt.Errorf("expo error %s: %s", r.Errors[0].Code, r.Errors[0].Message)
	}

	var tickets []ticket
	if len(r.Data) > 0 && r.Data[0] == '[' {
		if err := json.Unmarshal(r.Data, &tickets); err != nil {
			return fmt.Errorf("decode expo tickets: %w", err)
		}
	} else if len(r.Data) > 0 {
		var t ticket
		if err := json.Unmarshal(r.Data, &t); err != nil {
			return fmt.Errorf("decode expo ticket: %w", err)
		}
		tickets = append(tickets, t)
	}

	for _, t := range tickets {
		if t.Status == "error" {
			if t.Details.Error == "DeviceNotRegistered" {
				return fmt.Errorf("%w: %s", ErrDeviceNotRegistered, t.Message)
			}
			return fmt.Errorf("expo ticket error %s: %s", t.Details.Error, t.Message)
		}
	}
	return nil
}
