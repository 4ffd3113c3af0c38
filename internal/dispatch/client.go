// Package dispatch talks to the external fleet dispatch service: it submits
// transport orders with bounded retries and reports whether the fleet is idle.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxErrorBody caps how much of a rejected response is kept for logging.
const maxErrorBody = 512

// Config holds the dispatch service settings.
type Config struct {
	BaseURL      string
	OrdersPath   string
	FleetPath    string
	HTTPTimeout  time.Duration
	MaxAttempts  int
	RetryDelay   time.Duration
	IdlePoll     time.Duration
	IdleTimeout  time.Duration // 0 waits until cancelled
	SystemID     string
	OrderType    string
	RequiredAGVs []string
	Priority     int
	Cargo        string
}

// DefaultConfig returns the settings the dispatch service expects out of the box.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		OrdersPath:   "/orders",
		FleetPath:    "/api/agvs/check-orderid",
		HTTPTimeout:  10 * time.Second,
		MaxAttempts:  100,
		RetryDelay:   2 * time.Second,
		IdlePoll:     time.Second,
		SystemID:     "RCS",
		OrderType:    "LoadingAndUnloading",
		RequiredAGVs: []string{"0001"},
		Priority:     1,
		Cargo:        "goods",
	}
}

// AttemptFunc is told about every failed attempt of a retried operation.
type AttemptFunc func(attempt int, err error)

// Client is an HTTP client for the dispatch service.
type Client struct {
	cfg  Config
	http *http.Client

	idMu   sync.Mutex
	lastID int64
	now    func() time.Time
}

// NewClient creates a dispatch client.
func NewClient(cfg Config) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.HTTPTimeout},
		now:  time.Now,
	}
}

// MaxAttempts returns the configured submission attempt bound.
func (c *Client) MaxAttempts() int {
	return c.cfg.MaxAttempts
}

// NewOrder builds an order from source to destination with the configured
// defaults. Order ids are millisecond timestamps, strictly increasing
// within the process.
func (c *Client) NewOrder(source, destination string) Order {
	agvs := make([]string, len(c.cfg.RequiredAGVs))
	copy(agvs, c.cfg.RequiredAGVs)
	return Order{
		ID:           c.nextID(),
		SystemID:     c.cfg.SystemID,
		Type:         c.cfg.OrderType,
		RequiredAGVs: agvs,
		Priority:     c.cfg.Priority,
		Source:       source,
		Destination:  destination,
		Cargo:        c.cfg.Cargo,
	}
}

func (c *Client) nextID() string {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	id := c.now().UnixMilli()
	if id <= c.lastID {
		id = c.lastID + 1
	}
	c.lastID = id
	return strconv.FormatInt(id, 10)
}

// Submit posts the order once. Any 2xx response is success.
func (c *Client) Submit(ctx context.Context, order Order) error {
	body, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encoding order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(c.cfg.OrdersPath), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting order %s: %w", order.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readHTTPError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // Drain for connection reuse
	return nil
}

// SubmitWithRetry posts the order until it is accepted, up to MaxAttempts
// times with a fixed RetryDelay between attempts. Cancellation of ctx is
// checked before every attempt and aborts the wait between attempts.
// It returns the number of attempts made.
func (c *Client) SubmitWithRetry(ctx context.Context, order Order, onFail AttemptFunc) (int, error) {
	attempts := 0
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		err := c.Submit(ctx, order)
		if err != nil && onFail != nil && ctx.Err() == nil {
			onFail(attempts, err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryDelay), uint64(c.cfg.MaxAttempts-1)), //nolint:gosec // MaxAttempts >= 1
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempts, ctxErr
		}
		return attempts, fmt.Errorf("order %s not accepted after %d attempts: %w", order.ID, attempts, err)
	}
	return attempts, nil
}

// FleetStatus fetches the per-vehicle order status.
func (c *Client) FleetStatus(ctx context.Context) (FleetStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(c.cfg.FleetPath), nil)
	if err != nil {
		return FleetStatus{}, fmt.Errorf("building fleet request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return FleetStatus{}, fmt.Errorf("fetching fleet status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return FleetStatus{}, readHTTPError(resp)
	}

	var status FleetStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return FleetStatus{}, fmt.Errorf("decoding fleet status: %w", err)
	}
	return status, nil
}

// WaitIdle polls the fleet every IdlePoll until no vehicle has a current
// order. It stops early when ctx is cancelled (returning ctx.Err()) or when
// IdleTimeout is positive and elapses (returning ErrIdleTimeout).
// onBusy is told about every check that did not report idle.
func (c *Client) WaitIdle(ctx context.Context, onBusy AttemptFunc) (int, error) {
	var timeout <-chan time.Time
	if c.cfg.IdleTimeout > 0 {
		t := time.NewTimer(c.cfg.IdleTimeout)
		defer t.Stop()
		timeout = t.C
	}

	ticker := time.NewTicker(c.cfg.IdlePoll)
	defer ticker.Stop()

	for check := 1; ; check++ {
		if err := ctx.Err(); err != nil {
			return check - 1, err
		}

		status, err := c.FleetStatus(ctx)
		if err == nil && status.Idle() {
			return check, nil
		}
		if err == nil {
			err = fmt.Errorf("%d vehicle(s) still hold an order", status.BusyCount())
		}
		if onBusy != nil && ctx.Err() == nil {
			onBusy(check, err)
		}

		select {
		case <-ctx.Done():
			return check, ctx.Err()
		case <-timeout:
			return check, ErrIdleTimeout
		case <-ticker.C:
		}
	}
}

// Ping checks that the fleet endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.FleetStatus(ctx)
	return err
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func readHTTPError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // Body is informational
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &HTTPError{StatusCode: resp.StatusCode, Body: msg}
}

// IsRejected reports whether err is a non-2xx answer from the service.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}
