package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/parkflow/parkflow-core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	fallbackBatchSize     = 100
	fallbackFlushInterval = 10 * time.Second

	// SiteTag is added to every sample so several parks can share a bucket.
	SiteTag = "site"
)

// Client records one site's point_state and order_submission samples.
//
// Writes are queued and sent in batches by the InfluxDB library; they never
// block a sync pass or an order. Failed batches surface through SetOnError.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	site     string
	bucket   string

	mu        sync.RWMutex
	connected bool
	onError   func(*WriteError)
}

// Connect pings the server and opens the batched writer for siteID's samples.
// It returns ErrDisabled when telemetry is switched off in the config.
func Connect(cfg config.InfluxDBConfig, siteID string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if siteID == "" {
		return nil, fmt.Errorf("%w: site id is required", ErrConnectionFailed)
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writerOptions(cfg, siteID))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		site:      siteID,
		bucket:    cfg.Bucket,
		connected: true,
	}
	go c.forwardErrors(c.writeAPI.Errors())
	return c, nil
}

// writerOptions turns the batch settings into library options and tags
// every sample with the site. Non-positive settings fall back to defaults.
func writerOptions(cfg config.InfluxDBConfig, siteID string) *influxdb2.Options {
	batch := uint(fallbackBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize) // #nosec G115 -- checked positive
	}
	flush := fallbackFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds())). // #nosec G115 -- positive
		AddDefaultTag(SiteTag, siteID)
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !healthy {
		return fmt.Errorf("ping: server not healthy")
	}
	return nil
}

// forwardErrors wraps every failed batch with the site and bucket it was
// meant for and hands it to the registered callback.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(&WriteError{Site: c.site, Bucket: c.bucket, Err: err})
		}
	}
}

// Close flushes queued samples and releases the connection.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check (site %s): %w", c.site, err)
	}
	return nil
}

// IsConnected is false once Close has run.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Site returns the value of the site tag on every sample.
func (c *Client) Site() string {
	return c.site
}

// SetOnError registers the callback for failed batches. Batches are
// asynchronous, so this is the only place a lost sample is reported.
func (c *Client) SetOnError(callback func(*WriteError)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush sends queued samples now. It is a no-op after Close.
func (c *Client) Flush() {
	if c.writeAPI == nil || !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}
