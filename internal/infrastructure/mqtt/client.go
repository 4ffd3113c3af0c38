package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/parkflow/parkflow-core/internal/infrastructure/config"
)

// Client is the ParkFlow side channel of one site on an MQTT broker.
//
// It mirrors the console, point rows and flow status onto the site's
// topics and hands remote start/stop commands to the runner. All methods
// are safe for concurrent use. The flow command subscription is restored
// after every reconnect.
type Client struct {
	client   pahomqtt.Client
	qos      byte
	clientID string
	topics   Topics

	commands   FlowCommandHandler
	commandsMu sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is the logging the client needs. *logging.Logger satisfies it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Connect connects to the broker for siteID.
//
// The broker holds a retained offline status as the client's will, so a
// crashed engine shows up on parkflow/<site>/system/status. Once connected
// the client publishes a retained online status on the same topic.
func Connect(cfg config.MQTTConfig, siteID string) (*Client, error) {
	topics := Topics{Site: siteID}
	opts := buildClientOptions(cfg, topics)

	c := &Client{
		qos:      byte(cfg.QoS), //nolint:gosec // QoS validated 0-2 by config
		clientID: opts.ClientID,
		topics:   topics,
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT reconnecting", "client_id", c.clientID, "site", siteID)
		}
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The on-connect handler runs asynchronously; mark the client usable now.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	if err := c.subscribeCommands(); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Error("restoring flow command subscription failed", "error", err)
		}
	}
	c.publishSystemStatus(onlineStatus(c.topics.Site, c.clientID))

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// Close publishes a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		c.publishSystemStatus(offlineStatus(c.topics.Site, c.clientID, ReasonShutdown))
	}
	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// HealthCheck reports ErrNotConnected while the broker is away.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Topics returns the topic builder for the client's site.
func (c *Client) Topics() Topics {
	return c.topics
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnConnect sets a callback run on the initial connect and every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback run when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets where command and connection problems are logged.
// Without one they are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
