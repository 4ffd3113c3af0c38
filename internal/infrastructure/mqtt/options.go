package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/parkflow/parkflow-core/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is in milliseconds, as paho expects.
	defaultDisconnectQuiesce = 1000

	defaultKeepAlive = 60 * time.Second
	tlsMinVersion    = tls.VersionTLS12

	// willQoS is fixed so the offline status survives a broker with QoS 0 defaults.
	willQoS = 1
)

// clientID returns the configured client id, or one derived from the site
// so two sites on one broker never collide.
func clientID(cfg config.MQTTConfig, topics Topics) string {
	if cfg.Broker.ClientID != "" {
		return cfg.Broker.ClientID
	}
	return fmt.Sprintf("%s-%s", TopicRoot, topics.Site)
}

// buildClientOptions maps the MQTT section onto paho options for one site:
// broker URL, identity, reconnect policy and the retained offline will.
func buildClientOptions(cfg config.MQTTConfig, topics Topics) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))

	id := clientID(cfg, topics)
	opts.SetClientID(id)
	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// No persistent session: the command subscription is restored by hand.
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	will, err := json.Marshal(offlineStatus(topics.Site, id, ReasonLost))
	if err == nil {
		opts.SetBinaryWill(topics.SystemStatus(), will, willQoS, true)
	}
	return opts
}
