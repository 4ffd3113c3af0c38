package mqtt

import (
	"encoding/json"
	"fmt"
)

// maxPayloadSize caps an outgoing payload at 1MB, the common broker limit.
const maxPayloadSize = 1 << 20

// PublishConsole mirrors one operator console entry. Console entries are
// a stream, so they are not retained.
func (c *Client) PublishConsole(entry any) error {
	return c.publishJSON(c.topics.Console(), entry, false)
}

// PublishPoint publishes the cached point row of a device, retained so a
// new dashboard sees the current state at once.
func (c *Client) PublishPoint(deviceID string, row any) error {
	return c.publishJSON(c.topics.Point(deviceID), row, true)
}

// PublishFlowStatus publishes the runner status, retained.
func (c *Client) PublishFlowStatus(status any) error {
	return c.publishJSON(c.topics.FlowStatus(), status, true)
}

func (c *Client) publishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding payload for %s: %w", ErrPublishFailed, topic, err)
	}
	return c.publish(topic, payload, retained)
}

func (c *Client) publish(topic string, payload []byte, retained bool) error {
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, c.qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrPublishFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// publishSystemStatus is best effort: it runs from connection callbacks
// and from Close, where nobody can act on a failure.
func (c *Client) publishSystemStatus(st SystemStatus) {
	payload, err := json.Marshal(st)
	if err != nil {
		return
	}
	token := c.client.Publish(c.topics.SystemStatus(), c.qos, true, payload)
	token.WaitTimeout(defaultPublishTimeout)
}
