package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// FlowCommandHandler acts on a remote start/stop request. A returned error
// is logged; the command is not redelivered.
type FlowCommandHandler func(cmd FlowCommand) error

// SubscribeFlowCommands routes commands arriving on the site's flow command
// topic to handler. Paho runs each delivery on its own goroutine, so
// handler must not block for long.
func (c *Client) SubscribeFlowCommands(handler FlowCommandHandler) error {
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.commandsMu.Lock()
	c.commands = handler
	c.commandsMu.Unlock()

	if err := c.subscribeCommands(); err != nil {
		c.commandsMu.Lock()
		c.commands = nil
		c.commandsMu.Unlock()
		return err
	}
	return nil
}

// subscribeCommands (re)subscribes the command topic when a handler is set.
func (c *Client) subscribeCommands() error {
	c.commandsMu.RLock()
	registered := c.commands != nil
	c.commandsMu.RUnlock()
	if !registered {
		return nil
	}

	topic := c.topics.FlowCommand()
	token := c.client.Subscribe(topic, c.qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.handleFlowCommand(msg.Payload())
	})
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrSubscribeFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// handleFlowCommand decodes one delivery and runs the handler. Bad payloads,
// handler errors and handler panics are logged and go no further.
func (c *Client) handleFlowCommand(payload []byte) {
	logger := c.getLogger()
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Error("flow command handler panic recovered", "panic", r)
		}
	}()

	c.commandsMu.RLock()
	handler := c.commands
	c.commandsMu.RUnlock()
	if handler == nil {
		return
	}

	cmd, err := ParseFlowCommand(payload)
	if err != nil {
		if logger != nil {
			logger.Warn("ignoring flow command", "error", err)
		}
		return
	}
	if err := handler(cmd); err != nil && logger != nil {
		logger.Warn("flow command failed", "action", cmd.Action, "flow_id", cmd.FlowID, "error", err)
	}
}
