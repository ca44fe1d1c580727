package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps outgoing messages at 1MB.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker acknowledgement.
//
// Only status topics are published retained; events and commands never are.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkRequest(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload over %d byte limit", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// PublishRetained publishes a retained message at the configured QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, c.QoS(), true)
}

func checkRequest(topic string, qos byte) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	}
	return nil
}

// await blocks on tok for at most operationTimeout and wraps any failure
// in kind.
func await(tok pahomqtt.Token, kind error) error {
	if !tok.WaitTimeout(operationTimeout) {
		return fmt.Errorf("%w: no acknowledgement within %v", kind, operationTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return nil
}
