package mqtt

import "fmt"

// Subscribe routes messages matching topic (wildcards allowed) to handler.
//
// The subscription is remembered and replayed after every reconnect.
// A failed subscribe is forgotten again so it is not replayed.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkRequest(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{qos: qos, handler: handler}
	c.subMu.Unlock()

	if err := await(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		c.forget(topic)
		return err
	}
	return nil
}

// Unsubscribe drops topic locally and at the broker. Messages already in
// flight may still reach the old handler.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.forget(topic)
	return await(c.client.Unsubscribe(topic), ErrSubscribeFailed)
}

// SubscriptionCount returns how many topics will be replayed on reconnect.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription reports whether exactly topic is subscribed.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	_, ok := c.subscriptions[topic]
	c.subMu.RUnlock()
	return ok
}

func (c *Client) forget(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

// restoreSubscriptions replays every remembered subscription. Failures
// are retried by the next reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for topic, sub := range c.subscriptions {
		tok := c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
		go func() {
			if err := await(tok, ErrSubscribeFailed); err != nil {
				c.log().Warn("restoring MQTT subscription", "topic", topic, "error", err)
			}
		}()
	}
}
