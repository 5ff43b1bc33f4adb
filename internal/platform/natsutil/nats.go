package natsutil

import (
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Client owns the broker connection and the JetStream management context.
// It is constructed once in main and passed to every component that needs
// it; there is no package-level singleton.
type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
}

// Connect dials the broker at the given URL. The local default URL needs no
// credentials; production URLs carry their own in the usual NATS form.
func Connect(url string) (*Client, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	return &Client{Conn: conn, JS: js}, nil
}

// ConnectWithRetry keeps dialing until the broker answers or the timeout
// elapses. Used at startup while the broker container is still coming up.
func ConnectWithRetry(url string, timeout time.Duration) (*Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := Connect(url)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(500 * time.Millisecond)
	}
	return nil, fmt.Errorf("connect broker timeout after %s: %w", timeout, lastErr)
}

// TopicExists lists every stream on the broker and compares short names.
func (c *Client) TopicExists(name string) (bool, error) {
	for stream := range c.JS.StreamNames() {
		if shortName(stream) == name {
			return true, nil
		}
	}
	return false, nil
}

// SubscriptionExists lists the durable consumers bound to a topic's stream
// and compares short names.
func (c *Client) SubscriptionExists(topic, name string) (bool, error) {
	for consumer := range c.JS.ConsumerNames(topic) {
		if shortName(consumer) == name {
			return true, nil
		}
	}
	return false, nil
}

// TestConnection performs a listing call and reports success without
// surfacing the error to the caller.
func (c *Client) TestConnection() bool {
	if c.Conn == nil || c.Conn.Status() != nats.CONNECTED {
		return false
	}
	if _, err := c.JS.AccountInfo(); err != nil {
		return false
	}
	return true
}

func (c *Client) Close() {
	if c == nil || c.Conn == nil {
		return
	}
	_ = c.Conn.Drain()
	c.Conn.Close()
}

// shortName strips any path-style qualification a broker listing may carry.
func shortName(name string) string {
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		return name[idx+1:]
	}
	return name
}
