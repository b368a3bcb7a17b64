package natsbus

import "github.com/nats-io/nats.go"

// headerCarrier adapts nats.Header to the OpenTelemetry TextMapCarrier interface.
type headerCarrier struct {
	h nats.Header
}

func (c headerCarrier) Get(key string) string {
	return c.h.Get(key)
}

func (c headerCarrier) Set(key string, value string) {
	c.h.Set(key, value)
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.h))
	for k := range c.h {
		keys = append(keys, k)
	}
	return keys
}
