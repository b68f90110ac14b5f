package kafka

import (
	"github.com/segmentio/kafka-go"
)

// HeaderCarrier adapts kafka message headers to propagation.TextMapCarrier.
type HeaderCarrier struct {
	Headers *[]kafka.Header
}

// Get returns the first value stored under key.
func (c HeaderCarrier) Get(key string) string {
	if c.Headers == nil {
		return ""
	}

	for _, h := range *c.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}

	return ""
}

// Set replaces every header stored under key.
func (c HeaderCarrier) Set(key, value string) {
	if c.Headers == nil {
		return
	}

	out := (*c.Headers)[:0]
	for _, h := range *c.Headers {
		if h.Key != key {
			out = append(out, h)
		}
	}

	*c.Headers = append(out, kafka.Header{Key: key, Value: []byte(value)})
}

// Keys lists the header keys.
func (c HeaderCarrier) Keys() []string {
	if c.Headers == nil {
		return nil
	}

	keys := make([]string, 0, len(*c.Headers))
	for _, h := range *c.Headers {
		keys = append(keys, h.Key)
	}

	return keys
}
