package transport

import (
	"context"
	"encoding/json"
	"fmt"
)

// Topic families carried by the network transport.
const (
	TopicChatOutbound    = "chat.outbound"
	TopicChatInbound     = "chat.inbound"
	TopicHistoryRequest  = "history.request"
	TopicHistoryResponse = "history.response"
	TopicRosterRequest   = "roster.request"
	TopicRosterResponse  = "roster.response"
)

// CodeOK is the envelope code denoting success.
const CodeOK = "00000"

// Envelope is the JSON wrapper around every network payload.
type Envelope struct {
	Code      string          `json:"code"`
	Msg       string          `json:"msg"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"requestId,omitempty"`
}

// Err returns the business error carried by a non-success envelope.
func (e Envelope) Err() error {
	if e.Code == CodeOK {
		return nil
	}
	return &BusinessError{Code: e.Code, Message: e.Msg}
}

// DecodeData unmarshals the envelope payload into v.
func (e Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("envelope has no data")
	}
	return json.Unmarshal(e.Data, v)
}

// BusinessError is a failure reported by the network transport itself.
// No automatic retry is performed here; retries are caller policy.
type BusinessError struct {
	Code    string
	Message string
}

func (e *BusinessError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (code %s)", e.Message, e.Code)
	}
	return fmt.Sprintf("request failed with code %s", e.Code)
}

// Handler consumes inbound envelopes for one subscription. Handlers run on
// the transport's delivery goroutine and must not block for long.
type Handler func(Envelope)

// CancelFunc tears down a subscription. Safe to call more than once.
type CancelFunc func()

// Network is the publish/subscribe collaborator over named topics.
type Network interface {
	// Connected reports whether the transport currently has a live link.
	Connected() bool
	// Publish wraps data in a success envelope and sends it to topic.
	Publish(ctx context.Context, topic string, data any, requestID string) error
	// Subscribe delivers every envelope arriving on topic to fn, in the
	// transport's own FIFO delivery order, until canceled.
	Subscribe(topic string, fn Handler) (CancelFunc, error)
}
