package mocks

import (
	"context"
	"sync"

	"teamlink/internal/transport"
)

// FakeNetwork is an in-memory network transport for tests. Envelopes
// published to a topic are delivered synchronously to its subscribers.
type FakeNetwork struct {
	mu        sync.Mutex
	connected bool
	nextID    int
	subs      map[string]map[int]transport.Handler
	Published []PublishedEnvelope
	// PublishErr, when set, fails every publish.
	PublishErr error
}

type PublishedEnvelope struct {
	Topic     string
	Data      any
	RequestID string
}

func NewFakeNetwork(connected bool) *FakeNetwork {
	return &FakeNetwork{
		connected: connected,
		subs:      make(map[string]map[int]transport.Handler),
	}
}

func (n *FakeNetwork) SetConnected(connected bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connected = connected
}

func (n *FakeNetwork) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected
}

func (n *FakeNetwork) Publish(ctx context.Context, topic string, data any, requestID string) error {
	n.mu.Lock()
	if n.PublishErr != nil {
		err := n.PublishErr
		n.mu.Unlock()
		return err
	}
	n.Published = append(n.Published, PublishedEnvelope{Topic: topic, Data: data, RequestID: requestID})
	n.mu.Unlock()
	return nil
}

func (n *FakeNetwork) Subscribe(topic string, fn transport.Handler) (transport.CancelFunc, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subs[topic]; !ok {
		n.subs[topic] = make(map[int]transport.Handler)
	}
	id := n.nextID
	n.nextID++
	n.subs[topic][id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs[topic], id)
	}, nil
}

// Deliver pushes an envelope to every subscriber of topic.
func (n *FakeNetwork) Deliver(topic string, envelope transport.Envelope) {
	n.mu.Lock()
	handlers := make([]transport.Handler, 0, len(n.subs[topic]))
	for _, fn := range n.subs[topic] {
		handlers = append(handlers, fn)
	}
	n.mu.Unlock()
	for _, fn := range handlers {
		fn(envelope)
	}
}

// PublishedSnapshot copies the publish log under the lock, safe to call
// while another goroutine is publishing.
func (n *FakeNetwork) PublishedSnapshot() []PublishedEnvelope {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]PublishedEnvelope(nil), n.Published...)
}

// SubscriberCount reports live subscriptions on a topic.
func (n *FakeNetwork) SubscriberCount(topic string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[topic])
}

// FakeDevice is an in-memory device channel for tests.
type FakeDevice struct {
	mu        sync.Mutex
	connected bool
	nextID    int
	subs      map[int]func([]byte)
	Sent      [][]byte
	SendErr   error
}

func NewFakeDevice(connected bool) *FakeDevice {
	return &FakeDevice{connected: connected, subs: make(map[int]func([]byte))}
}

func (d *FakeDevice) SetConnected(connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = connected
}

func (d *FakeDevice) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *FakeDevice) SendOpaqueBytes(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SendErr != nil {
		return d.SendErr
	}
	d.Sent = append(d.Sent, data)
	return nil
}

func (d *FakeDevice) Notify(fn func(data []byte)) (cancel func()) {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

// Emit delivers raw device bytes to every notification subscriber.
func (d *FakeDevice) Emit(data []byte) {
	d.mu.Lock()
	handlers := make([]func([]byte), 0, len(d.subs))
	for _, fn := range d.subs {
		handlers = append(handlers, fn)
	}
	d.mu.Unlock()
	for _, fn := range handlers {
		fn(data)
	}
}

var _ transport.Network = (*FakeNetwork)(nil)
var _ transport.DeviceChannel = (*FakeDevice)(nil)
