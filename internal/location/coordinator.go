package location

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"teamlink/internal/ingest"
	"teamlink/internal/models"
	"teamlink/internal/transport"
)

// The request/response discriminator rides in the message content, never in
// the message kind. Over the device channel a request travels as a
// quick-command frame (location frames carry no text), the reply as a
// location frame with coordinates.
const (
	ContentRequest  = "location:request"
	ContentResponse = "location:response"
)

// State of one outstanding request.
type State int

const (
	StateIdle State = iota
	StateRequested
	StateFulfilled
	StateTimedOut
	StateAbandoned
)

const DefaultTimeout = 30 * time.Second

var (
	ErrRequestOutstanding = errors.New("a location request is already outstanding for this conversation")
	ErrTimeout            = errors.New("no location reply received before the timeout")
)

// Result completes a request: either the peer's location message or an
// error (timeout).
type Result struct {
	Message models.Message
	Err     error
}

// Pending is the caller's handle on an outstanding request. Exactly one
// result is delivered on Done unless the request is canceled first.
type Pending struct {
	Done   <-chan Result
	cancel func()
}

// Cancel abandons the request. The completion channel never fires after
// Cancel returns.
func (p *Pending) Cancel() {
	p.cancel()
}

// Sender is the slice of the transport router the coordinator needs.
type Sender interface {
	Send(ctx context.Context, op transport.Operation, msg models.Message, senderShortID uint64) (transport.Route, error)
	SendDevice(ctx context.Context, op transport.Operation, msg models.Message, senderShortID uint64) error
}

// Self identifies the local member.
type Self struct {
	Snapshot models.SenderSnapshot
	ShortID  uint64
}

// PositionFunc reports the local member's current coordinates.
type PositionFunc func(ctx context.Context) (models.Location, error)

// Config tunes the coordinator.
type Config struct {
	// Timeout bounds how long a request stays outstanding. Zero means
	// DefaultTimeout.
	Timeout time.Duration
}

type requestKey struct {
	conversationID string
	requesterID    string
}

type pendingRequest struct {
	state State
	done  chan Result
	timer *time.Timer
}

// Coordinator runs the two-step location handshake: it issues requests,
// auto-replies to peers' requests with the local position, and fulfills
// outstanding requests when a reply arrives on either transport.
type Coordinator struct {
	sender   Sender
	self     Self
	position PositionFunc
	timeout  time.Duration

	mu      sync.Mutex
	pending map[requestKey]*pendingRequest
}

// NewCoordinator builds a Coordinator.
func NewCoordinator(sender Sender, self Self, position PositionFunc, config Config) *Coordinator {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{
		sender:   sender,
		self:     self,
		position: position,
		timeout:  timeout,
		pending:  make(map[requestKey]*pendingRequest),
	}
}

// Request asks the conversation's members for their location. It routes the
// request through the transport router; ErrDeviceConfirmRequired propagates
// so the caller can prompt before retrying with RequestViaDevice.
func (c *Coordinator) Request(ctx context.Context, conversationID string) (*Pending, error) {
	msg, err := c.requestMessage(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if _, err := c.sender.Send(ctx, transport.OpLocationRequest, msg, c.self.ShortID); err != nil {
		return nil, err
	}
	return c.track(conversationID)
}

// RequestViaDevice sends the request over the device channel after the user
// confirmed the fallback. The request goes out as a quick-command frame so
// the discriminator survives the wire.
func (c *Coordinator) RequestViaDevice(ctx context.Context, conversationID string) (*Pending, error) {
	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         c.self.Snapshot,
		Content:        ContentRequest,
		SentAt:         time.Now().UnixMilli(),
		Kind:           models.KindQuickCommand,
	}
	if err := c.sender.SendDevice(ctx, transport.OpLocationRequest, msg, c.self.ShortID); err != nil {
		return nil, err
	}
	return c.track(conversationID)
}

func (c *Coordinator) requestMessage(ctx context.Context, conversationID string) (models.Message, error) {
	position, err := c.position(ctx)
	if err != nil {
		return models.Message{}, err
	}
	return models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         c.self.Snapshot,
		Content:        ContentRequest,
		SentAt:         time.Now().UnixMilli(),
		Kind:           models.KindLocation,
		Location:       &position,
	}, nil
}

func (c *Coordinator) track(conversationID string) (*Pending, error) {
	key := requestKey{conversationID: conversationID, requesterID: c.self.Snapshot.ID}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.pending[key]; ok && existing.state == StateRequested {
		return nil, ErrRequestOutstanding
	}

	request := &pendingRequest{
		state: StateRequested,
		done:  make(chan Result, 1),
	}
	request.timer = time.AfterFunc(c.timeout, func() {
		c.expire(key)
	})
	c.pending[key] = request

	return &Pending{
		Done:   request.done,
		cancel: func() { c.abandon(key) },
	}, nil
}

func (c *Coordinator) expire(key requestKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	request, ok := c.pending[key]
	if !ok || request.state != StateRequested {
		return
	}
	request.state = StateTimedOut
	request.done <- Result{Err: ErrTimeout}
}

func (c *Coordinator) abandon(key requestKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	request, ok := c.pending[key]
	if !ok || request.state != StateRequested {
		return
	}
	request.state = StateAbandoned
	request.timer.Stop()
}

// StateOf reports the state of the local member's request for a
// conversation.
func (c *Coordinator) StateOf(conversationID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	request, ok := c.pending[requestKey{conversationID: conversationID, requesterID: c.self.Snapshot.ID}]
	if !ok {
		return StateIdle
	}
	return request.state
}

// Run consumes the ingestion bus until ctx is canceled, handling inbound
// requests and responses.
func (c *Coordinator) Run(ctx context.Context, bus *ingest.Bus) {
	events, cancel := bus.Subscribe(16)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			c.HandleInbound(ctx, event.Message)
		}
	}
}

// HandleInbound inspects one ingested message. Requests from peers trigger
// an automatic reply carrying the local position; location replies fulfill
// the outstanding request for their conversation.
func (c *Coordinator) HandleInbound(ctx context.Context, msg models.Message) {
	if msg.Sender.ID == c.self.Snapshot.ID && msg.Sender.ID != "" {
		return
	}

	if msg.Content == ContentRequest {
		c.reply(ctx, msg.ConversationID)
		return
	}
	if msg.Kind == models.KindLocation {
		c.fulfill(msg)
	}
}

func (c *Coordinator) reply(ctx context.Context, conversationID string) {
	position, err := c.position(ctx)
	if err != nil {
		log.Printf("location auto-reply skipped conversation=%s: %v", conversationID, err)
		return
	}
	response := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         c.self.Snapshot,
		Content:        ContentResponse,
		SentAt:         time.Now().UnixMilli(),
		Kind:           models.KindLocation,
		Location:       &position,
	}
	if _, err := c.sender.Send(ctx, transport.OpLocationResponse, response, c.self.ShortID); err != nil {
		log.Printf("location auto-reply failed conversation=%s: %v", conversationID, err)
	}
}

func (c *Coordinator) fulfill(msg models.Message) {
	key := requestKey{conversationID: msg.ConversationID, requesterID: c.self.Snapshot.ID}

	c.mu.Lock()
	defer c.mu.Unlock()
	request, ok := c.pending[key]
	if !ok || request.state != StateRequested {
		return
	}
	request.state = StateFulfilled
	request.timer.Stop()
	request.done <- Result{Message: msg}
}
