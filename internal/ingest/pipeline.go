package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"

	"teamlink/internal/models"
	"teamlink/internal/observability"
	"teamlink/internal/repositories"
	"teamlink/internal/telemetry"
	"teamlink/internal/transport"
	"teamlink/internal/wire"
)

const (
	SourceNetwork = "network"
	SourceDevice  = "device"
)

// Pipeline is the single choke point through which every inbound message,
// regardless of transport, becomes a persisted and UI-visible fact. It is
// the only writer of a conversation's unread count and latest snapshot.
type Pipeline struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	teams         repositories.TeamRepository
	bus           *Bus
	audit         *telemetry.AuditEmitter

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPipeline builds a Pipeline. audit may be nil.
func NewPipeline(conversations repositories.ConversationRepository, messages repositories.MessageRepository, teams repositories.TeamRepository, audit *telemetry.AuditEmitter) *Pipeline {
	return &Pipeline{
		conversations: conversations,
		messages:      messages,
		teams:         teams,
		bus:           NewBus(),
		audit:         audit,
		locks:         make(map[string]*sync.Mutex),
	}
}

// Bus exposes the pipeline's event bus for subscribers.
func (p *Pipeline) Bus() *Bus {
	return p.bus
}

// lockFor serializes mutations per conversation so concurrent arrivals from
// both transports never race on the same counters.
func (p *Pipeline) lockFor(conversationID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[conversationID] = lock
	}
	return lock
}

// IngestNetwork ingests a message already deserialized from the network
// transport's envelope.
func (p *Pipeline) IngestNetwork(ctx context.Context, msg models.Message) error {
	return p.ingest(ctx, msg, SourceNetwork)
}

// IngestDeviceFrame decodes raw device bytes and ingests the result. Decode
// failures are returned for the caller to log; the frame is dropped and
// ingestion state is untouched.
func (p *Pipeline) IngestDeviceFrame(ctx context.Context, raw []byte) error {
	frame, err := wire.Decode(raw)
	if err != nil {
		observability.IncFrameDecodeError()
		return fmt.Errorf("drop device frame: %w", err)
	}
	return p.ingest(ctx, p.resolveFrame(ctx, frame), SourceDevice)
}

// resolveFrame builds the canonical message for a device frame, resolving
// the sender through the cached roster. Stale caches are tolerated: an
// unresolved conversation or member yields an empty sender snapshot, never
// an error.
func (p *Pipeline) resolveFrame(ctx context.Context, frame wire.Frame) models.Message {
	msg := models.Message{
		ID:             models.DeviceMessageID,
		ConversationID: strconv.FormatUint(frame.ConversationID, 10),
		Kind:           frame.Kind,
	}

	switch payload := frame.Payload.(type) {
	case wire.LocationPayload:
		msg.SentAt = payload.Timestamp * 1000
		msg.Location = &models.Location{
			Longitude:  payload.Longitude,
			Latitude:   payload.Latitude,
			ReportedAt: payload.Timestamp,
		}
	case wire.TextPayload:
		msg.SentAt = payload.Timestamp * 1000
		msg.Content = payload.Text
	}

	msg.Sender = p.resolveSender(ctx, msg.ConversationID, frame.SenderID)
	return msg
}

func (p *Pipeline) resolveSender(ctx context.Context, conversationID string, shortID uint64) models.SenderSnapshot {
	conversation, err := p.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, repositories.ErrConversationNotFound) {
			log.Printf("sender resolution failed conversation=%s: %v", conversationID, err)
		}
		observability.IncUnresolvedSender()
		return models.SenderSnapshot{}
	}

	team, err := p.teams.GetTeam(ctx, conversation.TeamID)
	if err != nil {
		if !errors.Is(err, repositories.ErrTeamNotFound) {
			log.Printf("sender resolution failed team=%s: %v", conversation.TeamID, err)
		}
		observability.IncUnresolvedSender()
		return models.SenderSnapshot{}
	}

	member, ok := team.MemberByShortID(shortID)
	if !ok {
		log.Printf("unresolved sender short_id=%d team=%s", shortID, team.ID)
		observability.IncUnresolvedSender()
		return models.SenderSnapshot{}
	}
	return models.SenderSnapshot{
		ID:       member.ID,
		Nickname: member.Nickname,
		Avatar:   member.Avatar,
		Phone:    member.Phone,
	}
}

// ingest applies the three effects in order: persist the message, update the
// owning conversation, publish the event. Duplicates (same server id in the
// same conversation) are absorbed silently with no counter update.
func (p *Pipeline) ingest(ctx context.Context, msg models.Message, source string) error {
	if msg.ConversationID == "" {
		return errors.New("message has no conversation id")
	}
	if msg.Kind.CarriesLocation() && msg.Location == nil {
		return fmt.Errorf("%s message is missing its location payload", msg.Kind)
	}

	lock := p.lockFor(msg.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	inserted, err := p.messages.InsertMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("persist message: %w", err)
	}
	if !inserted {
		log.Printf("duplicate message dropped conversation=%s id=%s", msg.ConversationID, msg.ID)
		return nil
	}

	err = p.conversations.RecordIncoming(ctx, msg.ConversationID, models.LatestFromMessage(msg))
	if err != nil {
		if !errors.Is(err, repositories.ErrConversationNotFound) {
			return fmt.Errorf("update conversation: %w", err)
		}
		// Stale local cache: the message is kept, the aggregate catches
		// up when the roster sync recreates the conversation.
		log.Printf("conversation %s not cached yet, message kept without counter update", msg.ConversationID)
	}

	observability.IncMessageIngested(source)
	p.auditCritical(ctx, msg)
	p.bus.Publish(Event{ConversationID: msg.ConversationID, Message: msg, Source: source})
	return nil
}

func (p *Pipeline) auditCritical(ctx context.Context, msg models.Message) {
	if msg.Kind != models.KindSOS && msg.Kind != models.KindSafety {
		return
	}
	sender := msg.Sender.ID
	var senderRef *string
	if sender != "" {
		senderRef = &sender
	}
	p.audit.Emit(ctx, "critical",
		fmt.Sprintf("%s message ingested conversation=%s", msg.Kind, msg.ConversationID),
		"", senderRef)
}

// BindNetwork subscribes the pipeline to the inbound chat topic.
func (p *Pipeline) BindNetwork(network transport.Network) (transport.CancelFunc, error) {
	return network.Subscribe(transport.TopicChatInbound, func(envelope transport.Envelope) {
		if err := envelope.Err(); err != nil {
			log.Printf("inbound chat envelope rejected: %v", err)
			return
		}
		var msg models.Message
		if err := envelope.DecodeData(&msg); err != nil {
			log.Printf("inbound chat payload decode failed: %v", err)
			return
		}
		if err := p.IngestNetwork(context.Background(), msg); err != nil {
			log.Printf("network ingestion failed conversation=%s: %v", msg.ConversationID, err)
		}
	})
}

// BindDevice subscribes the pipeline to the device channel's notifications.
// Malformed frames are logged and dropped; one corrupt frame never blocks
// the stream.
func (p *Pipeline) BindDevice(device transport.DeviceChannel) (cancel func()) {
	return device.Notify(func(raw []byte) {
		if err := p.IngestDeviceFrame(context.Background(), raw); err != nil {
			log.Printf("device ingestion failed: %v", err)
		}
	})
}
