package history

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"teamlink/internal/models"
	"teamlink/internal/repositories"
	"teamlink/internal/transport"
)

// PageRequest asks the backend for one page of a conversation's history.
type PageRequest struct {
	ConversationID string `json:"conversation_id"`
	Page           int    `json:"page"`
	PageSize       int    `json:"page_size"`
}

// Client pulls conversation history with a one-shot request/response
// exchange on session start.
type Client struct {
	network  transport.Network
	messages repositories.MessageRepository
}

// NewClient builds a Client.
func NewClient(network transport.Network, messages repositories.MessageRepository) *Client {
	return &Client{network: network, messages: messages}
}

// Sync requests one history page and persists it. The response subscription
// lives only for the duration of the call: it matches on the generated
// request id, ignores strangers and late duplicates, and is torn down
// before returning, so it can never re-fire for later pages. Cancel via ctx.
func (c *Client) Sync(ctx context.Context, conversationID string, page, pageSize int) ([]models.Message, error) {
	requestID := uuid.NewString()
	matched := make(chan transport.Envelope, 1)

	cancel, err := c.network.Subscribe(transport.TopicHistoryResponse, func(envelope transport.Envelope) {
		if envelope.RequestID != requestID {
			return
		}
		select {
		case matched <- envelope:
		default:
			// First matching response wins; duplicates are dropped.
		}
	})
	if err != nil {
		return nil, err
	}
	defer cancel()

	request := PageRequest{ConversationID: conversationID, Page: page, PageSize: pageSize}
	if err := c.network.Publish(ctx, transport.TopicHistoryRequest, request, requestID); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case envelope := <-matched:
		if err := envelope.Err(); err != nil {
			return nil, err
		}
		var msgs []models.Message
		if err := envelope.DecodeData(&msgs); err != nil {
			return nil, err
		}
		sort.Slice(msgs, func(i, j int) bool { return msgs[i].SentAt < msgs[j].SentAt })
		if err := c.messages.InsertHistory(ctx, msgs); err != nil {
			return nil, err
		}
		return msgs, nil
	}
}
