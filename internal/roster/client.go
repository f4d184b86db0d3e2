package roster

import (
	"context"

	"github.com/google/uuid"

	"teamlink/internal/models"
	"teamlink/internal/repositories"
	"teamlink/internal/transport"
)

// TeamInfo is the roster service's answer: the team and its conversation
// shell.
type TeamInfo struct {
	Team         models.Team         `json:"team"`
	Conversation models.Conversation `json:"conversation"`
}

type teamRequest struct {
	TeamID string `json:"team_id"`
}

// Client refreshes the local roster cache over the network transport's
// team-info topics, with the same one-shot pattern as the history sync.
type Client struct {
	network       transport.Network
	teams         repositories.TeamRepository
	conversations repositories.ConversationRepository
}

// NewClient builds a Client.
func NewClient(network transport.Network, teams repositories.TeamRepository, conversations repositories.ConversationRepository) *Client {
	return &Client{network: network, teams: teams, conversations: conversations}
}

// Sync fetches one team's roster and persists the team and its conversation
// shell. Unread counters are untouched; only the pipeline writes those.
func (c *Client) Sync(ctx context.Context, teamID string) (TeamInfo, error) {
	requestID := uuid.NewString()
	matched := make(chan transport.Envelope, 1)

	cancel, err := c.network.Subscribe(transport.TopicRosterResponse, func(envelope transport.Envelope) {
		if envelope.RequestID != requestID {
			return
		}
		select {
		case matched <- envelope:
		default:
		}
	})
	if err != nil {
		return TeamInfo{}, err
	}
	defer cancel()

	if err := c.network.Publish(ctx, transport.TopicRosterRequest, teamRequest{TeamID: teamID}, requestID); err != nil {
		return TeamInfo{}, err
	}

	select {
	case <-ctx.Done():
		return TeamInfo{}, ctx.Err()
	case envelope := <-matched:
		if err := envelope.Err(); err != nil {
			return TeamInfo{}, err
		}
		var info TeamInfo
		if err := envelope.DecodeData(&info); err != nil {
			return TeamInfo{}, err
		}
		if err := c.teams.SaveTeam(ctx, info.Team); err != nil {
			return TeamInfo{}, err
		}
		if info.Conversation.ID != "" {
			if err := c.conversations.UpsertConversation(ctx, info.Conversation); err != nil {
				return TeamInfo{}, err
			}
		}
		return info, nil
	}
}
