package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"teamlink/internal/models"
	"teamlink/internal/repositories"
	"teamlink/internal/roster"
	"teamlink/internal/transport"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	args := m.Called(ctx, id)
	var conversation models.Conversation
	if val := args.Get(0); val != nil {
		conversation = val.(models.Conversation)
	}
	return conversation, args.Error(1)
}

func (m *ConversationRepositoryMock) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	args := m.Called(ctx)
	var list []models.Conversation
	if val := args.Get(0); val != nil {
		list = val.([]models.Conversation)
	}
	return list, args.Error(1)
}

func (m *ConversationRepositoryMock) UpsertConversation(ctx context.Context, conversation models.Conversation) error {
	args := m.Called(ctx, conversation)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) RecordIncoming(ctx context.Context, id string, latest models.LatestMessage) error {
	args := m.Called(ctx, id, latest)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) MarkRead(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) InsertMessage(ctx context.Context, msg models.Message) (bool, error) {
	args := m.Called(ctx, msg)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) InsertHistory(ctx context.Context, msgs []models.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type TeamRepositoryMock struct {
	mock.Mock
}

func (m *TeamRepositoryMock) GetTeam(ctx context.Context, id string) (models.Team, error) {
	args := m.Called(ctx, id)
	var team models.Team
	if val := args.Get(0); val != nil {
		team = val.(models.Team)
	}
	return team, args.Error(1)
}

func (m *TeamRepositoryMock) SaveTeam(ctx context.Context, team models.Team) error {
	args := m.Called(ctx, team)
	return args.Error(0)
}

type SenderMock struct {
	mock.Mock
}

func (m *SenderMock) Send(ctx context.Context, op transport.Operation, msg models.Message, senderShortID uint64) (transport.Route, error) {
	args := m.Called(ctx, op, msg, senderShortID)
	var route transport.Route
	if val := args.Get(0); val != nil {
		route = val.(transport.Route)
	}
	return route, args.Error(1)
}

func (m *SenderMock) SendDevice(ctx context.Context, op transport.Operation, msg models.Message, senderShortID uint64) error {
	args := m.Called(ctx, op, msg, senderShortID)
	return args.Error(0)
}

type HistorySyncerMock struct {
	mock.Mock
}

func (m *HistorySyncerMock) Sync(ctx context.Context, conversationID string, page, pageSize int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, page, pageSize)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type RosterSyncerMock struct {
	mock.Mock
}

func (m *RosterSyncerMock) Sync(ctx context.Context, teamID string) (roster.TeamInfo, error) {
	args := m.Called(ctx, teamID)
	var info roster.TeamInfo
	if val := args.Get(0); val != nil {
		info = val.(roster.TeamInfo)
	}
	return info, args.Error(1)
}

var _ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.TeamRepository = (*TeamRepositoryMock)(nil)
