package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"teamlink/internal/handlers"
	"teamlink/internal/location"
	"teamlink/internal/mocks"
	"teamlink/internal/models"
	"teamlink/internal/repositories"
	"teamlink/internal/transport"
)

var handlerSelf = models.SenderSnapshot{ID: "me", Nickname: "self"}

type handlerDeps struct {
	conversations *mocks.ConversationRepositoryMock
	messages      *mocks.MessageRepositoryMock
	sender        *mocks.SenderMock
	coordinator   *location.Coordinator
	history       *mocks.HistorySyncerMock
}

func newTestRouter(t *testing.T, timeout time.Duration) (*gin.Engine, handlerDeps) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	deps := handlerDeps{
		conversations: new(mocks.ConversationRepositoryMock),
		messages:      new(mocks.MessageRepositoryMock),
		sender:        new(mocks.SenderMock),
		history:       new(mocks.HistorySyncerMock),
	}
	position := func(ctx context.Context) (models.Location, error) {
		return models.Location{Longitude: 1, Latitude: 2, ReportedAt: 1700000000}, nil
	}
	deps.coordinator = location.NewCoordinator(deps.sender, location.Self{Snapshot: handlerSelf, ShortID: 7}, position, location.Config{Timeout: timeout})

	handler := handlers.NewConversationHandler(deps.conversations, deps.messages, deps.sender, deps.coordinator, deps.history, handlerSelf, 7)

	engine := gin.New()
	engine.GET("/conversations", handler.ListConversations)
	engine.GET("/conversations/:conversation_id/messages", handler.GetMessages)
	engine.POST("/conversations/:conversation_id/messages", handler.PostMessage)
	engine.POST("/conversations/:conversation_id/read", handler.MarkRead)
	engine.POST("/conversations/:conversation_id/location-request", handler.RequestLocation)
	engine.POST("/conversations/:conversation_id/history-sync", handler.SyncHistory)
	return engine, deps
}

func doJSON(engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, req)
	return recorder
}

func TestListConversations(t *testing.T) {
	engine, deps := newTestRouter(t, 0)
	deps.conversations.On("ListConversations", mock.Anything).Return([]models.Conversation{
		{ID: "c1", Name: "ridge", UnreadCount: 3},
	}, nil)

	recorder := doJSON(engine, http.MethodGet, "/conversations", nil)

	require.Equal(t, http.StatusOK, recorder.Code)
	var body struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	require.Len(t, body.Conversations, 1)
	assert.Equal(t, 3, body.Conversations[0].UnreadCount)
}

func TestGetMessages(t *testing.T) {
	engine, deps := newTestRouter(t, 0)
	deps.conversations.On("GetConversation", mock.Anything, "c1").Return(models.Conversation{ID: "c1"}, nil)
	deps.messages.On("ListMessages", mock.Anything, "c1", 25).Return([]models.Message{{ID: "m1"}}, nil)

	recorder := doJSON(engine, http.MethodGet, "/conversations/c1/messages?limit=25", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	deps.messages.AssertExpectations(t)
}

func TestGetMessagesNotFound(t *testing.T) {
	engine, deps := newTestRouter(t, 0)
	deps.conversations.On("GetConversation", mock.Anything, "ghost").Return(nil, repositories.ErrConversationNotFound)

	recorder := doJSON(engine, http.MethodGet, "/conversations/ghost/messages", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestGetMessagesRejectsBadLimit(t *testing.T) {
	engine, deps := newTestRouter(t, 0)
	deps.conversations.On("GetConversation", mock.Anything, "c1").Return(models.Conversation{ID: "c1"}, nil)

	recorder := doJSON(engine, http.MethodGet, "/conversations/c1/messages?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestMarkRead(t *testing.T) {
	engine, deps := newTestRouter(t, 0)
	deps.conversations.On("MarkRead", mock.Anything, "c1").Return(nil)

	recorder := doJSON(engine, http.MethodPost, "/conversations/c1/read", nil)
	assert.Equal(t, http.StatusNoContent, recorder.Code)
	deps.conversations.AssertExpectations(t)
}

func TestPostMessageOverNetwork(t *testing.T) {
	engine, deps := newTestRouter(t, 0)
	deps.conversations.On("GetConversation", mock.Anything, "5002").Return(models.Conversation{ID: "5002"}, nil)
	deps.sender.On("Send", mock.Anything, transport.OpChat, mock.Anything, uint64(7)).
		Return(transport.RouteNetwork, nil)

	recorder := doJSON(engine, http.MethodPost, "/conversations/5002/messages", gin.H{"content": "hello"})

	require.Equal(t, http.StatusCreated, recorder.Code)
	var body struct {
		Route transport.Route `json:"route"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, transport.RouteNetwork, body.Route)

	sent := deps.sender.Calls[0].Arguments.Get(2).(models.Message)
	assert.Equal(t, handlerSelf, sent.Sender)
	assert.NotEmpty(t, sent.ID)
}

func TestPostMessageConfirmFlow(t *testing.T) {
	engine, deps := newTestRouter(t, 0)
	deps.conversations.On("GetConversation", mock.Anything, "5002").Return(models.Conversation{ID: "5002"}, nil)
	deps.sender.On("Send", mock.Anything, transport.OpChat, mock.Anything, uint64(7)).
		Return(transport.Route(""), transport.ErrDeviceConfirmRequired)
	deps.sender.On("SendDevice", mock.Anything, transport.OpChat, mock.Anything, uint64(7)).
		Return(nil)

	recorder := doJSON(engine, http.MethodPost, "/conversations/5002/messages", gin.H{"content": "hello"})
	require.Equal(t, http.StatusConflict, recorder.Code)
	var conflict struct {
		ConfirmViaDevice bool `json:"confirm_via_device"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &conflict))
	assert.True(t, conflict.ConfirmViaDevice)

	// The client resends with via_device after the user approves.
	recorder = doJSON(engine, http.MethodPost, "/conversations/5002/messages", gin.H{"content": "hello", "via_device": true})
	require.Equal(t, http.StatusCreated, recorder.Code)
	deps.sender.AssertCalled(t, "SendDevice", mock.Anything, transport.OpChat, mock.Anything, uint64(7))
}

func TestPostMessageValidation(t *testing.T) {
	engine, deps := newTestRouter(t, 0)
	deps.conversations.On("GetConversation", mock.Anything, "5002").Return(models.Conversation{ID: "5002"}, nil)

	recorder := doJSON(engine, http.MethodPost, "/conversations/5002/messages", gin.H{"content": ""})
	assert.Equal(t, http.StatusBadRequest, recorder.Code, "chat needs content")

	sosKind := int(models.KindSOS)
	recorder = doJSON(engine, http.MethodPost, "/conversations/5002/messages", gin.H{"kind": sosKind})
	assert.Equal(t, http.StatusBadRequest, recorder.Code, "sos needs a location")

	deps.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPostMessageUnavailable(t *testing.T) {
	engine, deps := newTestRouter(t, 0)
	deps.conversations.On("GetConversation", mock.Anything, "5002").Return(models.Conversation{ID: "5002"}, nil)
	deps.sender.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(transport.Route(""), transport.ErrTransportUnavailable)

	recorder := doJSON(engine, http.MethodPost, "/conversations/5002/messages", gin.H{"content": "hello"})
	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
}

func TestPostSOSRoutesWithoutPrompt(t *testing.T) {
	engine, deps := newTestRouter(t, 0)
	deps.conversations.On("GetConversation", mock.Anything, "5002").Return(models.Conversation{ID: "5002"}, nil)
	deps.sender.On("Send", mock.Anything, transport.OpSOS, mock.Anything, uint64(7)).
		Return(transport.RouteDevice, nil)

	recorder := doJSON(engine, http.MethodPost, "/conversations/5002/messages", gin.H{
		"kind":     int(models.KindSOS),
		"location": gin.H{"longitude": 116.397455, "latitude": 39.909187, "reported_at": 1700000000},
	})
	require.Equal(t, http.StatusCreated, recorder.Code)
	deps.sender.AssertExpectations(t)
}

func TestRequestLocationFulfilled(t *testing.T) {
	engine, deps := newTestRouter(t, time.Second)
	deps.conversations.On("GetConversation", mock.Anything, "c1").Return(models.Conversation{ID: "c1"}, nil)
	deps.sender.On("Send", mock.Anything, transport.OpLocationRequest, mock.Anything, uint64(7)).
		Return(transport.RouteNetwork, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		deps.coordinator.HandleInbound(context.Background(), models.Message{
			ID:             "r1",
			ConversationID: "c1",
			Sender:         models.SenderSnapshot{ID: "peer"},
			Content:        location.ContentResponse,
			Kind:           models.KindLocation,
			Location:       &models.Location{Longitude: 3, Latitude: 4, ReportedAt: 1700000001},
		})
	}()

	recorder := doJSON(engine, http.MethodPost, "/conversations/c1/location-request", nil)

	require.Equal(t, http.StatusOK, recorder.Code)
	var body struct {
		Message models.Message `json:"message"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, "peer", body.Message.Sender.ID)
	require.NotNil(t, body.Message.Location)
}

func TestRequestLocationTimesOut(t *testing.T) {
	engine, deps := newTestRouter(t, 20*time.Millisecond)
	deps.conversations.On("GetConversation", mock.Anything, "c1").Return(models.Conversation{ID: "c1"}, nil)
	deps.sender.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(transport.RouteNetwork, nil)

	recorder := doJSON(engine, http.MethodPost, "/conversations/c1/location-request", nil)
	assert.Equal(t, http.StatusGatewayTimeout, recorder.Code)
}

func TestRequestLocationConflict(t *testing.T) {
	engine, deps := newTestRouter(t, time.Minute)
	deps.conversations.On("GetConversation", mock.Anything, "c1").Return(models.Conversation{ID: "c1"}, nil)
	deps.sender.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(transport.RouteNetwork, nil)

	_, err := deps.coordinator.Request(context.Background(), "c1")
	require.NoError(t, err)

	recorder := doJSON(engine, http.MethodPost, "/conversations/c1/location-request", nil)
	assert.Equal(t, http.StatusConflict, recorder.Code)
}

func TestSyncHistory(t *testing.T) {
	engine, deps := newTestRouter(t, 0)
	deps.history.On("Sync", mock.Anything, "c1", 2, 25).Return([]models.Message{{ID: "m1"}}, nil)

	recorder := doJSON(engine, http.MethodPost, "/conversations/c1/history-sync", gin.H{"page": 2, "page_size": 25})
	require.Equal(t, http.StatusOK, recorder.Code)
	deps.history.AssertExpectations(t)
}

func TestSyncHistoryDefaultsPaging(t *testing.T) {
	engine, deps := newTestRouter(t, 0)
	deps.history.On("Sync", mock.Anything, "c1", 1, 50).Return(nil, nil)

	recorder := doJSON(engine, http.MethodPost, "/conversations/c1/history-sync", gin.H{})
	require.Equal(t, http.StatusOK, recorder.Code)
	deps.history.AssertExpectations(t)
}

func TestSyncHistoryBusinessError(t *testing.T) {
	engine, deps := newTestRouter(t, 0)
	deps.history.On("Sync", mock.Anything, "c1", 1, 50).
		Return(nil, &transport.BusinessError{Code: "B0301", Message: "history unavailable"})

	recorder := doJSON(engine, http.MethodPost, "/conversations/c1/history-sync", gin.H{})
	assert.Equal(t, http.StatusBadGateway, recorder.Code)
}
