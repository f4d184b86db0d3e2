package location_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"teamlink/internal/location"
	"teamlink/internal/mocks"
	"teamlink/internal/models"
	"teamlink/internal/transport"
)

var testSelf = location.Self{
	Snapshot: models.SenderSnapshot{ID: "me", Nickname: "self"},
	ShortID:  7,
}

func fixedPosition(ctx context.Context) (models.Location, error) {
	return models.Location{Longitude: 116.397455, Latitude: 39.909187, ReportedAt: 1700000000}, nil
}

func peerResponse(conversationID string) models.Message {
	return models.Message{
		ID:             "r1",
		ConversationID: conversationID,
		Sender:         models.SenderSnapshot{ID: "peer"},
		Content:        location.ContentResponse,
		SentAt:         1700000002000,
		Kind:           models.KindLocation,
		Location:       &models.Location{Longitude: 1, Latitude: 2, ReportedAt: 1700000002},
	}
}

func TestRequestAndFulfill(t *testing.T) {
	sender := new(mocks.SenderMock)
	sender.On("Send", mock.Anything, transport.OpLocationRequest, mock.Anything, uint64(7)).
		Return(transport.RouteNetwork, nil)
	coordinator := location.NewCoordinator(sender, testSelf, fixedPosition, location.Config{})

	pending, err := coordinator.Request(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, location.StateRequested, coordinator.StateOf("c1"))

	coordinator.HandleInbound(context.Background(), peerResponse("c1"))

	select {
	case result := <-pending.Done:
		require.NoError(t, result.Err)
		assert.Equal(t, "peer", result.Message.Sender.ID)
		require.NotNil(t, result.Message.Location)
	case <-time.After(time.Second):
		t.Fatal("request was not fulfilled")
	}
	assert.Equal(t, location.StateFulfilled, coordinator.StateOf("c1"))
	sender.AssertExpectations(t)
}

func TestRequestCarriesOwnPosition(t *testing.T) {
	sender := new(mocks.SenderMock)
	var sent models.Message
	sender.On("Send", mock.Anything, transport.OpLocationRequest, mock.Anything, uint64(7)).
		Run(func(args mock.Arguments) { sent = args.Get(2).(models.Message) }).
		Return(transport.RouteNetwork, nil)
	coordinator := location.NewCoordinator(sender, testSelf, fixedPosition, location.Config{})

	_, err := coordinator.Request(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, location.ContentRequest, sent.Content)
	assert.Equal(t, models.KindLocation, sent.Kind)
	require.NotNil(t, sent.Location)
	assert.InDelta(t, 116.397455, sent.Location.Longitude, 1e-9)
}

func TestRequestTimesOut(t *testing.T) {
	sender := new(mocks.SenderMock)
	sender.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(transport.RouteNetwork, nil)
	coordinator := location.NewCoordinator(sender, testSelf, fixedPosition, location.Config{Timeout: 20 * time.Millisecond})

	pending, err := coordinator.Request(context.Background(), "c1")
	require.NoError(t, err)

	select {
	case result := <-pending.Done:
		require.ErrorIs(t, result.Err, location.ErrTimeout)
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}
	assert.Equal(t, location.StateTimedOut, coordinator.StateOf("c1"))
}

func TestCancelSuppressesCompletion(t *testing.T) {
	sender := new(mocks.SenderMock)
	sender.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(transport.RouteNetwork, nil)
	coordinator := location.NewCoordinator(sender, testSelf, fixedPosition, location.Config{Timeout: 20 * time.Millisecond})

	pending, err := coordinator.Request(context.Background(), "c1")
	require.NoError(t, err)
	pending.Cancel()
	assert.Equal(t, location.StateAbandoned, coordinator.StateOf("c1"))

	// Neither a late reply nor the timer may complete an abandoned request.
	coordinator.HandleInbound(context.Background(), peerResponse("c1"))
	select {
	case <-pending.Done:
		t.Fatal("abandoned request completed")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSecondRequestConflicts(t *testing.T) {
	sender := new(mocks.SenderMock)
	sender.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(transport.RouteNetwork, nil)
	coordinator := location.NewCoordinator(sender, testSelf, fixedPosition, location.Config{})

	_, err := coordinator.Request(context.Background(), "c1")
	require.NoError(t, err)

	_, err = coordinator.Request(context.Background(), "c1")
	require.ErrorIs(t, err, location.ErrRequestOutstanding)

	// Other conversations are unaffected.
	_, err = coordinator.Request(context.Background(), "c2")
	require.NoError(t, err)
}

func TestConfirmRequiredLeavesNoPendingState(t *testing.T) {
	sender := new(mocks.SenderMock)
	sender.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(transport.Route(""), transport.ErrDeviceConfirmRequired)
	sender.On("SendDevice", mock.Anything, transport.OpLocationRequest, mock.Anything, uint64(7)).
		Return(nil)
	coordinator := location.NewCoordinator(sender, testSelf, fixedPosition, location.Config{})

	_, err := coordinator.Request(context.Background(), "c1")
	require.ErrorIs(t, err, transport.ErrDeviceConfirmRequired)
	assert.Equal(t, location.StateIdle, coordinator.StateOf("c1"))

	// After the user confirms, the device path tracks the request and the
	// discriminator rides a quick-command message.
	pending, err := coordinator.RequestViaDevice(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, location.StateRequested, coordinator.StateOf("c1"))

	sent := sender.Calls[len(sender.Calls)-1].Arguments.Get(2).(models.Message)
	assert.Equal(t, models.KindQuickCommand, sent.Kind)
	assert.Equal(t, location.ContentRequest, sent.Content)
}

func TestAutoReplyToPeerRequest(t *testing.T) {
	sender := new(mocks.SenderMock)
	var reply models.Message
	sender.On("Send", mock.Anything, transport.OpLocationResponse, mock.Anything, uint64(7)).
		Run(func(args mock.Arguments) { reply = args.Get(2).(models.Message) }).
		Return(transport.RouteNetwork, nil)
	coordinator := location.NewCoordinator(sender, testSelf, fixedPosition, location.Config{})

	request := peerResponse("c1")
	request.Content = location.ContentRequest
	coordinator.HandleInbound(context.Background(), request)

	sender.AssertExpectations(t)
	assert.Equal(t, location.ContentResponse, reply.Content)
	assert.Equal(t, models.KindLocation, reply.Kind)
	require.NotNil(t, reply.Location)
	assert.InDelta(t, 39.909187, reply.Location.Latitude, 1e-9)
}

func TestOwnMessagesIgnored(t *testing.T) {
	sender := new(mocks.SenderMock)
	coordinator := location.NewCoordinator(sender, testSelf, fixedPosition, location.Config{})

	echo := peerResponse("c1")
	echo.Sender = testSelf.Snapshot
	echo.Content = location.ContentRequest
	coordinator.HandleInbound(context.Background(), echo)

	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
