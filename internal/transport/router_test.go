package transport_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamlink/internal/mocks"
	"teamlink/internal/models"
	"teamlink/internal/transport"
	"teamlink/internal/wire"
)

func chatMessage() models.Message {
	return models.Message{
		ID:             "m1",
		ConversationID: "5002",
		Sender:         models.SenderSnapshot{ID: "u1", Nickname: "alice"},
		Content:        "hello",
		SentAt:         1700000001000,
		Kind:           models.KindChat,
	}
}

func TestSendPrefersNetwork(t *testing.T) {
	network := mocks.NewFakeNetwork(true)
	device := mocks.NewFakeDevice(true)
	router := transport.NewRouter(network, device, transport.DefaultConfig())

	route, err := router.Send(context.Background(), transport.OpChat, chatMessage(), 7)
	require.NoError(t, err)

	assert.Equal(t, transport.RouteNetwork, route)
	assert.Len(t, network.Published, 1)
	assert.Equal(t, transport.TopicChatOutbound, network.Published[0].Topic)
	assert.Empty(t, device.Sent)
}

func TestSendFallsBackToDevice(t *testing.T) {
	network := mocks.NewFakeNetwork(false)
	device := mocks.NewFakeDevice(true)
	// No confirmation flags: fallback happens silently.
	router := transport.NewRouter(network, device, transport.Config{})

	route, err := router.Send(context.Background(), transport.OpChat, chatMessage(), 7)
	require.NoError(t, err)

	assert.Equal(t, transport.RouteDevice, route)
	assert.Empty(t, network.Published)
	require.Len(t, device.Sent, 1)

	frame, err := wire.Decode(device.Sent[0])
	require.NoError(t, err)
	assert.Equal(t, uint64(7), frame.SenderID)
	assert.Equal(t, uint64(5002), frame.ConversationID)
	assert.Equal(t, "hello", frame.Payload.(wire.TextPayload).Text)
}

func TestSendRequiresConfirmation(t *testing.T) {
	network := mocks.NewFakeNetwork(false)
	device := mocks.NewFakeDevice(true)
	router := transport.NewRouter(network, device, transport.DefaultConfig())

	_, err := router.Send(context.Background(), transport.OpChat, chatMessage(), 7)
	require.ErrorIs(t, err, transport.ErrDeviceConfirmRequired)
	assert.Empty(t, device.Sent)

	// The explicit confirmation path sends exactly once.
	require.NoError(t, router.SendDevice(context.Background(), transport.OpChat, chatMessage(), 7))
	assert.Len(t, device.Sent, 1)
	assert.Empty(t, network.Published)
}

func TestSOSNeverWaitsForConfirmation(t *testing.T) {
	network := mocks.NewFakeNetwork(false)
	device := mocks.NewFakeDevice(true)
	router := transport.NewRouter(network, device, transport.DefaultConfig())

	msg := chatMessage()
	msg.Kind = models.KindSOS
	msg.Content = ""
	msg.Location = &models.Location{Longitude: 116.397455, Latitude: 39.909187, ReportedAt: 1700000000}

	route, err := router.Send(context.Background(), transport.OpSOS, msg, 7)
	require.NoError(t, err)
	assert.Equal(t, transport.RouteDevice, route)
	require.Len(t, device.Sent, 1)
	assert.Len(t, device.Sent[0], 24)
}

func TestSendUnavailable(t *testing.T) {
	network := mocks.NewFakeNetwork(false)
	device := mocks.NewFakeDevice(false)
	router := transport.NewRouter(network, device, transport.DefaultConfig())

	_, err := router.Send(context.Background(), transport.OpChat, chatMessage(), 7)
	require.ErrorIs(t, err, transport.ErrTransportUnavailable)
	assert.Empty(t, network.Published)
	assert.Empty(t, device.Sent)
}

func TestSendDeviceUnavailable(t *testing.T) {
	router := transport.NewRouter(mocks.NewFakeNetwork(false), mocks.NewFakeDevice(false), transport.Config{})
	err := router.SendDevice(context.Background(), transport.OpChat, chatMessage(), 7)
	require.ErrorIs(t, err, transport.ErrTransportUnavailable)
}

func TestFrameFromMessage(t *testing.T) {
	msg := chatMessage()
	frame, err := transport.FrameFromMessage(msg, 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), frame.SenderID)
	assert.Equal(t, wire.TextPayload{Timestamp: 1700000001, Text: "hello"}, frame.Payload)

	msg.ConversationID = "not-numeric"
	_, err = transport.FrameFromMessage(msg, 9)
	require.Error(t, err)

	msg = chatMessage()
	msg.Kind = models.KindSafety
	_, err = transport.FrameFromMessage(msg, 9)
	require.Error(t, err, "location kinds need a payload")

	msg.Location = &models.Location{Longitude: 1, Latitude: 2, ReportedAt: 3}
	frame, err = transport.FrameFromMessage(msg, 9)
	require.NoError(t, err)
	assert.Equal(t, wire.LocationPayload{Longitude: 1, Latitude: 2, Timestamp: 3}, frame.Payload)
}
