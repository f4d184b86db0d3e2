package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"teamlink/internal/models"
	"teamlink/internal/observability"
	"teamlink/internal/wire"
)

// Operation names an outbound user action for routing policy purposes.
type Operation string

const (
	OpChat             Operation = "chat"
	OpSafetyCheck      Operation = "safety_check"
	OpSOS              Operation = "sos"
	OpLocationRequest  Operation = "location_request"
	OpLocationResponse Operation = "location_response"
)

// Route identifies the transport a message was sent over.
type Route string

const (
	RouteNetwork Route = "network"
	RouteDevice  Route = "device"
)

var (
	// ErrTransportUnavailable means neither transport is ready. The caller
	// should prompt the user to connect the device or check the network.
	ErrTransportUnavailable = errors.New("no transport available: connect the companion device or check your network")
	// ErrDeviceConfirmRequired means the network is down and the device
	// channel is up, but this operation wants explicit user confirmation
	// before using the device. Confirm by calling SendDevice.
	ErrDeviceConfirmRequired = errors.New("network unavailable: confirm sending over the companion device")
)

// Config tunes the router. ConfirmDeviceFallback lists the operations that
// interpose a user confirmation before falling back to the device channel;
// operations absent from the map fall back silently.
type Config struct {
	ConfirmDeviceFallback map[Operation]bool
}

// DefaultConfig mirrors the shipped behavior: chats and location requests
// prompt before using the device, emergency traffic never waits on a prompt.
func DefaultConfig() Config {
	return Config{
		ConfirmDeviceFallback: map[Operation]bool{
			OpChat:            true,
			OpLocationRequest: true,
		},
	}
}

// Router picks exactly one transport per outbound message: the network when
// it reports connected, otherwise the device channel. A message is never
// sent over both.
type Router struct {
	network Network
	device  DeviceChannel
	config  Config
}

// NewRouter builds a Router.
func NewRouter(network Network, device DeviceChannel, config Config) *Router {
	return &Router{network: network, device: device, config: config}
}

// Send routes one outbound message. senderShortID is the caller's compact
// team id, used only when the message goes out as a device frame. Returns
// the route taken, or ErrDeviceConfirmRequired / ErrTransportUnavailable.
func (r *Router) Send(ctx context.Context, op Operation, msg models.Message, senderShortID uint64) (Route, error) {
	if r.network.Connected() {
		if err := r.network.Publish(ctx, TopicChatOutbound, msg, ""); err != nil {
			return "", err
		}
		observability.IncMessageSent(string(RouteNetwork), string(op))
		return RouteNetwork, nil
	}

	if r.device.Connected() {
		if r.config.ConfirmDeviceFallback[op] {
			return "", ErrDeviceConfirmRequired
		}
		if err := r.SendDevice(ctx, op, msg, senderShortID); err != nil {
			return "", err
		}
		return RouteDevice, nil
	}

	observability.IncTransportUnavailable()
	return "", ErrTransportUnavailable
}

// SendDevice encodes the message as a device frame and hands it to the
// device channel, bypassing the confirmation check. Callers use it directly
// after the user approves a device fallback.
func (r *Router) SendDevice(ctx context.Context, op Operation, msg models.Message, senderShortID uint64) error {
	if !r.device.Connected() {
		observability.IncTransportUnavailable()
		return ErrTransportUnavailable
	}

	frame, err := FrameFromMessage(msg, senderShortID)
	if err != nil {
		return err
	}
	data, err := wire.Encode(frame)
	if err != nil {
		return err
	}
	if err := r.device.SendOpaqueBytes(data); err != nil {
		return err
	}
	observability.IncMessageSent(string(RouteDevice), string(op))
	return nil
}

// FrameFromMessage converts a canonical message into its wire frame. The
// conversation id must be the numeric id device firmware knows; sos, safety
// and location messages must carry a location payload.
func FrameFromMessage(msg models.Message, senderShortID uint64) (wire.Frame, error) {
	conversationID, err := strconv.ParseUint(msg.ConversationID, 10, 64)
	if err != nil {
		return wire.Frame{}, fmt.Errorf("conversation %q has no numeric device id: %w", msg.ConversationID, err)
	}

	frame := wire.Frame{
		SenderID:       senderShortID,
		ConversationID: conversationID,
		Kind:           msg.Kind,
	}

	if msg.Kind.CarriesLocation() {
		if msg.Location == nil {
			return wire.Frame{}, fmt.Errorf("%s message is missing its location payload", msg.Kind)
		}
		frame.Payload = wire.LocationPayload{
			Longitude: msg.Location.Longitude,
			Latitude:  msg.Location.Latitude,
			Timestamp: msg.Location.ReportedAt,
		}
		return frame, nil
	}

	frame.Payload = wire.TextPayload{
		Timestamp: msg.SentAt / 1000,
		Text:      msg.Content,
	}
	return frame, nil
}
