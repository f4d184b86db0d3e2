package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"teamlink/internal/models"
)

// ProtocolVersion is the frame version understood by deployed tracker
// firmware. Frames carrying any other version byte are rejected.
const ProtocolVersion byte = 6

const (
	headerLen        = 18 // version + sender + conversation + kind
	locationFrameLen = 24
	textMetaLen      = 6 // timestamp + declared length
	degreeScale      = 1e7
)

var (
	ErrFrameTooShort      = errors.New("device frame too short")
	ErrUnsupportedVersion = errors.New("unsupported device protocol version")
)

// Frame is the ephemeral wire-level representation of one device message.
// It exists only during encode/decode and is never persisted.
type Frame struct {
	SenderID       uint64
	ConversationID uint64
	Kind           models.MessageKind
	Payload        Payload
}

// Payload is the kind-dependent tail of a frame.
type Payload interface {
	appendTo(dst []byte) []byte
}

// LocationPayload is carried by sos, safety and location frames. Longitude
// and latitude are degrees; the wire stores them as signed 32-bit
// degrees x 10^7, so round-tripping loses at most 0.5e-7 degrees.
type LocationPayload struct {
	Longitude float64
	Latitude  float64
	Timestamp int64 // unix seconds
}

func (p LocationPayload) appendTo(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(int32(math.Round(p.Longitude*degreeScale))))
	dst = binary.BigEndian.AppendUint32(dst, uint32(int32(math.Round(p.Latitude*degreeScale))))
	return binary.BigEndian.AppendUint32(dst, uint32(int32(p.Timestamp)))
}

// TextPayload is carried by every non-location kind. The declared length
// precedes the text on the wire but is not enforced on decode: the firmware
// is trusted and everything after the length field is taken as text.
type TextPayload struct {
	Timestamp int64 // unix seconds
	Text      string
}

func (p TextPayload) appendTo(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(int32(p.Timestamp)))
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(p.Text)))
	return append(dst, p.Text...)
}

// Encode serializes a frame. The payload variant must match the kind's
// branch of the wire layout.
func Encode(f Frame) ([]byte, error) {
	buf := make([]byte, 0, locationFrameLen)
	buf = append(buf, ProtocolVersion)
	buf = binary.BigEndian.AppendUint64(buf, f.SenderID)
	buf = binary.BigEndian.AppendUint64(buf, f.ConversationID)
	buf = append(buf, byte(f.Kind))

	switch payload := f.Payload.(type) {
	case LocationPayload:
		if !f.Kind.CarriesLocation() {
			return nil, fmt.Errorf("kind %s cannot carry a location payload", f.Kind)
		}
		return payload.appendTo(buf), nil
	case TextPayload:
		if f.Kind.CarriesLocation() {
			return nil, fmt.Errorf("kind %s requires a location payload", f.Kind)
		}
		return payload.appendTo(buf), nil
	default:
		return nil, fmt.Errorf("frame has no payload for kind %s", f.Kind)
	}
}

// Decode parses a device frame. Pure; never blocks.
func Decode(data []byte) (Frame, error) {
	if len(data) < headerLen {
		return Frame{}, fmt.Errorf("%w: got %d bytes, need %d", ErrFrameTooShort, len(data), headerLen)
	}
	if data[0] != ProtocolVersion {
		return Frame{}, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, data[0], ProtocolVersion)
	}

	frame := Frame{
		SenderID:       binary.BigEndian.Uint64(data[1:9]),
		ConversationID: binary.BigEndian.Uint64(data[9:17]),
		Kind:           models.MessageKind(data[17]),
	}
	body := data[headerLen:]

	if frame.Kind.CarriesLocation() {
		if len(data) < locationFrameLen {
			return Frame{}, fmt.Errorf("%w: got %d bytes, location frames need %d", ErrFrameTooShort, len(data), locationFrameLen)
		}
		frame.Payload = LocationPayload{
			Longitude: float64(int32(binary.BigEndian.Uint32(body[0:4]))) / degreeScale,
			Latitude:  float64(int32(binary.BigEndian.Uint32(body[4:8]))) / degreeScale,
			Timestamp: int64(int32(binary.BigEndian.Uint32(body[8:12]))),
		}
		return frame, nil
	}

	if len(body) < textMetaLen {
		return Frame{}, fmt.Errorf("%w: got %d bytes, text frames need %d", ErrFrameTooShort, len(data), headerLen+textMetaLen)
	}
	// The 2-byte declared length is read but deliberately not validated
	// against the remaining buffer; the rest of the frame wins.
	_ = binary.BigEndian.Uint16(body[4:6])
	frame.Payload = TextPayload{
		Timestamp: int64(int32(binary.BigEndian.Uint32(body[0:4]))),
		Text:      string(body[textMetaLen:]),
	}
	return frame, nil
}
