package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/luciancaetano/padrelay"
)

// MessageType is the "type" tag of a protocol message.
type MessageType string

const (
	TypeInput             MessageType = "input"
	TypeHeartbeat         MessageType = "heartbeat"
	TypeHeartbeatAck      MessageType = "heartbeat_ack"
	TypeAuthChallenge     MessageType = "auth_challenge"
	TypeAuthResponse      MessageType = "auth_response"
	TypeAuthSuccess       MessageType = "auth_success"
	TypeAuthFailed        MessageType = "auth_failed"
	TypeAuthParamsRequest MessageType = "auth_params_request"
	TypeAuthParams        MessageType = "auth_params"
	TypeError             MessageType = "error"
)

// Header holds the fields every message carries.
type Header struct {
	Type            MessageType `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Timestamp       string      `json:"timestamp,omitempty"`
}

func (h *Header) header() *Header { return h }

// Stamp sets the timestamp to t in RFC 3339 format with nanoseconds.
func (h *Header) Stamp(t time.Time) {
	h.Timestamp = t.Format(time.RFC3339Nano)
}

// Message is one of the variants below. The set is closed: decoding maps the
// type tag to its variant and rejects anything else.
type Message interface {
	Type() MessageType
	header() *Header
}

// Input carries one gamepad snapshot.
type Input struct {
	Header
	Buttons   []bool    `json:"buttons"`
	Axes      []float64 `json:"axes"`
	Hats      [][]int   `json:"hats"`
	Triggers  []float64 `json:"triggers,omitempty"`
	AuthToken string    `json:"auth_token,omitempty"`
}

// Heartbeat is a liveness check; over UDP it carries an auth token.
type Heartbeat struct {
	Header
	AuthToken string `json:"auth_token,omitempty"`
}

// HeartbeatAck answers a Heartbeat.
type HeartbeatAck struct {
	Header
}

// AuthChallenge starts the stream handshake. Salt and Iterations announce the
// server's key derivation parameters.
type AuthChallenge struct {
	Header
	Challenge  string `json:"challenge"`
	Salt       string `json:"salt,omitempty"`
	Iterations int    `json:"iterations,omitempty"`
}

// AuthResponse carries the HMAC of the challenge.
type AuthResponse struct {
	Header
	Response string `json:"response"`
}

// AuthSuccess ends a successful handshake.
type AuthSuccess struct {
	Header
}

// AuthFailed ends a failed handshake.
type AuthFailed struct {
	Header
	Message string `json:"message,omitempty"`
}

// AuthParamsRequest asks a UDP server for its key derivation parameters.
type AuthParamsRequest struct {
	Header
}

// AuthParams answers an AuthParamsRequest.
type AuthParams struct {
	Header
	Salt       string `json:"salt"`
	Iterations int    `json:"iterations"`
}

// Error reports a protocol level problem to the peer.
type Error struct {
	Header
	Message string `json:"message,omitempty"`
}

func (*Input) Type() MessageType             { return TypeInput }
func (*Heartbeat) Type() MessageType         { return TypeHeartbeat }
func (*HeartbeatAck) Type() MessageType      { return TypeHeartbeatAck }
func (*AuthChallenge) Type() MessageType     { return TypeAuthChallenge }
func (*AuthResponse) Type() MessageType      { return TypeAuthResponse }
func (*AuthSuccess) Type() MessageType       { return TypeAuthSuccess }
func (*AuthFailed) Type() MessageType        { return TypeAuthFailed }
func (*AuthParamsRequest) Type() MessageType { return TypeAuthParamsRequest }
func (*AuthParams) Type() MessageType        { return TypeAuthParams }
func (*Error) Type() MessageType             { return TypeError }

func newMessage(t MessageType) Message {
	switch t {
	case TypeInput:
		return &Input{}
	case TypeHeartbeat:
		return &Heartbeat{}
	case TypeHeartbeatAck:
		return &HeartbeatAck{}
	case TypeAuthChallenge:
		return &AuthChallenge{}
	case TypeAuthResponse:
		return &AuthResponse{}
	case TypeAuthSuccess:
		return &AuthSuccess{}
	case TypeAuthFailed:
		return &AuthFailed{}
	case TypeAuthParamsRequest:
		return &AuthParamsRequest{}
	case TypeAuthParams:
		return &AuthParams{}
	case TypeError:
		return &Error{}
	}
	return nil
}

// Marshal encodes m as JSON. The type tag is always taken from the variant and
// an empty protocol version is filled with ProtocolVersion.
func Marshal(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%s: nil message", padrelay.ErrFailedToEncode)
	}
	h := m.header()
	h.Type = m.Type()
	if h.ProtocolVersion == "" {
		h.ProtocolVersion = padrelay.ProtocolVersion
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", padrelay.ErrFailedToEncode, err)
	}
	return data, nil
}

// Unmarshal decodes a JSON body into its message variant.
//
// The version is checked before the body is decoded into a variant, so a
// message from a different protocol version is never partially applied.
func Unmarshal(data []byte) (Message, error) {
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if h.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if h.ProtocolVersion != padrelay.ProtocolVersion {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrVersionMismatch, h.ProtocolVersion, padrelay.ProtocolVersion)
	}

	m := newMessage(h.Type)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, h.Type)
	}
	if err := json.Unmarshal(data, m); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, h.Type, err)
		}
		if h.Type == TypeInput {
			return nil, fmt.Errorf("%w: %w: %v", ErrInvalidInput, ErrFieldType, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrFieldType, h.Type, err)
	}
	return m, nil
}

// NewInput builds an input message from a snapshot.
func NewInput(s padrelay.Snapshot) *Input {
	in := &Input{
		Buttons: s.Buttons,
		Axes:    s.Axes,
		Hats:    make([][]int, len(s.Hats)),
	}
	if in.Buttons == nil {
		in.Buttons = []bool{}
	}
	if in.Axes == nil {
		in.Axes = []float64{}
	}
	for i, h := range s.Hats {
		in.Hats[i] = []int{h[0], h[1]}
	}
	if len(s.Triggers) > 0 {
		in.Triggers = s.Triggers
	}
	return in
}
