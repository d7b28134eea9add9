package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/luciancaetano/padrelay"
)

const (
	headerSize     = 4
	maxPayloadSize = padrelay.MaxMessageSize
)

var (
	// ErrMessageTooLarge is returned for frames or datagrams above MaxMessageSize.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrMalformed is returned when a body is not a valid protocol message.
	ErrMalformed = errors.New("malformed message")
	// ErrVersionMismatch is returned when protocol_version is not ProtocolVersion.
	ErrVersionMismatch = errors.New("protocol version mismatch")
	// ErrUnknownType is returned for a well-formed message with an unknown type tag.
	ErrUnknownType = errors.New("unknown message type")
	// ErrFieldType is returned for a well-formed message whose fields have the
	// wrong JSON types. Unlike ErrMalformed the stream is still in sync.
	ErrFieldType = errors.New("wrong field type")
)

// EncodeFrame prefixes payload with its length as a 4-byte big-endian integer.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > maxPayloadSize {
		return nil, fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrMessageTooLarge, len(payload), maxPayloadSize)
	}

	out := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(out[:headerSize], uint32(len(payload)))
	copy(out[headerSize:], payload)
	return out, nil
}

// DecodeFrame decodes one complete frame held in data and returns its body.
// The body slice references data - do not modify it.
func DecodeFrame(data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, errors.New("data too short")
	}

	size := binary.BigEndian.Uint32(data[:headerSize])
	if size > maxPayloadSize {
		return nil, fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrMessageTooLarge, size, maxPayloadSize)
	}
	if int(size) != len(data)-headerSize {
		return nil, fmt.Errorf("frame length %d does not match payload of %d bytes", size, len(data)-headerSize)
	}
	return data[headerSize:], nil
}

// ReadFrame reads one length-prefixed frame from r.
//
// End of stream, including a stream cut in the middle of a frame, is reported
// as io.EOF. A declared length above MaxMessageSize returns ErrMessageTooLarge
// without reading the body; the caller is expected to drop the connection.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, normalizeEOF(err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > maxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, normalizeEOF(err)
	}
	return body, nil
}

// WriteFrame writes payload to w as a single length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadMessage reads and decodes one framed message.
func ReadMessage(r io.Reader) (Message, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return Unmarshal(body)
}

// WriteMessage encodes m and writes it as one frame.
func WriteMessage(w io.Writer, m Message) error {
	body, err := Marshal(m)
	if err != nil {
		return err
	}
	return WriteFrame(w, body)
}

// EncodeDatagram encodes m as a UDP payload, refusing anything that would not
// fit in MaxMessageSize.
func EncodeDatagram(m Message) ([]byte, error) {
	body, err := Marshal(m)
	if err != nil {
		return nil, err
	}
	if len(body) > maxPayloadSize {
		return nil, fmt.Errorf("%w: datagram of %d bytes", ErrMessageTooLarge, len(body))
	}
	return body, nil
}

// DecodeDatagram decodes a UDP payload.
func DecodeDatagram(data []byte) (Message, error) {
	if len(data) > maxPayloadSize {
		return nil, fmt.Errorf("%w: datagram of %d bytes", ErrMessageTooLarge, len(data))
	}
	return Unmarshal(data)
}

func normalizeEOF(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}
