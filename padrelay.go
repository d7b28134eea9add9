package padrelay

// Snapshot is one poll of a physical gamepad.
//
// Axes are normalized to [-1, 1], triggers to [0, 1] and every hat is an
// (x, y) pair with components in {-1, 0, 1}.
type Snapshot struct {
	Buttons  []bool
	Axes     []float64
	Hats     [][2]int
	Triggers []float64
}

// InputSource produces gamepad snapshots on the client side.
//
// Example usage:
//
//	src, err := input.OpenJoystick(0, logger)
//	if err != nil {
//	    return err
//	}
//	defer src.Close()
//
//	if snap, ok := src.Poll(); ok {
//	    // send snap
//	}
type InputSource interface {
	// Poll returns the current state of the device. The boolean is false
	// when no snapshot is available (device not ready, read error).
	Poll() (Snapshot, bool)

	// Close releases the device. It is called once when the client shuts down.
	Close() error
}

// Button is the native identifier a GamepadSink uses for one of its buttons,
// for example "XUSB_GAMEPAD_A" or "DS4_BUTTON_CROSS".
type Button string

// GamepadSink is the virtual gamepad on the server side.
//
// Setters stage changes; nothing is visible to the host until Commit is
// called. ResetToNeutral releases every button, centers both sticks, zeroes
// both triggers and commits. It may be called concurrently with a session
// that is starting up.
type GamepadSink interface {
	// PressButton stages a button press.
	PressButton(b Button)

	// ReleaseButton stages a button release.
	ReleaseButton(b Button)

	// SetLeftStick stages the left stick position, both axes in [-1, 1].
	SetLeftStick(x, y float64)

	// SetRightStick stages the right stick position, both axes in [-1, 1].
	SetRightStick(x, y float64)

	// SetLeftTrigger stages the left trigger value in [0, 1].
	SetLeftTrigger(v float64)

	// SetRightTrigger stages the right trigger value in [0, 1].
	SetRightTrigger(v float64)

	// Commit applies all staged changes.
	Commit() error

	// ResetToNeutral returns the device to its idle state.
	ResetToNeutral() error

	// ButtonFor maps a client button index to the sink's native identifier.
	// The boolean is false for indices the sink does not map.
	ButtonFor(index int) (Button, bool)
}

// Transport selects how client and server talk to each other.
type Transport string

const (
	// TransportTCP is a length-prefixed JSON stream over TCP, optionally TLS.
	TransportTCP Transport = "tcp"
	// TransportUDP carries one JSON message per datagram with token auth.
	TransportUDP Transport = "udp"
	// TransportQUIC is a length-prefixed JSON stream over one QUIC stream.
	TransportQUIC Transport = "quic"
	// TransportWebSocket carries one JSON message per WebSocket message.
	TransportWebSocket Transport = "ws"
)

// IsStream reports whether t is a reliable, ordered transport that uses the
// challenge-response handshake.
func (t Transport) IsStream() bool {
	switch t {
	case TransportTCP, TransportQUIC, TransportWebSocket:
		return true
	}
	return false
}

// Valid reports whether t is a known transport.
func (t Transport) Valid() bool {
	return t == TransportUDP || t.IsStream()
}
