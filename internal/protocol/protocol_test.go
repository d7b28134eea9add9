package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

// TestEncodeFrame tests the EncodeFrame function with various inputs
func TestEncodeFrame(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		payload   []byte
		wantError bool
	}{
		{name: "simple payload", payload: []byte(`{"type":"heartbeat"}`)},
		{name: "empty payload", payload: []byte{}},
		{name: "nil payload", payload: nil},
		{name: "payload at max size", payload: make([]byte, maxPayloadSize)},
		{name: "payload exceeds max size", payload: make([]byte, maxPayloadSize+1), wantError: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result, err := EncodeFrame(tt.payload)
			if (err != nil) != tt.wantError {
				t.Fatalf("EncodeFrame() error = %v, wantError %v", err, tt.wantError)
			}
			if tt.wantError {
				if !errors.Is(err, ErrMessageTooLarge) {
					t.Errorf("EncodeFrame() error = %v, want ErrMessageTooLarge", err)
				}
				return
			}

			if len(result) != headerSize+len(tt.payload) {
				t.Fatalf("EncodeFrame() length = %d, want %d", len(result), headerSize+len(tt.payload))
			}
			if got := binary.BigEndian.Uint32(result[:headerSize]); got != uint32(len(tt.payload)) {
				t.Errorf("EncodeFrame() header = %d, want %d", got, len(tt.payload))
			}
			if !bytes.Equal(result[headerSize:], tt.payload) {
				t.Errorf("EncodeFrame() body mismatch")
			}
		})
	}
}

func TestEncodeFrameLayout(t *testing.T) {
	t.Parallel()

	got, err := EncodeFrame([]byte("abc"))
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	want := []byte{0x00, 0x00, 0x00, 0x03, 'a', 'b', 'c'}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeFrame() = %v, want %v", got, want)
	}
}

// TestDecodeFrame tests the DecodeFrame function with various inputs
func TestDecodeFrame(t *testing.T) {
	t.Parallel()

	oversize := make([]byte, headerSize)
	binary.BigEndian.PutUint32(oversize, maxPayloadSize+1)

	tests := []struct {
		name    string
		data    []byte
		want    []byte
		wantErr error
	}{
		{name: "valid frame", data: []byte{0, 0, 0, 2, 'h', 'i'}, want: []byte("hi")},
		{name: "empty body", data: []byte{0, 0, 0, 0}, want: []byte{}},
		{name: "too short", data: []byte{0, 0}},
		{name: "length mismatch", data: []byte{0, 0, 0, 5, 'h', 'i'}},
		{name: "oversize header", data: oversize, wantErr: ErrMessageTooLarge},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := DecodeFrame(tt.data)
			if tt.want == nil {
				if err == nil {
					t.Fatalf("DecodeFrame() expected error")
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("DecodeFrame() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeFrame() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("DecodeFrame() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadFrame(t *testing.T) {
	t.Parallel()

	t.Run("two frames back to back", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteFrame(&buf, []byte("one")); err != nil {
			t.Fatal(err)
		}
		if err := WriteFrame(&buf, []byte("two")); err != nil {
			t.Fatal(err)
		}

		for _, want := range []string{"one", "two"} {
			got, err := ReadFrame(&buf)
			if err != nil {
				t.Fatalf("ReadFrame() error = %v", err)
			}
			if string(got) != want {
				t.Errorf("ReadFrame() = %q, want %q", got, want)
			}
		}
		if _, err := ReadFrame(&buf); err != io.EOF {
			t.Errorf("ReadFrame() on drained stream error = %v, want io.EOF", err)
		}
	})

	t.Run("truncated header", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0, 0}))
		if err != io.EOF {
			t.Errorf("ReadFrame() error = %v, want io.EOF", err)
		}
	})

	t.Run("truncated body", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 10, 'x'}))
		if err != io.EOF {
			t.Errorf("ReadFrame() error = %v, want io.EOF", err)
		}
	})

	t.Run("oversize length", func(t *testing.T) {
		header := make([]byte, headerSize)
		binary.BigEndian.PutUint32(header, 1<<20)
		_, err := ReadFrame(bytes.NewReader(header))
		if !errors.Is(err, ErrMessageTooLarge) {
			t.Errorf("ReadFrame() error = %v, want ErrMessageTooLarge", err)
		}
	})
}

func TestWriteReadMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	in := &Input{
		Buttons: []bool{true, false},
		Axes:    []float64{0.5, -1},
		Hats:    [][]int{{0, 1}},
	}
	if err := WriteMessage(&buf, in); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	m, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	got, ok := m.(*Input)
	if !ok {
		t.Fatalf("ReadMessage() type = %T, want *Input", m)
	}
	if len(got.Buttons) != 2 || !got.Buttons[0] || got.Axes[0] != 0.5 || got.Hats[0][1] != 1 {
		t.Errorf("ReadMessage() = %+v", got)
	}
}

func TestDatagram(t *testing.T) {
	t.Parallel()

	data, err := EncodeDatagram(&Heartbeat{AuthToken: "abc"})
	if err != nil {
		t.Fatalf("EncodeDatagram() error = %v", err)
	}
	m, err := DecodeDatagram(data)
	if err != nil {
		t.Fatalf("DecodeDatagram() error = %v", err)
	}
	hb, ok := m.(*Heartbeat)
	if !ok || hb.AuthToken != "abc" {
		t.Errorf("DecodeDatagram() = %#v", m)
	}

	big := &Input{Buttons: make([]bool, maxPayloadSize)}
	if _, err := EncodeDatagram(big); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("EncodeDatagram(oversize) error = %v, want ErrMessageTooLarge", err)
	}
	if _, err := DecodeDatagram(make([]byte, maxPayloadSize+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("DecodeDatagram(oversize) error = %v, want ErrMessageTooLarge", err)
	}
}

// BenchmarkEncodeFrame benchmarks frame encoding
func BenchmarkEncodeFrame(b *testing.B) {
	payload := []byte(`{"type":"input","protocol_version":"1.0","buttons":[true,false],"axes":[0.5,0.5],"hats":[[0,0]]}`)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = EncodeFrame(payload)
	}
}
