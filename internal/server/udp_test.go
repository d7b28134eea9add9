package server

import (
	"net"
	"testing"
	"time"

	"github.com/luciancaetano/padrelay"
	"github.com/luciancaetano/padrelay/internal/auth"
	"github.com/luciancaetano/padrelay/internal/protocol"
	"github.com/luciancaetano/padrelay/internal/transport"
)

func dialUDP(t *testing.T, srv *Server) *net.UDPConn {
	t.Helper()

	conn, err := transport.DialUDP(srv.Addr().String())
	if err != nil {
		t.Fatalf("DialUDP() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendDatagram(t *testing.T, conn *net.UDPConn, m protocol.Message) {
	t.Helper()

	data, err := protocol.EncodeDatagram(m)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
}

// recvDatagram returns the next reply, or nil when none arrives in time.
func recvDatagram(t *testing.T, conn *net.UDPConn, timeout time.Duration) protocol.Message {
	t.Helper()

	buf := make([]byte, padrelay.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	n, err := conn.Read(buf)
	if err != nil {
		if transport.IsTimeout(err) {
			return nil
		}
		t.Fatalf("Read() error = %v", err)
	}
	m, err := protocol.DecodeDatagram(buf[:n])
	if err != nil {
		t.Fatalf("DecodeDatagram() error = %v", err)
	}
	return m
}

func TestUDPHashOnlyBootstrap(t *testing.T) {
	t.Parallel()

	hash, err := auth.HashPassword(testPassword, auth.MinIterations)
	if err != nil {
		t.Fatal(err)
	}
	srv, _ := startTestServer(t, Config{Transport: padrelay.TransportUDP, Password: hash})
	conn := dialUDP(t, srv)

	sendDatagram(t, conn, &protocol.AuthParamsRequest{})
	m := recvDatagram(t, conn, 5*time.Second)
	params, ok := m.(*protocol.AuthParams)
	if !ok {
		t.Fatalf("reply = %T, want *protocol.AuthParams", m)
	}

	client, err := auth.New(testPassword)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.SetParameters(params.Salt, params.Iterations); err != nil {
		t.Fatal(err)
	}
	client.DropPlaintext()

	sendDatagram(t, conn, &protocol.Heartbeat{AuthToken: client.UDPToken(time.Now())})
	if m := recvDatagram(t, conn, 5*time.Second); m == nil || m.Type() != protocol.TypeHeartbeatAck {
		t.Fatalf("reply = %v, want heartbeat_ack", m)
	}
}

func TestUDPPlaintextServerWithholdsParams(t *testing.T) {
	t.Parallel()

	srv, _ := startTestServer(t, Config{Transport: padrelay.TransportUDP, Password: testPassword})
	conn := dialUDP(t, srv)

	sendDatagram(t, conn, &protocol.AuthParamsRequest{})
	if m := recvDatagram(t, conn, 200*time.Millisecond); m != nil {
		t.Fatalf("reply = %s, want none", m.Type())
	}

	// A plaintext client keys its token by the plaintext directly.
	client, err := auth.New(testPassword)
	if err != nil {
		t.Fatal(err)
	}
	sendDatagram(t, conn, &protocol.Heartbeat{AuthToken: client.UDPToken(time.Now())})
	if m := recvDatagram(t, conn, 5*time.Second); m == nil || m.Type() != protocol.TypeHeartbeatAck {
		t.Fatalf("reply = %v, want heartbeat_ack", m)
	}
}

func TestUDPDropsBadToken(t *testing.T) {
	t.Parallel()

	srv, pad := startTestServer(t, Config{Transport: padrelay.TransportUDP, Password: testPassword})
	conn := dialUDP(t, srv)

	bad := testInput()
	bad.AuthToken = "deadbeef"
	sendDatagram(t, conn, bad)
	sendDatagram(t, conn, &protocol.Heartbeat{})

	if m := recvDatagram(t, conn, 200*time.Millisecond); m != nil {
		t.Fatalf("reply = %s, want none", m.Type())
	}
	if pad.Commits() != 0 {
		t.Errorf("Commits() = %d, want 0", pad.Commits())
	}
	if got := srv.Metrics().AuthFailures.Load(); got != 2 {
		t.Errorf("AuthFailures = %d, want 2", got)
	}
}

func TestUDPInput(t *testing.T) {
	t.Parallel()

	srv, pad := startTestServer(t, Config{Transport: padrelay.TransportUDP, Password: testPassword})
	conn := dialUDP(t, srv)

	client, err := auth.New(testPassword)
	if err != nil {
		t.Fatal(err)
	}

	invalid := protocol.NewInput(padrelay.Snapshot{Axes: []float64{2}})
	invalid.AuthToken = client.UDPToken(time.Now())
	sendDatagram(t, conn, invalid)

	in := testInput()
	in.AuthToken = client.UDPToken(time.Now())
	sendDatagram(t, conn, in)

	waitFor(t, "commit", func() bool { return pad.Commits() > 0 })
	if got := srv.Metrics().InvalidInputs.Load(); got != 1 {
		t.Errorf("InvalidInputs = %d, want 1", got)
	}
}

func TestUDPOpenServer(t *testing.T) {
	t.Parallel()

	srv, pad := startTestServer(t, Config{Transport: padrelay.TransportUDP})
	conn := dialUDP(t, srv)

	sendDatagram(t, conn, &protocol.AuthParamsRequest{})
	sendDatagram(t, conn, testInput())
	sendDatagram(t, conn, &protocol.Heartbeat{})

	if m := recvDatagram(t, conn, 5*time.Second); m == nil || m.Type() != protocol.TypeHeartbeatAck {
		t.Fatalf("reply = %v, want heartbeat_ack", m)
	}
	if pad.Commits() == 0 {
		t.Error("input did not reach the gamepad")
	}
}

func TestUDPDropsGarbage(t *testing.T) {
	t.Parallel()

	srv, _ := startTestServer(t, Config{Transport: padrelay.TransportUDP})
	conn := dialUDP(t, srv)

	for _, payload := range [][]byte{
		[]byte("garbage"),
		[]byte(`{"type":"heartbeat","protocol_version":"9.9"}`),
		make([]byte, padrelay.MaxMessageSize+1),
	} {
		if _, err := conn.Write(payload); err != nil {
			t.Fatal(err)
		}
	}
	if m := recvDatagram(t, conn, 200*time.Millisecond); m != nil {
		t.Fatalf("reply = %s, want none", m.Type())
	}
	waitFor(t, "drops", func() bool { return srv.Metrics().DroppedDatagrams.Load() == 3 })
}

func TestUDPRateLimit(t *testing.T) {
	t.Parallel()

	srv, _ := startTestServer(t, Config{
		Transport:     padrelay.TransportUDP,
		MaxRequests:   3,
		BlockDuration: time.Minute,
	})
	conn := dialUDP(t, srv)

	for i := 0; i < 6; i++ {
		sendDatagram(t, conn, &protocol.Heartbeat{})
	}

	acks := 0
	for recvDatagram(t, conn, 300*time.Millisecond) != nil {
		acks++
	}
	if acks != 3 {
		t.Errorf("acks = %d, want 3", acks)
	}
	// One transition into the blocked state, then silent drops.
	if got := srv.Metrics().RateLimited.Load(); got != 1 {
		t.Errorf("RateLimited = %d, want 1", got)
	}
}

func TestUDPIdleReset(t *testing.T) {
	t.Parallel()

	srv, pad := startTestServer(t, Config{
		Transport:    padrelay.TransportUDP,
		UDPIdleReset: 100 * time.Millisecond,
	})
	conn := dialUDP(t, srv)

	sendDatagram(t, conn, testInput())
	waitFor(t, "commit", func() bool { return pad.Commits() > 0 })
	waitFor(t, "idle reset", func() bool { return pad.Resets() > 0 })

	if st := pad.State(); len(st.Pressed) != 0 || st.LeftX != 0 {
		t.Errorf("state after idle reset = %+v", st)
	}
}
