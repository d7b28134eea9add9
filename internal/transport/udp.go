package transport

import (
	"net"
)

// ListenUDP binds addr for the datagram transport.
func ListenUDP(addr string) (*net.UDPConn, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", ua)
	if err != nil {
		return nil, err
	}
	TuneUDP(conn)
	return conn, nil
}

// DialUDP binds an ephemeral local port connected to addr.
func DialUDP(addr string) (*net.UDPConn, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, ua)
	if err != nil {
		return nil, err
	}
	TuneUDP(conn)
	return conn, nil
}

// TuneUDP sets 64 KiB socket buffers. Errors are ignored.
func TuneUDP(c *net.UDPConn) {
	_ = c.SetReadBuffer(bufferSize)
	_ = c.SetWriteBuffer(bufferSize)
}
