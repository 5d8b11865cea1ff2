package udp

import (
	"net"
)

// OpenExit binds an ephemeral UDP socket for one exit. Datagrams arriving on
// it are passed to deliver.
func OpenExit(deliver Handler) (*Endpoint, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, err
	}
	return newEndpoint(conn, deliver), nil
}
