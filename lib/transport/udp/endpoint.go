// Package udp carries tunnel packets over UDP. Endpoint is the overlay socket
// shared by all circuits; Exit is a per-circuit socket used by an enabled exit
// to talk to the public network.
package udp

import (
	"errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/go-i2p/go-onion/lib/transport"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// MaxDatagramSize bounds a single read.
const MaxDatagramSize = 65535

// Handler receives a datagram read from a socket.
type Handler func(src netip.AddrPort, data []byte)

// Endpoint is a UDP socket with a receive loop.
type Endpoint struct {
	conn    *net.UDPConn
	handler Handler
	closed  atomic.Bool
	wg      sync.WaitGroup
}

// Listen binds addr and starts delivering datagrams to h.
func Listen(addr string, h Handler) (*Endpoint, error) {
	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(ap))
	if err != nil {
		return nil, err
	}
	return newEndpoint(conn, h), nil
}

func newEndpoint(conn *net.UDPConn, h Handler) *Endpoint {
	ep := &Endpoint{conn: conn, handler: h}
	ep.wg.Add(1)
	go ep.readLoop()
	log.WithFields(logger.Fields{
		"at":      "(Endpoint) Listen",
		"address": ep.Addr().String(),
	}).Debug("udp endpoint listening")
	return ep
}

// Addr returns the bound address.
func (ep *Endpoint) Addr() netip.AddrPort {
	ap := ep.conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// Send writes packet to dst.
func (ep *Endpoint) Send(dst netip.AddrPort, packet []byte) error {
	if ep.closed.Load() {
		return transport.ErrClosed
	}
	_, err := ep.conn.WriteToUDPAddrPort(packet, dst)
	return err
}

// SendTo is Send, so an endpoint can serve as an exit transport.
func (ep *Endpoint) SendTo(dst netip.AddrPort, data []byte) error {
	return ep.Send(dst, data)
}

func (ep *Endpoint) readLoop() {
	defer ep.wg.Done()
	buf := make([]byte, MaxDatagramSize)
	for {
		n, src, err := ep.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ep.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			log.WithFields(logger.Fields{
				"at":      "(Endpoint) readLoop",
				"address": ep.Addr().String(),
			}).WithError(err).Debug("read failed")
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		ep.handler(netip.AddrPortFrom(src.Addr().Unmap(), src.Port()), data)
	}
}

// Close stops the receive loop and closes the socket.
func (ep *Endpoint) Close() error {
	if ep.closed.Swap(true) {
		return nil
	}
	err := ep.conn.Close()
	ep.wg.Wait()
	return err
}
