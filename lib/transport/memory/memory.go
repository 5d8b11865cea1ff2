// Package memory is an in-process datagram network. Every attached endpoint
// has an address; packets sent to an address are handed to its handler on
// the sender's goroutine. It backs the engine tests and the simulate command.
package memory

import (
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/go-i2p/go-onion/lib/transport"
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// Handler receives a packet sent to an endpoint.
type Handler func(src netip.AddrPort, data []byte)

// Filter decides whether a packet is delivered. Returning false drops it.
type Filter func(src, dst netip.AddrPort, data []byte) bool

// Network connects endpoints by address.
type Network struct {
	mu       sync.RWMutex
	handlers map[netip.AddrPort]Handler
	filter   Filter
	nextPort map[netip.Addr]uint16

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewNetwork returns an empty network.
func NewNetwork() *Network {
	return &Network{
		handlers: make(map[netip.AddrPort]Handler),
		nextPort: make(map[netip.Addr]uint16),
	}
}

// SetFilter installs f, or removes the filter when f is nil.
func (n *Network) SetFilter(f Filter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.filter = f
}

// Attach binds h to addr and returns an endpoint sending from addr.
func (n *Network) Attach(addr netip.AddrPort, h Handler) (*Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.handlers[addr]; ok {
		return nil, transport.ErrAddressInUse
	}
	n.handlers[addr] = h
	return &Endpoint{network: n, addr: addr}, nil
}

// AttachEphemeral binds h to an unused port on host.
func (n *Network) AttachEphemeral(host netip.Addr, h Handler) (*Endpoint, error) {
	n.mu.Lock()
	port := n.nextPort[host]
	for {
		port++
		if port < 40000 {
			port = 40000
		}
		if _, ok := n.handlers[netip.AddrPortFrom(host, port)]; !ok {
			break
		}
	}
	n.nextPort[host] = port
	n.mu.Unlock()
	return n.Attach(netip.AddrPortFrom(host, port), h)
}

func (n *Network) detach(addr netip.AddrPort) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.handlers, addr)
}

func (n *Network) deliver(src, dst netip.AddrPort, data []byte) error {
	n.mu.RLock()
	h, ok := n.handlers[dst]
	filter := n.filter
	n.mu.RUnlock()
	if !ok {
		n.dropped.Add(1)
		return transport.ErrUnreachable
	}
	if filter != nil && !filter(src, dst, data) {
		n.dropped.Add(1)
		return nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	n.delivered.Add(1)
	h(src, buf)
	return nil
}

// Stats returns the number of delivered and dropped packets.
func (n *Network) Stats() (delivered, dropped uint64) {
	return n.delivered.Load(), n.dropped.Load()
}

// Endpoint sends packets from one address.
type Endpoint struct {
	network *Network
	addr    netip.AddrPort
	closed  atomic.Bool
}

// Addr returns the endpoint's address.
func (ep *Endpoint) Addr() netip.AddrPort {
	return ep.addr
}

// Send delivers packet to dst. Unreachable destinations are reported but
// dropped packets are not.
func (ep *Endpoint) Send(dst netip.AddrPort, packet []byte) error {
	if ep.closed.Load() {
		return transport.ErrClosed
	}
	return ep.network.deliver(ep.addr, dst, packet)
}

// SendTo is Send, so an endpoint can serve as an exit transport.
func (ep *Endpoint) SendTo(dst netip.AddrPort, data []byte) error {
	return ep.Send(dst, data)
}

// Close detaches the endpoint.
func (ep *Endpoint) Close() error {
	if ep.closed.Swap(true) {
		return nil
	}
	ep.network.detach(ep.addr)
	log.WithFields(logger.Fields{
		"at":      "(Endpoint) Close",
		"address": ep.addr.String(),
	}).Debug("endpoint detached")
	return nil
}

// OpenExit attaches an ephemeral endpoint on host whose inbound packets go
// to deliver. It is the in-memory counterpart of a per-circuit UDP socket.
func (n *Network) OpenExit(host netip.Addr, deliver func(src netip.AddrPort, data []byte)) (*Endpoint, error) {
	return n.AttachEphemeral(host, deliver)
}
