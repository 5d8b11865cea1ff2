// Package transport holds the datagram transports the tunnel engine runs on.
//
// # Overview
//
// The engine only needs fire-and-forget datagrams addressed by netip.AddrPort:
//   - memory: an in-process network used by tests and the simulate command
//   - udp: a UDP overlay endpoint plus one UDP socket per enabled exit
//
// Both deliver inbound packets to a handler, normally (*tunnel.Engine).HandlePacket.
//
// # Thread Safety
//
// Endpoints are safe for concurrent use. Handlers run on the transport's
// receive goroutine and must not block.
package transport
