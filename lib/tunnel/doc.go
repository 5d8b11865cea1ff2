// Package tunnel implements the onion routing engine: building circuits hop by
// hop, relaying cells for other nodes, exiting traffic to the public network
// and tearing everything down again.
//
// # Roles
//
// A node plays up to three roles at once, all keyed by circuit ID in a single
// table:
//
//   - Circuit: a path this node originated. Cells are wrapped in one layer
//     per verified hop on the way out and unwrapped on the way back.
//
//   - RelayRoute: one half of a splice between two circuit IDs on an
//     intermediate node. Cells are forwarded after adding or removing exactly
//     one layer.
//
//   - ExitSocket: the terminus of somebody else's circuit. It removes the last
//     layer and sends the payload to its public destination.
//
// # Building a circuit
//
// The originator sends CREATE to the first hop, which answers CREATED with its
// half of the handshake and a list of onward candidates. Every further hop is
// added with EXTEND, which the current last hop turns into a CREATE to the
// chosen candidate; its CREATED comes back to the originator as EXTENDED. Each
// hop request is guarded by a retry entry in the request cache, so a silent
// candidate is replaced by an alternate after NextHopTimeout.
//
// # Concurrency
//
// Engine is a phony actor. All state lives on the actor; exported methods
// either block on it with phony.Block or enqueue work with Act. Timers
// (request expiry, maintenance, pings, grace-delay purges) re-enter the actor
// and re-check state before acting. Handlers installed with options run on the
// actor and must not call blocking Engine methods.
package tunnel
