// Package message defines the tunnel protocol messages, the cell envelope that
// carries them across one link, and the binary encoding of both.
//
// Only two kinds travel as outer packets: CELL and DESTROY. Every other kind is
// carried inside a cell. CREATE and CREATED cross exactly one link and are never
// layer encrypted; the engine encrypts all other cell bodies once per hop.
package message
