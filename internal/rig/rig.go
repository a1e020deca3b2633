// Package rig defines the collaborator surface between the transport core
// and the physical radio: asserting/releasing the key line and starting an
// antenna tuner cycle. The transport only ever sends the opaque commands
// spec.md names; any CAT-level radio control is explicitly out of scope
// and left to a real collaborator implementing these interfaces.
package rig

// Keyer asserts or releases the transmit key line.
type Keyer interface {
	AssertKey(down bool)
}

// ATUStarter begins an antenna tuner cycle in response to the opaque
// start-ATU keying command; it has no feedback path into the transport.
type ATUStarter interface {
	StartATU()
}

// NullKeyer discards key assertions. Useful for dry runs, the demo client,
// and tests that only care about frame timing, not hardware side effects.
type NullKeyer struct{}

func (NullKeyer) AssertKey(bool) {}

// NullATUStarter discards start-ATU commands.
type NullATUStarter struct{}

func (NullATUStarter) StartATU() {}
