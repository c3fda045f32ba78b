// Package flood disseminates a single binary state (a light being on or off)
// from one source node to one sink node across a multihop mesh.
//
// Every node keeps a FloodState {state, seq}. The source bumps seq on each
// detected light edge and sends a short burst of identical records. Any node
// that receives a record with a seq newer than its own adopts it and, unless
// it is the sink or already has a forward pending, rebroadcasts it once after
// a random delay of 0-63ms. Records at or below the local seq are dropped,
// which is what keeps the flood from storming.
//
// Routing beacons carry the same {counter, state} pair. A node that hears a
// beacon from a neighbor closer to the root that is behind on the state
// pushes a fresh record toward it, so convergence does not depend on any one
// burst getting through.
//
// An Engine is not safe for concurrent use. All handlers must run on a
// single goroutine, normally a sched.Loop.
package flood
