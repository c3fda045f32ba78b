// Package mesh carries frames between neighboring nodes. It defines an
// abstract Transport with two implementations: Medium, an in-process radio
// with configurable adjacency and loss for simulation and tests, and
// UDPTransport, which emulates a one-hop broadcast by sending each frame to
// every configured in-range neighbor.
//
// Typical usage:
//
//	m := mesh.NewMedium(0.1, 1)
//	a, b := m.Attach("a", 64), m.Attach("b", 64)
//	m.Connect("a", "b")
//	link := mesh.NewLink(a)
//
// Frames are opaque except for their first two bytes, a little-endian type
// tag that tells flood records from routing beacons.
package mesh
