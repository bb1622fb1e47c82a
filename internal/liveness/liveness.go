// Package liveness offers a best-effort check that the remote peer of a
// parked TCP connection has not already gone away. The check is a
// capability: platforms without a readable kernel TCP table simply report
// every connection as alive, which is always safe.
package liveness

import "net"

// Alive reports whether c's remote peer still looks reachable. Any failure
// to inspect the connection counts as alive; a false "dead" would tear down
// a working rendezvous, a false "alive" only delays eviction.
func Alive(c net.Conn) bool {
	return probe(c)
}
