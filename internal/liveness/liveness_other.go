//go:build !linux

package liveness

import "net"

// Without a readable kernel TCP table every peer counts as alive; stale
// entries are still reclaimed when a pairing attempt fails.
func probe(net.Conn) bool { return true }
