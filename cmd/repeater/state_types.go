package main

import "time"

// parkedEntry is the stats-plane view of a parked half-connection. The
// socket itself stays with the registry; this is metadata only.
type parkedEntry struct {
	ID       string    `json:"id"`
	Role     string    `json:"role"`
	PeerAddr string    `json:"peer_addr"`
	ParkedAt time.Time `json:"parked_at"`
}

// Since renders the parked age for the dashboard.
func (e parkedEntry) Since() string {
	return time.Since(e.ParkedAt).Round(time.Second).String()
}

// stateSnapshot is what getStats returns for the API and dashboard.
type stateSnapshot struct {
	Entries   []parkedEntry
	Sessions  int64
	Evictions int64
}
