// Package rendezvous holds the repeater's pairing table: at most one parked
// half-connection per id, matched against the next arrival of the opposite
// role. The registry is not safe for concurrent use; a single dispatcher
// goroutine owns every call (submissions reach it over a channel).
package rendezvous

import (
	"net"
	"time"

	"github.com/matst80/vncrepeater/internal/obs"
	"github.com/matst80/vncrepeater/internal/proto"
)

// Half is a connection that completed the handshake with an id but has not
// been paired yet. The registry owns Conn while the half is parked.
type Half struct {
	Conn     net.Conn
	Role     proto.Role
	ID       string
	PeerAddr string
	ParkedAt time.Time
}

// Prober reports whether a parked connection's remote peer still looks
// alive. It must err on the side of true.
type Prober func(net.Conn) bool

// Outcome is what Submit did with a half-connection.
type Outcome int8

const (
	// OutcomeParked: no counterpart yet, the half now waits in the table.
	OutcomeParked Outcome = iota
	// OutcomePaired: an opposite-role half was waiting; both were removed.
	OutcomePaired
	// OutcomeRefused: refuse mode rejected a same-role newcomer (closed).
	OutcomeRefused
	// OutcomeReplaced: the newcomer displaced a live same-role incumbent.
	OutcomeReplaced
)

// Registry maps id -> parked half-connection.
type Registry struct {
	entries map[string]*Half
	refuse  bool
	probe   Prober
	onEvict func(*Half)
}

// New builds a registry. probe may be nil (every incumbent counts as alive);
// onEvict may be nil and is invoked after a dead half has been closed and
// removed, for stats upkeep.
func New(refuse bool, probe Prober, onEvict func(*Half)) *Registry {
	return &Registry{entries: make(map[string]*Half), refuse: refuse, probe: probe, onEvict: onEvict}
}

func (r *Registry) Len() int { return len(r.entries) }

// Submit places or pairs a half-connection. When the returned peer is
// non-nil the id has already been removed from the table and the caller owns
// both sockets; nothing has been written to either yet.
func (r *Registry) Submit(h *Half) (peer *Half, out Outcome) {
	existing := r.entries[h.ID]
	if existing != nil && existing.Role == h.Role {
		if r.alive(existing) {
			if r.refuse {
				obs.Info("registry.refuse_extra", obs.Fields{"id": h.ID, "role": h.Role.String(), "remote": h.PeerAddr})
				_ = h.Conn.Close()
				return nil, OutcomeRefused
			}
			obs.Info("registry.replace", obs.Fields{"id": h.ID, "role": h.Role.String(), "old": existing.PeerAddr, "new": h.PeerAddr})
			_ = existing.Conn.Close()
			r.park(h)
			return nil, OutcomeReplaced
		}
		r.evict(existing)
		existing = nil
	}
	if existing != nil {
		delete(r.entries, h.ID)
		obs.ParkedHalves.Set(float64(len(r.entries)))
		obs.Info("registry.paired", obs.Fields{"id": h.ID, "client": clientAddr(existing, h), "server": serverAddr(existing, h)})
		return existing, OutcomePaired
	}
	r.park(h)
	return nil, OutcomeParked
}

// Sweep evicts parked halves whose peer has gone away. Repeated sweeps with
// every socket alive are a no-op.
func (r *Registry) Sweep() int {
	evicted := 0
	for _, h := range r.entries {
		if !r.alive(h) {
			r.evict(h)
			evicted++
		}
	}
	return evicted
}

// Drain closes and removes every parked half. Used on shutdown.
func (r *Registry) Drain() int {
	n := len(r.entries)
	for id, h := range r.entries {
		_ = h.Conn.Close()
		delete(r.entries, id)
		obs.Debug("registry.drain", obs.Fields{"id": id, "remote": h.PeerAddr})
	}
	obs.ParkedHalves.Set(0)
	return n
}

func (r *Registry) park(h *Half) {
	h.ParkedAt = time.Now()
	r.entries[h.ID] = h
	obs.ParkedHalves.Set(float64(len(r.entries)))
	obs.Debug("registry.parked", obs.Fields{"id": h.ID, "role": h.Role.String(), "remote": h.PeerAddr})
}

func (r *Registry) alive(h *Half) bool {
	if r.probe == nil {
		return true
	}
	return r.probe(h.Conn)
}

func (r *Registry) evict(h *Half) {
	_ = h.Conn.Close()
	delete(r.entries, h.ID)
	obs.ParkedHalves.Set(float64(len(r.entries)))
	obs.SweepEvictedTotal.Inc()
	obs.Info("registry.evict_dead", obs.Fields{"id": h.ID, "role": h.Role.String(), "remote": h.PeerAddr})
	if r.onEvict != nil {
		r.onEvict(h)
	}
}

func clientAddr(a, b *Half) string {
	if a.Role == proto.RoleClient {
		return a.PeerAddr
	}
	return b.PeerAddr
}

func serverAddr(a, b *Half) string {
	if a.Role == proto.RoleServer {
		return a.PeerAddr
	}
	return b.PeerAddr
}
