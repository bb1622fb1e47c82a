package rendezvous

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/matst80/vncrepeater/internal/proto"
)

// testHalf wires a net.Pipe so the far end can observe what the registry
// does to the near end.
type testHalf struct {
	half *Half
	far  net.Conn
}

func newTestHalf(role proto.Role, id string) testHalf {
	near, far := net.Pipe()
	return testHalf{
		half: &Half{Conn: near, Role: role, ID: id, PeerAddr: "test:0"},
		far:  far,
	}
}

func isClosed(t *testing.T, far net.Conn) bool {
	t.Helper()
	_ = far.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 1)
	_, err := far.Read(buf)
	return err == io.EOF
}

func alwaysAlive(net.Conn) bool { return true }
func alwaysDead(net.Conn) bool  { return false }

func TestSubmitParksFirstArrival(t *testing.T) {
	r := New(false, alwaysAlive, nil)
	s := newTestHalf(proto.RoleServer, "x")
	peer, out := r.Submit(s.half)
	if peer != nil || out != OutcomeParked {
		t.Fatalf("expected park, got peer=%v out=%v", peer, out)
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 parked entry, got %d", r.Len())
	}
}

func TestSubmitPairsOppositeRoles(t *testing.T) {
	r := New(false, alwaysAlive, nil)
	s := newTestHalf(proto.RoleServer, "x")
	c := newTestHalf(proto.RoleClient, "x")
	r.Submit(s.half)
	peer, out := r.Submit(c.half)
	if out != OutcomePaired {
		t.Fatalf("expected pairing, got %v", out)
	}
	if peer != s.half {
		t.Error("expected the parked server half as peer")
	}
	if r.Len() != 0 {
		t.Errorf("id must be removed from the registry on pairing, len=%d", r.Len())
	}
	// Neither socket may have been closed by the registry.
	if isClosed(t, s.far) || isClosed(t, c.far) {
		t.Error("paired sockets must stay open")
	}
}

func TestSubmitDistinctIDsDoNotPair(t *testing.T) {
	r := New(false, alwaysAlive, nil)
	s := newTestHalf(proto.RoleServer, "x")
	c := newTestHalf(proto.RoleClient, "y")
	r.Submit(s.half)
	peer, out := r.Submit(c.half)
	if peer != nil || out != OutcomeParked {
		t.Fatalf("expected second park, got peer=%v out=%v", peer, out)
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 parked entries, got %d", r.Len())
	}
}

func TestSubmitRefuseModeKeepsIncumbent(t *testing.T) {
	r := New(true, alwaysAlive, nil)
	a := newTestHalf(proto.RoleServer, "x")
	b := newTestHalf(proto.RoleServer, "x")
	r.Submit(a.half)
	peer, out := r.Submit(b.half)
	if peer != nil || out != OutcomeRefused {
		t.Fatalf("expected refusal, got peer=%v out=%v", peer, out)
	}
	if !isClosed(t, b.far) {
		t.Error("refused newcomer must be closed")
	}
	if isClosed(t, a.far) {
		t.Error("incumbent must stay parked")
	}
	// The incumbent still pairs with a later client.
	c := newTestHalf(proto.RoleClient, "x")
	peer, out = r.Submit(c.half)
	if out != OutcomePaired || peer != a.half {
		t.Errorf("expected pairing with incumbent, got peer=%v out=%v", peer, out)
	}
}

func TestSubmitReplaceModeLastWriterWins(t *testing.T) {
	r := New(false, alwaysAlive, nil)
	a := newTestHalf(proto.RoleServer, "x")
	b := newTestHalf(proto.RoleServer, "x")
	r.Submit(a.half)
	peer, out := r.Submit(b.half)
	if peer != nil || out != OutcomeReplaced {
		t.Fatalf("expected replacement, got peer=%v out=%v", peer, out)
	}
	if !isClosed(t, a.far) {
		t.Error("replaced incumbent must be closed")
	}
	c := newTestHalf(proto.RoleClient, "x")
	peer, out = r.Submit(c.half)
	if out != OutcomePaired || peer != b.half {
		t.Errorf("expected pairing with the replacement, got peer=%v out=%v", peer, out)
	}
}

func TestSubmitRefuseModeEvictsDeadIncumbent(t *testing.T) {
	evicted := 0
	r := New(true, alwaysDead, func(*Half) { evicted++ })
	a := newTestHalf(proto.RoleServer, "x")
	b := newTestHalf(proto.RoleServer, "x")
	r.Submit(a.half)
	peer, out := r.Submit(b.half)
	if peer != nil || out != OutcomeParked {
		t.Fatalf("expected newcomer to park after eviction, got peer=%v out=%v", peer, out)
	}
	if evicted != 1 {
		t.Errorf("expected 1 eviction callback, got %d", evicted)
	}
	if !isClosed(t, a.far) {
		t.Error("dead incumbent must be closed")
	}
	if isClosed(t, b.far) {
		t.Error("newcomer must stay parked")
	}
}

func TestSweepEvictsDead(t *testing.T) {
	dead := map[net.Conn]bool{}
	r := New(false, func(c net.Conn) bool { return !dead[c] }, nil)
	a := newTestHalf(proto.RoleServer, "x")
	b := newTestHalf(proto.RoleServer, "y")
	r.Submit(a.half)
	r.Submit(b.half)

	// All alive: sweep is idempotent.
	if n := r.Sweep(); n != 0 {
		t.Errorf("expected no evictions, got %d", n)
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 entries after no-op sweep, got %d", r.Len())
	}

	dead[a.half.Conn] = true
	if n := r.Sweep(); n != 1 {
		t.Errorf("expected 1 eviction, got %d", n)
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 entry after sweep, got %d", r.Len())
	}
	if !isClosed(t, a.far) {
		t.Error("swept socket must be closed")
	}

	// The freed id can be parked again.
	c := newTestHalf(proto.RoleClient, "x")
	if _, out := r.Submit(c.half); out != OutcomeParked {
		t.Errorf("expected fresh park on freed id, got %v", out)
	}
}

func TestDrainClosesEverything(t *testing.T) {
	r := New(false, alwaysAlive, nil)
	a := newTestHalf(proto.RoleServer, "x")
	b := newTestHalf(proto.RoleClient, "y")
	r.Submit(a.half)
	r.Submit(b.half)
	if n := r.Drain(); n != 2 {
		t.Errorf("expected 2 drained, got %d", n)
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
	if !isClosed(t, a.far) || !isClosed(t, b.far) {
		t.Error("drained sockets must be closed")
	}
}
