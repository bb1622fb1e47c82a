package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/matst80/vncrepeater/internal/liveness"
	"github.com/matst80/vncrepeater/internal/obs"
	"github.com/matst80/vncrepeater/internal/proto"
	"github.com/matst80/vncrepeater/internal/ratelimit"
	"github.com/matst80/vncrepeater/internal/relay"
	"github.com/matst80/vncrepeater/internal/rendezvous"
)

// bindPort listens on both address families with address reuse enabled.
// One bound family is enough; none at all is an error.
func bindPort(port int) ([]net.Listener, error) {
	var lns []net.Listener
	lc4 := net.ListenConfig{Control: reuseAddrControl(false)}
	if ln, err := lc4.Listen(context.Background(), "tcp4", fmt.Sprintf("0.0.0.0:%d", port)); err == nil {
		lns = append(lns, ln)
	} else {
		obs.Error("listen.v4", obs.Fields{"port": port, "err": err.Error()})
	}
	lc6 := net.ListenConfig{Control: reuseAddrControl(true)}
	if ln, err := lc6.Listen(context.Background(), "tcp6", fmt.Sprintf("[::]:%d", port)); err == nil {
		lns = append(lns, ln)
	} else {
		obs.Error("listen.v6", obs.Fields{"port": port, "err": err.Error()})
	}
	if len(lns) == 0 {
		return nil, fmt.Errorf("port %d: no address family could be bound", port)
	}
	return lns, nil
}

// dispatcher owns the rendezvous registry. Handshakes run in per-connection
// goroutines and marshal their result through submitCh; run is the only
// goroutine that touches the registry.
type dispatcher struct {
	cfg      *Config
	reg      *rendezvous.Registry
	state    StateStore
	submitCh chan *rendezvous.Half
}

func newDispatcher(c *Config, state StateStore) *dispatcher {
	d := &dispatcher{cfg: c, state: state, submitCh: make(chan *rendezvous.Half, 16)}
	d.reg = rendezvous.New(c.Refuse, liveness.Alive, func(h *rendezvous.Half) {
		state.noteUnpark(h.ID)
		state.noteEvicted(1)
	})
	return d
}

func (d *dispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.SelectTimeout)
	defer ticker.Stop()
	for {
		select {
		case h := <-d.submitCh:
			d.handleSubmit(h)
		case <-ticker.C:
			if d.cfg.Clean {
				if n := d.reg.Sweep(); n > 0 {
					obs.Info("registry.sweep", obs.Fields{"evicted": n})
				}
			}
		case <-ctx.Done():
			for {
				select {
				case h := <-d.submitCh:
					_ = h.Conn.Close()
				default:
					if n := d.reg.Drain(); n > 0 {
						obs.Info("registry.drained", obs.Fields{"closed": n})
					}
					return
				}
			}
		}
	}
}

func (d *dispatcher) handleSubmit(h *rendezvous.Half) {
	peer, out := d.reg.Submit(h)
	switch out {
	case rendezvous.OutcomeParked, rendezvous.OutcomeReplaced:
		d.state.notePark(parkedEntry{ID: h.ID, Role: h.Role.String(), PeerAddr: h.PeerAddr, ParkedAt: h.ParkedAt})
	case rendezvous.OutcomePaired:
		d.state.noteUnpark(h.ID)
		d.state.noteSession()
		obs.SessionEstablishedTotal.Inc()
		viewer, host := h.Conn, peer.Conn
		if h.Role == proto.RoleServer {
			viewer, host = peer.Conn, h.Conn
		}
		go relay.Splice(viewer, host)
	case rendezvous.OutcomeRefused:
		obs.ErrorsTotal.WithLabelValues("refused_extra").Inc()
	}
}

func acceptLoop(ctx context.Context, ln net.Listener, role proto.Role, d *dispatcher, limiter *ratelimit.AcceptLimiter) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		c, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				obs.Error("accept."+role.String()+".timeout", obs.Fields{"err": err.Error()})
				continue
			}
			if !errors.Is(err, net.ErrClosed) {
				obs.Error("accept."+role.String(), obs.Fields{"err": err.Error()})
			}
			return
		}
		if limiter != nil && !limiter.Allow(remoteIP(c)) {
			obs.ErrorsTotal.WithLabelValues("rate_limited").Inc()
			obs.Debug("accept.rate_limited", obs.Fields{"remote": c.RemoteAddr().String()})
			_ = c.Close()
			continue
		}
		go d.handleConn(ctx, c, role)
	}
}

// handleConn performs the handshake for one accepted socket. ID submissions
// go to the dispatcher; direct targets are dialed right here.
func (d *dispatcher) handleConn(ctx context.Context, c net.Conn, role proto.Role) {
	remote := c.RemoteAddr().String()
	if role == proto.RoleClient && !d.cfg.NoRFB {
		if err := proto.WriteBanner(c, d.cfg.InitTimeout); err != nil {
			obs.Error("handshake.banner", obs.Fields{"remote": remote, "err": err.Error()})
			obs.ErrorsTotal.WithLabelValues("banner").Inc()
			_ = c.Close()
			return
		}
	}
	block, err := proto.ReadGreeting(c, d.cfg.BufSize, d.cfg.InitTimeout)
	if err != nil {
		obs.Error("handshake.read", obs.Fields{"role": role.String(), "remote": remote, "err": err.Error()})
		obs.ErrorsTotal.WithLabelValues("handshake_read").Inc()
		_ = c.Close()
		return
	}
	intent, err := proto.Classify(role, block)
	if err != nil {
		obs.Error("handshake.malformed", obs.Fields{"role": role.String(), "remote": remote, "err": err.Error()})
		obs.ErrorsTotal.WithLabelValues("malformed").Inc()
		_ = c.Close()
		return
	}
	switch intent.Kind {
	case proto.KindID:
		obs.Debug("handshake.id", obs.Fields{"role": role.String(), "id": intent.ID, "remote": remote})
		h := &rendezvous.Half{Conn: c, Role: role, ID: intent.ID, PeerAddr: remote}
		select {
		case d.submitCh <- h:
		case <-ctx.Done():
			_ = c.Close()
		}
	case proto.KindDirect:
		d.directDial(c, intent, remote)
	}
}

// directDial connects the client straight to its named target, IPv4 first.
func (d *dispatcher) directDial(c net.Conn, intent proto.Intent, remote string) {
	obs.DirectDialTotal.Inc()
	target := net.JoinHostPort(intent.Host, strconv.Itoa(intent.Port))
	dialer := net.Dialer{Timeout: d.cfg.DialTimeout}
	t, err := dialer.Dial("tcp4", target)
	if err != nil {
		obs.Debug("direct.dial_v4", obs.Fields{"target": target, "err": err.Error()})
		t, err = dialer.Dial("tcp6", target)
	}
	if err != nil {
		obs.Error("direct.dial", obs.Fields{"target": target, "remote": remote, "err": err.Error()})
		obs.ErrorsTotal.WithLabelValues("direct_dial").Inc()
		_ = c.Close()
		return
	}
	obs.Info("direct.established", obs.Fields{"target": target, "remote": remote})
	d.state.noteSession()
	obs.SessionEstablishedTotal.Inc()
	relay.Splice(c, t)
}

func remoteIP(c net.Conn) string {
	h, _, err := net.SplitHostPort(c.RemoteAddr().String())
	if err != nil {
		return c.RemoteAddr().String()
	}
	return h
}
