package main

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/matst80/vncrepeater/internal/proto"
)

func testConfig() *Config {
	return &Config{
		BufSize:       proto.DefaultBlockSize,
		InitTimeout:   2 * time.Second,
		SelectTimeout: time.Second,
		DialTimeout:   2 * time.Second,
		Clean:         true,
	}
}

// startRelay wires a dispatcher with both accept loops on ephemeral ports.
func startRelay(t *testing.T, c *Config) (clientAddr, serverAddr string, state *memoryState) {
	t.Helper()
	state = newMemoryState()
	d := newDispatcher(c, state)
	lnC, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen client: %v", err)
	}
	lnS, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen server: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go d.run(ctx)
	go acceptLoop(ctx, lnC, proto.RoleClient, d, nil)
	go acceptLoop(ctx, lnS, proto.RoleServer, d, nil)
	t.Cleanup(func() {
		cancel()
		lnC.Close()
		lnS.Close()
	})
	return lnC.Addr().String(), lnS.Addr().String(), state
}

func paddedBlock(s string) []byte {
	b := make([]byte, proto.DefaultBlockSize)
	copy(b, s)
	return b
}

// dialAsServer connects to the server port and announces an id.
func dialAsServer(t *testing.T, addr, id string) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial server port: %v", err)
	}
	if _, err := c.Write(paddedBlock("ID:" + id)); err != nil {
		t.Fatalf("write server greeting: %v", err)
	}
	return c
}

// dialAsClient connects to the client port, checks the banner and sends the
// given greeting payload (an ID tag or a direct target).
func dialAsClient(t *testing.T, addr, payload string) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial client port: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	banner := make([]byte, len(proto.Banner))
	if _, err := io.ReadFull(c, banner); err != nil {
		t.Fatalf("read banner: %v", err)
	}
	if string(banner) != proto.Banner {
		t.Fatalf("expected banner %q, got %q", proto.Banner, banner)
	}
	_ = c.SetReadDeadline(time.Time{})
	if _, err := c.Write(paddedBlock(payload)); err != nil {
		t.Fatalf("write client greeting: %v", err)
	}
	return c
}

func readExactly(t *testing.T, c net.Conn, n int) []byte {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, n)
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatalf("read %d bytes: %v", n, err)
	}
	return buf
}

func expectEOF(t *testing.T, c net.Conn) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := c.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestHappyPathRendezvous(t *testing.T) {
	clientAddr, serverAddr, state := startRelay(t, testConfig())

	server := dialAsServer(t, serverAddr, "abcd")
	defer server.Close()
	waitFor(t, "server to park", func() bool { return len(state.getStats().Entries) == 1 })

	client := dialAsClient(t, clientAddr, "ID:abcd")
	defer client.Close()

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	if got := readExactly(t, server, 5); string(got) != "hello" {
		t.Errorf("server expected hello, got %q", got)
	}
	if _, err := server.Write([]byte("world")); err != nil {
		t.Fatalf("server write: %v", err)
	}
	if got := readExactly(t, client, 5); string(got) != "world" {
		t.Errorf("client expected world, got %q", got)
	}

	waitFor(t, "registry to empty", func() bool { return len(state.getStats().Entries) == 0 })
	if s := state.getStats(); s.Sessions != 1 {
		t.Errorf("expected 1 session, got %d", s.Sessions)
	}

	client.Close()
	expectEOF(t, server)
}

func TestDirectDial(t *testing.T) {
	clientAddr, _, _ := startRelay(t, testConfig())

	// Target that echoes everything back.
	target, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen target: %v", err)
	}
	defer target.Close()
	go func() {
		c, err := target.Accept()
		if err != nil {
			return
		}
		_, _ = io.Copy(c, c)
		c.Close()
	}()

	client := dialAsClient(t, clientAddr, target.Addr().String())
	defer client.Close()
	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	if got := readExactly(t, client, 4); string(got) != "ping" {
		t.Errorf("expected echoed ping, got %q", got)
	}
}

func TestDirectDialFailureClosesClient(t *testing.T) {
	clientAddr, _, _ := startRelay(t, testConfig())

	// Grab a port and close it again so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	dead := ln.Addr().String()
	ln.Close()

	client := dialAsClient(t, clientAddr, dead)
	defer client.Close()
	expectEOF(t, client)
}

func TestRefuseModeSameRole(t *testing.T) {
	c := testConfig()
	c.Refuse = true
	clientAddr, serverAddr, state := startRelay(t, c)

	serverA := dialAsServer(t, serverAddr, "x")
	defer serverA.Close()
	waitFor(t, "first server to park", func() bool { return len(state.getStats().Entries) == 1 })

	serverB := dialAsServer(t, serverAddr, "x")
	expectEOF(t, serverB)
	serverB.Close()

	// The incumbent still pairs with a later client.
	client := dialAsClient(t, clientAddr, "ID:x")
	defer client.Close()
	if _, err := serverA.Write([]byte("hi")); err != nil {
		t.Fatalf("server write: %v", err)
	}
	if got := readExactly(t, client, 2); string(got) != "hi" {
		t.Errorf("expected hi from incumbent, got %q", got)
	}
}

func TestReplaceModeSameRole(t *testing.T) {
	clientAddr, serverAddr, state := startRelay(t, testConfig())

	serverA := dialAsServer(t, serverAddr, "x")
	waitFor(t, "first server to park", func() bool { return len(state.getStats().Entries) == 1 })

	serverB := dialAsServer(t, serverAddr, "x")
	defer serverB.Close()
	expectEOF(t, serverA)
	serverA.Close()

	client := dialAsClient(t, clientAddr, "ID:x")
	defer client.Close()
	if _, err := serverB.Write([]byte("hi")); err != nil {
		t.Fatalf("server write: %v", err)
	}
	if got := readExactly(t, client, 2); string(got) != "hi" {
		t.Errorf("expected hi from replacement, got %q", got)
	}
}

func TestServerWithoutIDIsClosed(t *testing.T) {
	_, serverAddr, state := startRelay(t, testConfig())

	c, err := net.Dial("tcp", serverAddr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.Write(paddedBlock("definitely not an id tag")); err != nil {
		t.Fatal(err)
	}
	expectEOF(t, c)
	if n := len(state.getStats().Entries); n != 0 {
		t.Errorf("nothing should be parked, got %d", n)
	}
}
