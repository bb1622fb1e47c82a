// testpeer speaks the repeater handshake from either side and then pipes
// stdin/stdout through the relay. Handy for poking a running repeater
// without a real VNC viewer or server:
//
//	testpeer -mode server -addr localhost:5500 -id demo
//	testpeer -mode client -addr localhost:5900 -id demo
//	testpeer -mode client -addr localhost:5900 -target 127.0.0.1:5901
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"

	"github.com/matst80/vncrepeater/internal/proto"
)

func main() {
	var mode string
	var addr string
	var id string
	var target string
	var bufSize int
	var noRFB bool
	flag.StringVar(&mode, "mode", "client", "which listener to dial: client or server")
	flag.StringVar(&addr, "addr", "127.0.0.1:5900", "repeater address")
	flag.StringVar(&id, "id", "", "rendezvous id to announce")
	flag.StringVar(&target, "target", "", "direct host:port target (client mode only, instead of -id)")
	flag.IntVar(&bufSize, "bufsize", proto.DefaultBlockSize, "handshake block size; must match the repeater")
	flag.BoolVar(&noRFB, "no-rfb", false, "do not expect the RFB banner in client mode")
	flag.Parse()

	if (id == "") == (target == "") {
		log.Fatal("exactly one of -id or -target is required")
	}
	if mode != "client" && mode != "server" {
		log.Fatalf("unknown mode %q", mode)
	}
	if mode == "server" && target != "" {
		log.Fatal("-target only makes sense in client mode")
	}

	c, err := net.Dial("tcp", addr)
	if err != nil {
		log.Fatalf("dial %s: %v", addr, err)
	}
	defer c.Close()

	if mode == "client" && !noRFB {
		banner := make([]byte, len(proto.Banner))
		if _, err := io.ReadFull(c, banner); err != nil {
			log.Fatalf("read banner: %v", err)
		}
		log.Printf("banner: %q", banner)
	}

	block := make([]byte, bufSize)
	if id != "" {
		copy(block, fmt.Sprintf("ID:%s", id))
	} else {
		copy(block, target)
	}
	if _, err := c.Write(block); err != nil {
		log.Fatalf("write handshake: %v", err)
	}
	log.Printf("handshake sent (%s mode), piping stdin/stdout", mode)

	go func() {
		_, _ = io.Copy(c, os.Stdin)
		if tc, ok := c.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
	}()
	if _, err := io.Copy(os.Stdout, c); err != nil {
		log.Printf("relay read ended: %v", err)
	}
}
