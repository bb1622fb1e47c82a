package proto

import (
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"time"
)

// Banner is the RFB greeting written to viewer connections before the
// handshake block is read. The zero version tells the viewer it is talking
// to a repeater rather than a VNC server.
const Banner = "RFB 000.000\n"

const (
	DefaultBlockSize   = 250
	DefaultInitTimeout = 5 * time.Second
)

// Role tells the handshake which side of the relay a connection arrived on.
type Role int8

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Kind classifies a parsed handshake block.
type Kind int8

const (
	// KindID is a rendezvous request: park or pair under Intent.ID.
	KindID Kind = iota
	// KindDirect is a client-supplied host:port the relay should dial.
	KindDirect
)

// Intent is the decoded outcome of a handshake block.
type Intent struct {
	Kind Kind
	ID   string
	Host string
	Port int
}

var ErrMalformed = errors.New("malformed handshake")

var idPattern = regexp.MustCompile(`^ID:(\w+)`)

// WriteBanner sends the 12-byte RFB greeting. A short or failed write is an
// error; the caller closes the socket.
func WriteBanner(c net.Conn, timeout time.Duration) error {
	if err := c.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	n, err := io.WriteString(c, Banner)
	_ = c.SetWriteDeadline(time.Time{})
	if err != nil {
		return fmt.Errorf("write banner: %w", err)
	}
	if n != len(Banner) {
		return fmt.Errorf("write banner: short write (%d/%d)", n, len(Banner))
	}
	return nil
}

// ReadGreeting reads the fixed-size opening block. The repeater protocol
// reserves the whole block, so anything short of size bytes before the
// deadline is a protocol error.
func ReadGreeting(c net.Conn, size int, timeout time.Duration) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	if err := c.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := io.ReadFull(c, buf)
	_ = c.SetReadDeadline(time.Time{})
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, fmt.Errorf("greeting stalled after %d/%d bytes: %w", n, size, err)
		}
		return nil, fmt.Errorf("greeting short read (%d/%d): %w", n, size, err)
	}
	return buf, nil
}

// Classify decodes a greeting block. An ID tag wins for either role; clients
// may instead name a direct host:port target. Anything else is malformed.
func Classify(role Role, block []byte) (Intent, error) {
	if m := idPattern.FindSubmatch(block); m != nil {
		return Intent{Kind: KindID, ID: string(m[1])}, nil
	}
	if role == RoleClient {
		host, port, err := ParseTarget(block)
		if err != nil {
			return Intent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return Intent{Kind: KindDirect, Host: host, Port: port}, nil
	}
	return Intent{}, fmt.Errorf("%w: server greeting without ID tag", ErrMalformed)
}
