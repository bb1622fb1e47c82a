package proto

import (
	"errors"
	"strconv"
	"strings"
)

// DefaultVNCPort is assumed when a direct target names no port.
const DefaultVNCPort = 5900

// ParseTarget decodes a client-supplied direct target from a greeting block.
// The block is NUL/whitespace padded on the wire; trailing padding is
// stripped before parsing "host:port" or a bare "host".
func ParseTarget(block []byte) (host string, port int, err error) {
	s := strings.TrimRight(string(block), "\x00 \t\r\n")
	if s == "" {
		return "", 0, errors.New("empty target")
	}
	idx := strings.LastIndex(s, ":")
	if idx == -1 {
		return s, DefaultVNCPort, nil
	}
	p, perr := strconv.Atoi(s[idx+1:])
	if perr != nil {
		return "", 0, errors.New("target port is not decimal")
	}
	host = s[:idx]
	if host == "" {
		return "", 0, errors.New("empty target host")
	}
	return host, NormalizePort(p), nil
}

// NormalizePort applies the repeater's display-number convention: negative
// ports are absolute port numbers, small ports are VNC display offsets.
func NormalizePort(p int) int {
	if p < 0 {
		return -p
	}
	if p < 200 {
		return p + DefaultVNCPort
	}
	return p
}
