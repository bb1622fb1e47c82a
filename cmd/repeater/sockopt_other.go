//go:build !unix

package main

import "syscall"

func reuseAddrControl(bool) func(network, address string, c syscall.RawConn) error {
	return nil
}
