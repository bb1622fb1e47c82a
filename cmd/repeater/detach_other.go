//go:build !unix

package main

import "syscall"

// No session detach on this platform; BG degrades to a plain background
// child.
func detachSysProcAttr() *syscall.SysProcAttr {
	return nil
}
