package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/matst80/vncrepeater/internal/obs"
)

// detachEnv marks the re-executed child of BG mode so it does not detach
// again.
const detachEnv = "VNCREPEATER_DETACHED"

func detached() bool { return os.Getenv(detachEnv) != "" }

// respawnDetached re-executes the repeater in its own session with the
// standard streams pointed at /dev/null, then lets the parent exit.
func respawnDetached() error {
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devnull.Close()
	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Env = append(os.Environ(), detachEnv+"=1")
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	cmd.SysProcAttr = detachSysProcAttr()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start detached child: %w", err)
	}
	obs.Info("supervisor.detached", obs.Fields{"child_pid": cmd.Process.Pid})
	return nil
}

// superviseLoop respawns a crashed dispatcher with a 1 second backoff. Fatal
// setup errors (exit code 2) and clean shutdowns end the loop.
func superviseLoop(ctx context.Context) int {
	for {
		code := serve(ctx)
		if ctx.Err() != nil || code == 0 || code == 2 {
			return code
		}
		obs.Error("supervisor.respawn", obs.Fields{"exit_code": code})
		select {
		case <-ctx.Done():
			return code
		case <-time.After(time.Second):
		}
	}
}

func writePidFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func removePidFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		obs.Error("pidfile.remove", obs.Fields{"path": path, "err": err.Error()})
	}
}
