package liveness

import (
	"bufio"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/matst80/vncrepeater/internal/obs"
)

// tcpEstablished is the ESTABLISHED state code in /proc/net/tcp[6].
const tcpEstablished = 0x01

var tcpTables = []string{"/proc/net/tcp", "/proc/net/tcp6"}

func probe(c net.Conn) bool {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return true
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return true
	}
	var ino uint64
	var statErr error
	if err := raw.Control(func(fd uintptr) {
		var st unix.Stat_t
		statErr = unix.Fstat(int(fd), &st)
		ino = st.Ino
	}); err != nil || statErr != nil {
		obs.Debug("liveness.fstat", obs.Fields{"err": firstErr(err, statErr).Error()})
		return true
	}
	state, found := lookupSocketState(ino)
	if !found {
		obs.Debug("liveness.inode_missing", obs.Fields{"inode": ino})
		return true
	}
	return state == tcpEstablished
}

// lookupSocketState scans the kernel TCP tables for the socket inode and
// returns its connection state.
func lookupSocketState(ino uint64) (uint8, bool) {
	want := strconv.FormatUint(ino, 10)
	for _, path := range tcpTables {
		f, err := os.Open(path)
		if err != nil {
			obs.Debug("liveness.table", obs.Fields{"path": path, "err": err.Error()})
			continue
		}
		sc := bufio.NewScanner(f)
		sc.Scan() // header row
		for sc.Scan() {
			// sl local rem st tx:rx tr:when retrnsmt uid timeout inode ...
			fields := strings.Fields(sc.Text())
			if len(fields) < 10 || fields[9] != want {
				continue
			}
			st, err := strconv.ParseUint(fields[3], 16, 8)
			f.Close()
			if err != nil {
				return 0, false
			}
			return uint8(st), true
		}
		f.Close()
	}
	return 0, false
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
