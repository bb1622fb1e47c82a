package obs

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

var (
	mu           sync.Mutex
	base         = log.New(os.Stdout, "", 0)
	pid          = os.Getpid()
	debugEnabled bool
)

// EnableDebug globally enables debug logs.
func EnableDebug(v bool) { debugEnabled = v }

// SetSink redirects all log output to the given file, opened for append.
// An empty path keeps the current sink.
func SetSink(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log sink: %w", err)
	}
	mu.Lock()
	base.SetOutput(f)
	mu.Unlock()
	return nil
}

type Fields map[string]any

func logWith(level, msg string, f Fields) {
	if f == nil {
		f = Fields{}
	}
	f["ts"] = time.Now().Format(time.RFC3339Nano)
	f["pid"] = pid
	f["level"] = level
	f["msg"] = msg
	b, err := json.Marshal(f)
	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		base.Printf("{\"level\":\"error\",\"msg\":\"log marshal failure\",\"err\":%q}", err.Error())
		return
	}
	base.Println(string(b))
}

func Info(msg string, f Fields)  { logWith("info", msg, f) }
func Error(msg string, f Fields) { logWith("error", msg, f) }
func Debug(msg string, f Fields) {
	if debugEnabled {
		logWith("debug", msg, f)
	}
}
