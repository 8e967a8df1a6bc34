package observ

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var (
	outMu sync.Mutex
	out   io.Writer = os.Stdout
)

// SetOutput redirects structured log output (tests use this to keep stdout quiet).
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	out = w
}

func Log(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	kv["event"] = event
	b, _ := json.Marshal(kv)
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintln(out, string(b))
}
