package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const traceHeader = "X-Amzn-Trace-Id"

// ensureTraceID normalizes an inbound trace header the way the provider
// does: a missing Root segment is synthesized from the current time, a
// missing Parent segment gets a generated id, and client-supplied segments
// are preserved. The result always reads Root;Parent;rest.
func ensureTraceID(header string, now time.Time) string {
	var root, parent string
	var rest []string
	for _, seg := range strings.Split(header, ";") {
		seg = strings.TrimSpace(seg)
		switch {
		case seg == "":
		case strings.HasPrefix(seg, "Root="):
			root = seg
		case strings.HasPrefix(seg, "Parent="):
			parent = seg
		default:
			rest = append(rest, seg)
		}
	}
	if root == "" {
		root = fmt.Sprintf("Root=1-%08x-%s", now.Unix(), randomHex(24))
	}
	if parent == "" {
		parent = "Parent=" + randomHex(16)
	}
	return strings.Join(append([]string{root, parent}, rest...), ";")
}

func randomHex(n int) string {
	s := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	return s[:n]
}
