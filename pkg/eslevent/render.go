package eslevent

import (
	"fmt"
	"strings"
)

// Render formats an event for humans: a title line, one indented line per header
// and the body, if any. It is used for verbose frame logging.
func Render(ev Event) string {
	var b strings.Builder
	b.WriteString(ev.String())
	b.WriteByte('\n')
	h := ev.Header()
	for _, k := range h.Keys() {
		fmt.Fprintf(&b, "    %s: %s\n", k, h.Get(k))
	}
	if body := eventBody(ev); body != "" {
		b.WriteString("    --\n")
		for _, line := range strings.Split(strings.TrimRight(body, "\n"), "\n") {
			b.WriteString("    ")
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func eventBody(ev Event) string {
	switch e := ev.(type) {
	case *APIResponse:
		return e.Body
	case *PlainText:
		return e.Body
	case *DisconnectNotice:
		return e.Body
	case *RudeRejection:
		return e.Body
	case *Unclassified:
		if len(e.Content) > 0 {
			return fmt.Sprintf("(%d bytes)", len(e.Content))
		}
	}
	return ""
}
