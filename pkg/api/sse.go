package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"unicode"

	"github.com/codeready-toolchain/beacon/pkg/models"
)

// sseWriter serializes events into SSE frames on one connection. Send
// and Comment are safe for concurrent use; frames are never interleaved.
type sseWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// newSSEWriter wraps the response writer, which must support flushing.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

// Comment writes an SSE comment frame (": text"). Comments are ignored
// by EventSource clients but keep proxies from timing out the stream.
func (s *sseWriter) Comment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, ": "+text+"\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Send writes one event frame: the id line carries the event id, the
// event line the type, and the data lines the payload with the
// sequence number stitched in.
func (s *sseWriter) Send(ev models.Event) error {
	data := injectSequence(ev.Data, ev.Seq)

	var b strings.Builder
	b.WriteString("id: ")
	b.WriteString(ev.ID)
	b.WriteString("\nevent: ")
	b.WriteString(ev.Type)
	b.WriteString("\n")
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, b.String()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// injectSequence stitches a "_sequence" field into the front of a JSON
// object payload so clients can read the global order without parsing
// the SSE framing. Non-object payloads pass through unchanged.
func injectSequence(data string, seq int64) string {
	trimmed := strings.TrimLeftFunc(data, unicode.IsSpace)
	if !strings.HasPrefix(trimmed, "{") {
		return data
	}
	idx := strings.Index(data, "{")
	head, tail := data[:idx+1], data[idx+1:]
	field := fmt.Sprintf(`"_sequence":%d`, seq)
	if strings.TrimSpace(tail) == "}" {
		return head + field + tail
	}
	return head + field + "," + tail
}
