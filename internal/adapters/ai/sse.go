package ai

import (
	"bufio"
	"io"
	"strings"
)

// sseDone is the terminal sentinel OpenRouter sends on its data channel.
const sseDone = "[DONE]"

// SSEReader yields the payload of `data:` records from a Server-Sent-Events
// stream. Partial lines split across network reads are buffered until a full
// newline-terminated record arrives; comment lines and empty keep-alives are
// skipped. It is independent of any provider payload schema.
type SSEReader struct {
	scanner *bufio.Scanner
	done    bool
}

// NewSSEReader wraps a raw response body.
func NewSSEReader(r io.Reader) *SSEReader {
	scanner := bufio.NewScanner(r)
	// Analysis deltas are small, but a single record can carry a large
	// JSON payload; allow up to 1MB per line.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &SSEReader{scanner: scanner}
}

// Next returns the next data payload.
// ok is false when the stream is exhausted or the [DONE] sentinel was seen.
func (r *SSEReader) Next() (payload string, ok bool, err error) {
	if r.done {
		return "", false, nil
	}

	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		payload = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == sseDone {
			r.done = true
			return "", false, nil
		}
		return payload, true, nil
	}

	r.done = true
	return "", false, r.scanner.Err()
}
