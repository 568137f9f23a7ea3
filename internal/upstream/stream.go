package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Delta is one incremental event from the completion stream. Content may be
// empty on frames that only carry a finish reason.
type Delta struct {
	Content      string
	FinishReason string
}

// chunk mirrors the provider's streaming frame format.
type chunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Stream is a lazy, finite, non-restartable sequence of deltas read from one
// response body. It is not safe for concurrent use; exactly one reader (the
// stream worker) consumes it.
type Stream struct {
	body io.ReadCloser
	log  zerolog.Logger

	// buf holds raw bytes read from the body. Only complete
	// newline-terminated lines are parsed; a trailing partial frame stays in
	// buf until the next read completes it.
	buf     []byte
	scratch [4096]byte
	done    bool

	closeOnce sync.Once
	closeErr  error
}

func newStream(body io.ReadCloser, log zerolog.Logger) *Stream {
	return &Stream{body: body, log: log}
}

// Recv returns the next delta. It returns io.EOF after the terminal sentinel
// frame or stream closure; any other error means the stream failed mid-way.
func (s *Stream) Recv() (Delta, error) {
	if s.done {
		return Delta{}, io.EOF
	}

	for {
		line, ok := s.nextLine()
		if !ok {
			n, err := s.body.Read(s.scratch[:])
			if n > 0 {
				s.buf = append(s.buf, s.scratch[:n]...)
				continue
			}
			if err == io.EOF {
				// Closure without a [DONE] sentinel still terminates the
				// stream; a dangling partial frame is dropped.
				s.done = true
				s.Close()
				return Delta{}, io.EOF
			}
			if err != nil {
				s.done = true
				s.Close()
				return Delta{}, fmt.Errorf("read upstream stream: %w", err)
			}
			continue
		}

		delta, terminal, ok := s.parseLine(line)
		if terminal {
			s.done = true
			s.Close()
			return Delta{}, io.EOF
		}
		if ok {
			return delta, nil
		}
	}
}

// nextLine pops one complete newline-terminated line from the buffer.
func (s *Stream) nextLine() (string, bool) {
	idx := bytes.IndexByte(s.buf, '\n')
	if idx < 0 {
		return "", false
	}
	line := string(s.buf[:idx])
	s.buf = s.buf[idx+1:]
	return strings.TrimRight(line, "\r"), true
}

// parseLine interprets one event-stream line. Malformed frames are skipped,
// never fatal: a single corrupt delta must not abort a healthy stream.
func (s *Stream) parseLine(line string) (delta Delta, terminal, ok bool) {
	if line == "" {
		return Delta{}, false, false
	}
	data, found := strings.CutPrefix(line, "data: ")
	if !found {
		// Comments, event names and other SSE fields are ignored.
		return Delta{}, false, false
	}
	if data == "[DONE]" {
		return Delta{}, true, false
	}

	var c chunk
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		s.log.Warn().Err(err).Str("frame", truncate(data, 200)).Msg("skipping malformed stream frame")
		return Delta{}, false, false
	}
	if len(c.Choices) == 0 {
		return Delta{}, false, false
	}

	delta = Delta{
		Content:      c.Choices[0].Delta.Content,
		FinishReason: c.Choices[0].FinishReason,
	}
	if delta.Content == "" && delta.FinishReason == "" {
		// Role-only or keep-alive frame.
		return Delta{}, false, false
	}
	return delta, false, true
}

// Close releases the underlying connection. It is idempotent: a double
// release is a no-op, not a fault.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
