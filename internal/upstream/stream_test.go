package upstream

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
)

// fragmentReader returns its content in fixed fragments, deliberately
// splitting frames across reads.
type fragmentReader struct {
	fragments [][]byte
	closed    bool
	closes    int
}

func (r *fragmentReader) Read(p []byte) (int, error) {
	if len(r.fragments) == 0 {
		return 0, io.EOF
	}
	frag := r.fragments[0]
	r.fragments = r.fragments[1:]
	n := copy(p, frag)
	if n < len(frag) {
		r.fragments = append([][]byte{frag[n:]}, r.fragments...)
	}
	return n, nil
}

func (r *fragmentReader) Close() error {
	r.closed = true
	r.closes++
	return nil
}

func newTestStream(fragments ...string) (*Stream, *fragmentReader) {
	rd := &fragmentReader{}
	for _, f := range fragments {
		rd.fragments = append(rd.fragments, []byte(f))
	}
	return newStream(rd, zerolog.Nop()), rd
}

func collect(t *testing.T, s *Stream) []Delta {
	t.Helper()
	var deltas []Delta
	for {
		d, err := s.Recv()
		if err == io.EOF {
			return deltas
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		deltas = append(deltas, d)
	}
}

func TestStream_BasicDeltas(t *testing.T) {
	s, rd := newTestStream(
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n",
		"data: [DONE]\n\n",
	)

	deltas := collect(t, s)
	if len(deltas) != 2 {
		t.Fatalf("got %d deltas, want 2", len(deltas))
	}
	if deltas[0].Content+deltas[1].Content != "Hello" {
		t.Errorf("content = %q%q", deltas[0].Content, deltas[1].Content)
	}
	if !rd.closed {
		t.Error("body not closed after [DONE]")
	}
}

func TestStream_PartialFramesAcrossReads(t *testing.T) {
	// One frame split across three reads, plus a fragment boundary in the
	// middle of the next frame's prefix.
	s, _ := newTestStream(
		"data: {\"choices\":[{\"del",
		"ta\":{\"content\":\"abc\"}}]}\n\nda",
		"ta: {\"choices\":[{\"delta\":{\"content\":\"def\"}}]}\n\n",
		"data: [DONE]\n\n",
	)

	deltas := collect(t, s)
	if len(deltas) != 2 {
		t.Fatalf("got %d deltas, want 2", len(deltas))
	}
	if deltas[0].Content != "abc" || deltas[1].Content != "def" {
		t.Errorf("deltas = %+v", deltas)
	}
}

func TestStream_MalformedFrameSkipped(t *testing.T) {
	s, _ := newTestStream(
		"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n",
		"data: {not json at all\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"still ok\"}}]}\n\n",
		"data: [DONE]\n\n",
	)

	deltas := collect(t, s)
	if len(deltas) != 2 {
		t.Fatalf("got %d deltas, want 2 (malformed frame must be skipped)", len(deltas))
	}
}

func TestStream_FinishReasonFrame(t *testing.T) {
	s, _ := newTestStream(
		"data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n",
		"data: [DONE]\n\n",
	)

	deltas := collect(t, s)
	if len(deltas) != 2 {
		t.Fatalf("got %d deltas, want 2", len(deltas))
	}
	if deltas[1].FinishReason != "stop" {
		t.Errorf("finish reason = %q", deltas[1].FinishReason)
	}
}

func TestStream_EOFWithoutSentinel(t *testing.T) {
	s, rd := newTestStream(
		"data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"dangling",
	)

	deltas := collect(t, s)
	if len(deltas) != 1 {
		t.Fatalf("got %d deltas, want 1", len(deltas))
	}
	if !rd.closed {
		t.Error("body not closed on EOF")
	}
}

func TestStream_RoleOnlyFrameIgnored(t *testing.T) {
	s, _ := newTestStream(
		"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n",
		"data: [DONE]\n\n",
	)

	deltas := collect(t, s)
	if len(deltas) != 1 || deltas[0].Content != "hi" {
		t.Fatalf("deltas = %+v", deltas)
	}
}

func TestStream_CloseIdempotent(t *testing.T) {
	s, rd := newTestStream("data: [DONE]\n\n")

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if rd.closes != 1 {
		t.Errorf("body closed %d times, want 1", rd.closes)
	}

	// Recv after close surfaces EOF or an error, never a panic.
	if _, err := s.Recv(); err == nil {
		t.Error("Recv after Close should not succeed")
	}
}
