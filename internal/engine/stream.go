package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/flm-project/flm-gateway/internal/domain"
)

// idleTimeout is the per-stream no-bytes-received deadline (spec §4.D.2).
const idleTimeout = 60 * time.Second

// idleTimeoutReader closes body if no Read completes within idleTimeout of
// the previous one, turning a stalled engine connection into a scanner
// error instead of an indefinite block.
type idleTimeoutReader struct {
	body     io.ReadCloser
	timeout  time.Duration
	timer    *time.Timer
	timedOut atomic.Bool
}

func newIdleTimeoutReader(body io.ReadCloser) *idleTimeoutReader {
	return newIdleTimeoutReaderWithTimeout(body, idleTimeout)
}

func newIdleTimeoutReaderWithTimeout(body io.ReadCloser, timeout time.Duration) *idleTimeoutReader {
	r := &idleTimeoutReader{body: body, timeout: timeout}
	r.timer = time.AfterFunc(timeout, func() {
		r.timedOut.Store(true)
		body.Close()
	})
	return r
}

func (r *idleTimeoutReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if err == nil {
		r.timer.Reset(r.timeout)
	}
	return n, err
}

func (r *idleTimeoutReader) Close() error {
	r.timer.Stop()
	return r.body.Close()
}

// streamErrText reports the idle-timeout message when scanErr was caused by
// an idle timeout closing body mid-read, falling back to scanErr's own text.
func streamErrText(r *idleTimeoutReader, scanErr error) string {
	if r.timedOut.Load() {
		return "engine stream idle timeout: no data received for 60s"
	}
	return scanErr.Error()
}

// decodeNDJSON reads newline-delimited JSON objects from body, decoding each
// with decode into a ChatStreamChunk and sending it on out. It stops after
// the first chunk with IsDone=true, on EOF, on ctx cancellation, or on a
// read/decode error (emitted as one final error chunk). At most one
// terminal chunk is sent and nothing follows it; a body that reaches EOF
// without a done line, or a cancelled ctx, closes out with no terminal chunk.
func decodeNDJSON(ctx context.Context, body io.ReadCloser, decode func([]byte) (domain.ChatStreamChunk, bool, error), out chan<- domain.ChatStreamChunk) {
	idle := newIdleTimeoutReader(body)
	defer close(out)
	defer idle.Close()

	scanner := bufio.NewScanner(idle)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		chunk, done, err := decode(line)
		if err != nil {
			select {
			case out <- domain.ChatStreamChunk{IsDone: true, ErrText: err.Error()}:
			case <-ctx.Done():
			}
			return
		}

		select {
		case out <- chunk:
		case <-ctx.Done():
			return
		}

		if done {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case out <- domain.ChatStreamChunk{IsDone: true, ErrText: streamErrText(idle, err)}:
		case <-ctx.Done():
		}
	}
}

// decodeSSE reads "data: {...}" lines terminated by "data: [DONE]" from
// body, decoding each payload with decode (spec §4.D.1, OpenAI-compatible
// engines).
func decodeSSE(ctx context.Context, body io.ReadCloser, decode func([]byte) (domain.ChatStreamChunk, error), out chan<- domain.ChatStreamChunk) {
	idle := newIdleTimeoutReader(body)
	defer close(out)
	defer idle.Close()

	scanner := bufio.NewScanner(idle)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return
		}

		chunk, err := decode([]byte(payload))
		if err != nil {
			select {
			case out <- domain.ChatStreamChunk{IsDone: true, ErrText: err.Error()}:
			case <-ctx.Done():
			}
			return
		}

		select {
		case out <- chunk:
		case <-ctx.Done():
			return
		}
		if chunk.IsDone {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case out <- domain.ChatStreamChunk{IsDone: true, ErrText: streamErrText(idle, err)}:
		case <-ctx.Done():
		}
	}
}

// mustMarshal is used only for building test fixtures and request bodies
// where failure is a programmer error.
func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
