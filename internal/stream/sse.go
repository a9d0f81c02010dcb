// Package stream encodes workflow output for streaming transports: Server-Sent
// Events over HTTP and JSON messages over WebSocket. Both carry the same frame.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ShayCichocki/conductor/internal/workflow"
)

// ErrNoFlusher is returned when the response writer cannot flush, so events
// would not reach the client until the handler returns.
var ErrNoFlusher = errors.New("streaming not supported by response writer")

// Frame is one streamed event. The last frame of a stream has Done set; a
// failed stream ends with a Done frame whose Content is the error text.
type Frame struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// Sink receives frames in order.
type Sink interface {
	Send(f Frame) error
}

// Encode writes f as a single "data:" event.
func Encode(w io.Writer, f Frame) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", bytes.TrimRight(buf.Bytes(), "\n"))
	return err
}

// SSEWriter writes frames to an HTTP response as Server-Sent Events.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter prepares w for an event stream and writes the response headers.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrNoFlusher
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Send writes and flushes one event.
func (s *SSEWriter) Send(f Frame) error {
	if err := Encode(s.w, f); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Pump forwards chunks to sink until the terminal chunk. A failed run is sent
// as one Done frame carrying the error text. If chunks closes early, or ctx
// ends first, Pump returns without a terminal frame.
func Pump(ctx context.Context, sink Sink, chunks <-chan workflow.Chunk) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-chunks:
			if !ok {
				return io.ErrUnexpectedEOF
			}
			switch {
			case c.Err != nil:
				return sink.Send(Frame{Content: c.Err.Error(), Done: true})
			case c.Done:
				return sink.Send(Frame{Done: true})
			case c.Content == "":
				continue
			}
			if err := sink.Send(Frame{Content: c.Content}); err != nil {
				return err
			}
		}
	}
}
