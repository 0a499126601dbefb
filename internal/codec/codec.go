// Package codec implements the newline-delimited JSON frame codec used on
// the Execution Host link (spec §4.A): a lazy, finite-on-close sequence of
// UTF-8 JSON text frames delimited by '\n', with oversize-frame recovery
// and atomic per-frame writes.
package codec

import (
	"bufio"
	"fmt"
	"io"
	"sync"
)

// MaxFrameBytes is the largest frame the reader will accept before
// discarding it and resynchronizing on the next '\n' (spec §4.A).
const MaxFrameBytes = 1 << 20 // 1 MiB

// ErrOversizeFrame is returned by Reader.ReadFrame for a discarded frame;
// callers should log it and continue reading — the session survives
// (spec §8 property 11).
type ErrOversizeFrame struct {
	Bytes int
}

func (e *ErrOversizeFrame) Error() string {
	return fmt.Sprintf("codec: frame of %d bytes exceeds %d byte limit, discarded", e.Bytes, MaxFrameBytes)
}

// Reader reads '\n'-delimited frames off a byte stream, recovering from
// oversize lines by resynchronizing on the next delimiter instead of
// closing the stream.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r for frame-at-a-time reading.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 4096)}
}

// ReadFrame returns the next frame's raw bytes (without the trailing '\n').
// On an oversize frame it returns (nil, *ErrOversizeFrame) after consuming
// and discarding the offending line, leaving the stream ready for the next
// frame (spec §8 property 11: the reader resynchronizes and the session
// survives). On stream end it returns (nil, io.EOF).
func (r *Reader) ReadFrame() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.br.ReadSlice('\n')
		buf = append(buf, chunk...)
		if err == nil {
			if len(buf)-1 > MaxFrameBytes { // frame length excludes the '\n'
				return nil, &ErrOversizeFrame{Bytes: len(buf)}
			}
			return trimNewline(buf), nil
		}
		if err == bufio.ErrBufferFull {
			if len(buf) > MaxFrameBytes {
				// Already over budget; keep discarding until the delimiter
				// shows up so the next ReadFrame starts on a clean line.
				if discardErr := r.discardUntilNewline(); discardErr != nil {
					return nil, discardErr
				}
				return nil, &ErrOversizeFrame{Bytes: len(buf)}
			}
			continue
		}
		// err is io.EOF or a real read error; whatever we accumulated is an
		// incomplete final frame with no trailing delimiter — not a frame.
		if len(buf) == 0 {
			return nil, err
		}
		return nil, io.EOF
	}
}

func (r *Reader) discardUntilNewline() error {
	for {
		_, err := r.br.ReadSlice('\n')
		if err == nil {
			return nil
		}
		if err != bufio.ErrBufferFull {
			return err
		}
	}
}

func trimNewline(b []byte) []byte {
	n := len(b)
	if n > 0 && b[n-1] == '\n' {
		n--
	}
	if n > 0 && b[n-1] == '\r' {
		n--
	}
	return b[:n]
}

// Writer writes '\n'-delimited frames to a byte stream. Writes are
// serialized so concurrent callers never interleave partial frames
// (spec §4.A: "atomic per frame").
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w for frame-at-a-time writing.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame appends exactly one '\n' after payload and writes the result
// as a single atomic operation relative to other WriteFrame calls on the
// same Writer.
func (w *Writer) WriteFrame(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(payload); err != nil {
		return fmt.Errorf("codec: write frame: %w", err)
	}
	if _, err := w.w.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("codec: write frame delimiter: %w", err)
	}
	return nil
}
