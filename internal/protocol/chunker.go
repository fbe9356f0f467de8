package protocol

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
)

// DefaultChunkSize is the frame size used for disk-backed streams.
const DefaultChunkSize = 64 * 1024

// Frame is one bounded slice of a streamed file.
type Frame struct {
	Offset   int64
	Data     []byte
	Progress int
	Final    bool
}

// Progress returns min(100, round(sent/total*100)). An empty file is 100% done.
func Progress(sent, total int64) int {
	if total <= 0 {
		return 100
	}
	p := int(math.Round(float64(sent) / float64(total) * 100))
	if p > 100 {
		return 100
	}
	return p
}

// Chunker splits a reader into fixed-size frames in offset order.
// A trailing partial frame is reported with progress forced to 100.
type Chunker struct {
	r     io.Reader
	size  int
	total int64
	sent  int64
	buf   []byte
	done  bool
}

func NewChunker(r io.Reader, total int64, size int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &Chunker{
		r:     r,
		size:  size,
		total: total,
		buf:   make([]byte, size),
	}
}

// Next returns the next frame, or io.EOF once the reader is exhausted.
func (c *Chunker) Next() (Frame, error) {
	if c.done {
		return Frame{}, io.EOF
	}
	n, err := io.ReadFull(c.r, c.buf)
	switch {
	case errors.Is(err, io.EOF):
		c.done = true
		return Frame{}, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		c.done = true
		frame := c.frame(n)
		frame.Progress = 100
		frame.Final = true
		return frame, nil
	case err != nil:
		c.done = true
		return Frame{}, fmt.Errorf("read chunk at offset %d: %w", c.sent, err)
	}
	return c.frame(n), nil
}

// Sent is the number of bytes handed out so far.
func (c *Chunker) Sent() int64 {
	return c.sent
}

func (c *Chunker) frame(n int) Frame {
	data := make([]byte, n)
	copy(data, c.buf[:n])
	offset := c.sent
	c.sent += int64(n)
	return Frame{
		Offset:   offset,
		Data:     data,
		Progress: Progress(c.sent, c.total),
	}
}

func Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func Decode(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return b, nil
}
