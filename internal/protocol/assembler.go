package protocol

import (
	"fmt"
	"io"
)

// Assembler rebuilds a file on the receiving side by appending decoded
// frames in the order they arrive.
type Assembler struct {
	w        io.Writer
	written  int64
	frames   int
	progress int
}

func NewAssembler(w io.Writer) *Assembler {
	return &Assembler{w: w}
}

func (a *Assembler) AppendChunk(chunk FileChunk) error {
	return a.append(chunk.Chunk, chunk.Progress)
}

func (a *Assembler) AppendData(data FileData) error {
	return a.append(data.Data, data.Progress)
}

func (a *Assembler) append(encoded string, progress int) error {
	b, err := Decode(encoded)
	if err != nil {
		return err
	}
	if progress < a.progress {
		return fmt.Errorf("progress went backwards: %d after %d", progress, a.progress)
	}
	n, err := a.w.Write(b)
	a.written += int64(n)
	if err != nil {
		return fmt.Errorf("write frame %d: %w", a.frames, err)
	}
	a.frames++
	a.progress = progress
	return nil
}

// Verify checks the reassembled length against the advertised size.
func (a *Assembler) Verify(size int64) error {
	if a.written != size {
		return fmt.Errorf("size mismatch: got %d bytes, expected %d", a.written, size)
	}
	return nil
}

func (a *Assembler) Written() int64 {
	return a.written
}

func (a *Assembler) Frames() int {
	return a.frames
}

func (a *Assembler) Progress() int {
	return a.progress
}
