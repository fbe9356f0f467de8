package protocol

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func drain(t *testing.T, c *Chunker) []Frame {
	t.Helper()
	var frames []Frame
	for {
		f, err := c.Next()
		if errors.Is(err, io.EOF) {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, f)
	}
}

func TestProgress(t *testing.T) {
	cases := []struct {
		sent, total int64
		want        int
	}{
		{0, 100, 0},
		{1, 200, 1},
		{1, 3, 33},
		{2, 3, 67},
		{50, 100, 50},
		{100, 100, 100},
		{150, 100, 100},
		{0, 0, 100},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Progress(tc.sent, tc.total), "sent=%d total=%d", tc.sent, tc.total)
	}
}

func TestChunkerPartialTail(t *testing.T) {
	src := randomBytes(t, 300*1024)
	frames := drain(t, NewChunker(bytes.NewReader(src), int64(len(src)), DefaultChunkSize))

	require.Len(t, frames, 5)
	progress := make([]int, 0, len(frames))
	for i, f := range frames {
		assert.Equal(t, int64(i*DefaultChunkSize), f.Offset)
		progress = append(progress, f.Progress)
	}
	assert.Equal(t, []int{21, 43, 64, 85, 100}, progress)
	assert.True(t, frames[4].Final)
	assert.Len(t, frames[4].Data, 300*1024-4*DefaultChunkSize)
}

func TestChunkerExactMultiple(t *testing.T) {
	src := randomBytes(t, 2*DefaultChunkSize)
	c := NewChunker(bytes.NewReader(src), int64(len(src)), DefaultChunkSize)
	frames := drain(t, c)

	require.Len(t, frames, 2)
	assert.Equal(t, 50, frames[0].Progress)
	assert.Equal(t, 100, frames[1].Progress)
	assert.Equal(t, int64(len(src)), c.Sent())
}

func TestChunkerEmptyReader(t *testing.T) {
	c := NewChunker(bytes.NewReader(nil), 0, DefaultChunkSize)
	_, err := c.Next()
	assert.ErrorIs(t, err, io.EOF)
	_, err = c.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestChunkerReadError(t *testing.T) {
	boom := errors.New("disk gone")
	c := NewChunker(iotest.ErrReader(boom), 10, DefaultChunkSize)
	_, err := c.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	_, err = c.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestChunkerReconstruction(t *testing.T) {
	src := randomBytes(t, 5*1024+17)
	c := NewChunker(bytes.NewReader(src), int64(len(src)), 1024)

	var out bytes.Buffer
	asm := NewAssembler(&out)
	for _, f := range drain(t, c) {
		require.NoError(t, asm.AppendChunk(FileChunk{FileID: "f", Chunk: Encode(f.Data), Progress: f.Progress}))
	}

	require.NoError(t, asm.Verify(int64(len(src))))
	assert.Equal(t, src, out.Bytes())
	assert.Equal(t, 6, asm.Frames())
	assert.Equal(t, 100, asm.Progress())
}

func TestAssemblerRejectsBadFrames(t *testing.T) {
	var out bytes.Buffer
	asm := NewAssembler(&out)

	assert.Error(t, asm.AppendChunk(FileChunk{Chunk: "%%%not-base64", Progress: 10}))

	require.NoError(t, asm.AppendChunk(FileChunk{Chunk: Encode([]byte("ab")), Progress: 50}))
	assert.Error(t, asm.AppendChunk(FileChunk{Chunk: Encode([]byte("c")), Progress: 40}))
	assert.Error(t, asm.Verify(3))
}

func TestAssemblerSingleShot(t *testing.T) {
	var out bytes.Buffer
	asm := NewAssembler(&out)
	require.NoError(t, asm.AppendData(FileData{FileID: "f", Data: Encode([]byte("hello")), Progress: 100}))
	require.NoError(t, asm.Verify(5))
	assert.Equal(t, "hello", out.String())
}
