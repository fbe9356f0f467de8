package transfer

import (
	"errors"
	"io"

	"github.com/The-Promised-Neverland/vsharing/internal/metrics"
	"github.com/The-Promised-Neverland/vsharing/internal/models"
	"github.com/The-Promised-Neverland/vsharing/internal/protocol"
)

// stream reads the disk copy frame by frame. The state is re-checked under
// t.mu before every frame, so nothing is emitted once Cancel has run.
func (m *Manager) stream(t *transfer) {
	defer m.wg.Done()

	f, err := m.openFile(t.source.Path)
	if err != nil {
		m.fail(t, err)
		return
	}
	defer f.Close()

	chunker := protocol.NewChunker(f, t.source.Info.Size, m.chunkSize)
	for {
		frame, err := chunker.Next()
		if errors.Is(err, io.EOF) {
			t.mu.Lock()
			m.completeLocked(t)
			t.mu.Unlock()
			return
		}
		if err != nil {
			m.fail(t, err)
			return
		}

		t.mu.Lock()
		if t.current() != StateStreaming {
			t.mu.Unlock()
			return
		}
		err = m.sender.Send(t.ctx, t.receiverID, models.Message{
			Type: protocol.EventFileChunk,
			Payload: protocol.FileChunk{
				FileID:   t.fileID,
				Chunk:    protocol.Encode(frame.Data),
				Progress: frame.Progress,
			},
		})
		if err == nil {
			t.sent.Store(frame.Offset + int64(len(frame.Data)))
			metrics.ChunksSent.Inc()
			metrics.BytesSent.Add(float64(len(frame.Data)))
			err = m.sender.Send(t.ctx, t.senderID, models.Message{
				Type:    protocol.EventTransferProgress,
				Payload: protocol.TransferProgress{FileID: t.fileID, Progress: frame.Progress},
			})
		}
		t.mu.Unlock()
		if err != nil {
			m.abandon(t, err)
			return
		}
	}
}
