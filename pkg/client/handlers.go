package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/The-Promised-Neverland/vsharing/internal/models"
	"github.com/The-Promised-Neverland/vsharing/internal/protocol"
)

func decode[T any](payload json.RawMessage, event string) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", event, err)
	}
	return v, nil
}

func (c *Client) registerDefaultHandlers() {
	c.handlers[protocol.EventTransferStarted] = func(payload json.RawMessage) error {
		started, err := decode[protocol.TransferStarted](payload, protocol.EventTransferStarted)
		if err != nil {
			return err
		}
		info := started.FileInfo
		c.log.Info("incoming transfer", "file_id", info.ID, "name", info.Name, "size", info.Size, "buffered", started.IsFromTempStorage)
		if c.receiver != nil {
			if err := c.receiver.Begin(info); err != nil {
				return err
			}
		}
		c.emit(Event{Type: protocol.EventTransferStarted, FileID: info.ID, FileInfo: &info})
		return nil
	}

	c.handlers[protocol.EventFileData] = func(payload json.RawMessage) error {
		data, err := decode[protocol.FileData](payload, protocol.EventFileData)
		if err != nil {
			return err
		}
		if c.receiver != nil {
			if err := c.receiver.WriteData(data); err != nil {
				c.receiver.Abort(data.FileID)
				return err
			}
		}
		c.emit(Event{Type: protocol.EventFileData, FileID: data.FileID, Progress: data.Progress})
		return nil
	}

	c.handlers[protocol.EventFileChunk] = func(payload json.RawMessage) error {
		chunk, err := decode[protocol.FileChunk](payload, protocol.EventFileChunk)
		if err != nil {
			return err
		}
		if c.receiver != nil {
			if _, err := c.receiver.WriteChunk(chunk); err != nil {
				c.receiver.Abort(chunk.FileID)
				return err
			}
		}
		c.emit(Event{Type: protocol.EventFileChunk, FileID: chunk.FileID, Progress: chunk.Progress})
		return nil
	}

	c.handlers[protocol.EventTransferProgress] = func(payload json.RawMessage) error {
		p, err := decode[protocol.TransferProgress](payload, protocol.EventTransferProgress)
		if err != nil {
			return err
		}
		c.emit(Event{Type: protocol.EventTransferProgress, FileID: p.FileID, Progress: p.Progress})
		return nil
	}

	c.handlers[protocol.EventTransferComplete] = func(payload json.RawMessage) error {
		done, err := decode[protocol.TransferComplete](payload, protocol.EventTransferComplete)
		if err != nil {
			return err
		}
		ev := Event{Type: protocol.EventTransferComplete, FileID: done.FileID, Progress: 100, FileInfo: done.FileInfo}
		if done.AlreadyDownloaded {
			ev.Message = "already downloaded"
		}
		if done.SaveToFile && c.receiver != nil {
			path, err := c.receiver.Complete(done.FileID)
			if err != nil {
				ev.Type = protocol.EventTransferError
				ev.Message = err.Error()
				c.emit(ev)
				return err
			}
			ev.Path = path
			c.log.Info("file saved", "file_id", done.FileID, "path", path)
			if err := c.Send(context.Background(), models.Message{
				Type:    protocol.EventFileSaved,
				Payload: protocol.FileSavedRequest{FileID: done.FileID},
			}); err != nil {
				c.log.Warn("failed to acknowledge save", "file_id", done.FileID, "error", err)
			}
		}
		c.emit(ev)
		return nil
	}

	c.handlers[protocol.EventTransferError] = func(payload json.RawMessage) error {
		te, err := decode[protocol.TransferError](payload, protocol.EventTransferError)
		if err != nil {
			return err
		}
		if c.receiver != nil && te.FileID != "" {
			c.receiver.Abort(te.FileID)
		}
		c.emit(Event{Type: protocol.EventTransferError, FileID: te.FileID, Message: te.Message})
		return nil
	}

	c.handlers[protocol.EventTransferCancelled] = func(payload json.RawMessage) error {
		tc, err := decode[protocol.TransferCancelled](payload, protocol.EventTransferCancelled)
		if err != nil {
			return err
		}
		if c.receiver != nil && tc.FileID != "" {
			c.receiver.Abort(tc.FileID)
		}
		c.emit(Event{Type: protocol.EventTransferCancelled, FileID: tc.FileID, Message: tc.Reason})
		return nil
	}

	c.handlers[protocol.EventUserJoined] = func(payload json.RawMessage) error {
		joined, err := decode[protocol.UserJoined](payload, protocol.EventUserJoined)
		if err != nil {
			return err
		}
		c.emit(Event{Type: protocol.EventUserJoined, PeerID: joined.ID, Message: joined.RoomID})
		return nil
	}

	c.handlers[protocol.EventFileCheckResult] = func(payload json.RawMessage) error {
		res, err := decode[protocol.FileCheckResult](payload, protocol.EventFileCheckResult)
		if err != nil {
			return err
		}
		c.emit(Event{Type: protocol.EventFileCheckResult, FileID: res.FileID, HasFile: res.HasFile, FileInfo: res.FileInfo})
		return nil
	}
}
