package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/The-Promised-Neverland/vsharing/internal/models"
	"github.com/The-Promised-Neverland/vsharing/internal/protocol"
	"github.com/The-Promised-Neverland/vsharing/internal/transfer"
)

var ErrBadPayload = errors.New("invalid event payload")

type Transfers interface {
	Start(ctx context.Context, senderID, fileID, receiverID string) (*transfer.Outcome, error)
}

type Rooms interface {
	JoinRoom(connID, roomID string) []string
	HasFile(connID, fileID string) bool
}

type Catalog interface {
	Info(id string) (models.FileInfo, bool)
}

// RegisterDefaultHandlers wires the relay's inbound events.
func (h *Hub) RegisterDefaultHandlers(transfers Transfers, rooms Rooms, catalog Catalog) {
	h.RegisterHandler(protocol.EventStartTransfer, func(ctx context.Context, c *Connection, payload json.RawMessage) error {
		var req protocol.StartTransferRequest
		if err := json.Unmarshal(payload, &req); err != nil || req.FileID == "" || req.ReceiverID == "" {
			sendErr := h.Send(ctx, c.ID, models.Message{
				Type:    protocol.EventTransferError,
				Payload: protocol.TransferError{FileID: req.FileID, Message: "fileId and receiverId are required"},
			})
			return errors.Join(fmt.Errorf("%w: start-transfer", ErrBadPayload), sendErr)
		}
		out, err := transfers.Start(ctx, c.ID, req.FileID, req.ReceiverID)
		if err != nil {
			if errors.Is(err, transfer.ErrNotFound) || errors.Is(err, transfer.ErrBusy) {
				h.log.Info("start-transfer refused", "conn", c.ID, "file_id", req.FileID, "reason", err)
				return nil
			}
			return err
		}
		h.log.Debug("start-transfer accepted", "conn", c.ID, "file_id", req.FileID, "state", out.State)
		return nil
	})

	h.RegisterHandler(protocol.EventJoinRoom, func(ctx context.Context, c *Connection, payload json.RawMessage) error {
		roomID, err := decodeRoomID(payload)
		if err != nil {
			return err
		}
		peers := rooms.JoinRoom(c.ID, roomID)
		h.log.Info("client joined room", "conn", c.ID, "room", roomID, "peers", len(peers))
		joined := models.Message{Type: protocol.EventUserJoined, Payload: protocol.UserJoined{ID: c.ID, RoomID: roomID}}
		var errs []error
		for _, peer := range peers {
			if err := h.Send(ctx, peer, joined); err != nil && !errors.Is(err, ErrNotConnected) {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	h.RegisterHandler(protocol.EventCheckFile, func(ctx context.Context, c *Connection, payload json.RawMessage) error {
		var req protocol.CheckFileRequest
		if err := json.Unmarshal(payload, &req); err != nil || req.FileID == "" {
			return fmt.Errorf("%w: check-file", ErrBadPayload)
		}
		result := protocol.FileCheckResult{FileID: req.FileID, HasFile: rooms.HasFile(c.ID, req.FileID)}
		if result.HasFile {
			if info, ok := catalog.Info(req.FileID); ok {
				result.FileInfo = &info
			}
		}
		return h.Send(ctx, c.ID, models.Message{Type: protocol.EventFileCheckResult, Payload: result})
	})

	h.RegisterHandler(protocol.EventFileSaved, func(ctx context.Context, c *Connection, payload json.RawMessage) error {
		var req protocol.FileSavedRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("%w: file-saved", ErrBadPayload)
		}
		h.log.Info("client saved file", "conn", c.ID, "file_id", req.FileID)
		return nil
	})
}

// decodeRoomID accepts {"roomId": "..."} or a bare JSON string.
func decodeRoomID(payload json.RawMessage) (string, error) {
	payload = bytes.TrimSpace(payload)
	var roomID string
	if len(payload) > 0 && payload[0] == '"' {
		if err := json.Unmarshal(payload, &roomID); err != nil {
			return "", fmt.Errorf("%w: join-room: %v", ErrBadPayload, err)
		}
	} else {
		var req protocol.JoinRoomRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return "", fmt.Errorf("%w: join-room: %v", ErrBadPayload, err)
		}
		roomID = req.RoomID
	}
	if roomID == "" {
		return "", fmt.Errorf("%w: join-room: room id is required", ErrBadPayload)
	}
	return roomID, nil
}
