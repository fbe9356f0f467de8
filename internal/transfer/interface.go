package transfer

import (
	"context"

	"github.com/The-Promised-Neverland/vsharing/internal/models"
	"github.com/The-Promised-Neverland/vsharing/internal/store"
)

// MessageSender delivers envelopes to live connections. Send blocks until the
// message is queued, the connection goes away or ctx is done.
type MessageSender interface {
	Send(ctx context.Context, connID string, msg models.Message) error
	IsConnected(connID string) bool
}

type FileSource interface {
	Open(id string) (*store.Source, error)
}

type Sessions interface {
	HasFile(connID, fileID string) bool
	MarkReceived(connID, fileID string)
}
