// Package protocol defines the relay's socket events and the chunk framing
// used to stream a file to a receiving connection.
package protocol

import "github.com/The-Promised-Neverland/vsharing/internal/models"

// Inbound events (client → relay).
const (
	EventStartTransfer = "start-transfer"
	EventJoinRoom      = "join-room"
	EventCheckFile     = "check-file"
	EventFileSaved     = "file-saved"
)

// Outbound events (relay → client).
const (
	EventConnected         = "connected"
	EventUserJoined        = "user-joined"
	EventFileCheckResult   = "file-check-result"
	EventTransferStarted   = "transfer-started"
	EventFileData          = "file-data"
	EventFileChunk         = "file-chunk"
	EventTransferProgress  = "transfer-progress"
	EventTransferComplete  = "transfer-complete"
	EventTransferError     = "transfer-error"
	EventTransferCancelled = "transfer-cancelled"
)

type StartTransferRequest struct {
	FileID     string `json:"fileId"`
	ReceiverID string `json:"receiverId"`
}

type JoinRoomRequest struct {
	RoomID string `json:"roomId"`
}

type CheckFileRequest struct {
	FileID string `json:"fileId"`
}

type FileSavedRequest struct {
	FileID string `json:"fileId"`
}

type Connected struct {
	ID string `json:"id"`
}

type UserJoined struct {
	ID     string `json:"id"`
	RoomID string `json:"roomId"`
}

type FileCheckResult struct {
	FileID   string           `json:"fileId"`
	HasFile  bool             `json:"hasFile"`
	FileInfo *models.FileInfo `json:"fileInfo"`
}

type TransferStarted struct {
	FileInfo          models.FileInfo `json:"fileInfo"`
	SavePath          string          `json:"savePath"`
	IsFromTempStorage bool            `json:"isFromTempStorage"`
}

// FileData carries a whole buffered file in one frame.
type FileData struct {
	FileID   string          `json:"fileId"`
	Data     string          `json:"data"`
	FileInfo models.FileInfo `json:"fileInfo"`
	Progress int             `json:"progress"`
}

type FileChunk struct {
	FileID   string `json:"fileId"`
	Chunk    string `json:"chunk"`
	Progress int    `json:"progress"`
}

type TransferProgress struct {
	FileID   string `json:"fileId"`
	Progress int    `json:"progress"`
}

type TransferComplete struct {
	FileID            string           `json:"fileId,omitempty"`
	AlreadyDownloaded bool             `json:"alreadyDownloaded,omitempty"`
	FileInfo          *models.FileInfo `json:"fileInfo,omitempty"`
	SavePath          string           `json:"savePath,omitempty"`
	SaveToFile        bool             `json:"saveToFile,omitempty"`
}

type TransferError struct {
	FileID  string `json:"fileId,omitempty"`
	Message string `json:"message"`
}

type TransferCancelled struct {
	FileID string `json:"fileId,omitempty"`
	Reason string `json:"reason,omitempty"`
}
