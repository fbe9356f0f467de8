// Package transfer runs sender→receiver file transfers over the relay socket.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/The-Promised-Neverland/vsharing/internal/metrics"
	"github.com/The-Promised-Neverland/vsharing/internal/models"
	"github.com/The-Promised-Neverland/vsharing/internal/protocol"
	"github.com/The-Promised-Neverland/vsharing/internal/store"
	"github.com/The-Promised-Neverland/vsharing/pkg/logger"
)

const (
	DefaultSavePath = "Received Files"
	notifyTimeout   = 10 * time.Second

	modeBuffered = "buffered"
	modeStream   = "stream"
)

// Reasons surfaced to clients in transfer-error and transfer-cancelled.
const (
	ReasonFileNotFound         = "File not found"
	ReasonReceiverNotConnected = "Receiver not connected"
	ReasonBusy                 = "Transfer already in progress"
	ReasonSenderReadError      = "Error reading file"
	ReasonReceiverReadError    = "Error transferring file"
	ReasonSenderDisconnected   = "Sender disconnected"
	ReasonReceiverDisconnected = "Receiver disconnected"
	ReasonShutdown             = "Relay shutting down"
)

type Options struct {
	ChunkSize int
	SavePath  string
	Logger    *slog.Logger
}

// Outcome is what Start knows when it returns. Disk transfers are still
// streaming at that point.
type Outcome struct {
	State             State
	AlreadyDownloaded bool
	Buffered          bool
}

type Snapshot struct {
	SenderID   string
	FileID     string
	ReceiverID string
	Buffered   bool
	SentBytes  int64
	TotalBytes int64
	State      State
	StartedAt  time.Time
}

type transfer struct {
	senderID   string
	fileID     string
	receiverID string
	source     *store.Source
	startedAt  time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// mu serialises emission to the receiver with terminal transitions.
	// state and sent are written under mu and may be read without it.
	mu    sync.Mutex
	state atomic.Int32
	sent  atomic.Int64
}

func (t *transfer) current() State {
	return State(t.state.Load())
}

func (t *transfer) mode() string {
	if t.source.Buffered {
		return modeBuffered
	}
	return modeStream
}

type Manager struct {
	files     FileSource
	sessions  Sessions
	sender    MessageSender
	chunkSize int
	savePath  string
	log       *slog.Logger
	openFile  func(path string) (io.ReadCloser, error)

	mu     sync.Mutex
	active map[string]*transfer
	wg     sync.WaitGroup
}

func NewManager(files FileSource, sessions Sessions, sender MessageSender, opts Options) *Manager {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = protocol.DefaultChunkSize
	}
	if opts.SavePath == "" {
		opts.SavePath = DefaultSavePath
	}
	if opts.Logger == nil {
		opts.Logger = logger.Log
	}
	return &Manager{
		files:     files,
		sessions:  sessions,
		sender:    sender,
		chunkSize: opts.ChunkSize,
		savePath:  opts.SavePath,
		log:       opts.Logger.With("component", "transfer"),
		openFile: func(path string) (io.ReadCloser, error) {
			return os.Open(path)
		},
		active: make(map[string]*transfer),
	}
}

// Start accepts a transfer of fileID from senderID to receiverID. Buffered
// files are delivered before Start returns; disk files stream in the
// background.
func (m *Manager) Start(ctx context.Context, senderID, fileID, receiverID string) (*Outcome, error) {
	src, err := m.files.Open(fileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.reject(ctx, senderID, fileID, ReasonFileNotFound)
			return nil, fmt.Errorf("%w: file %s", ErrNotFound, fileID)
		}
		m.reject(ctx, senderID, fileID, ReasonSenderReadError)
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, fileID, err)
	}
	if !m.sender.IsConnected(receiverID) {
		m.reject(ctx, senderID, fileID, ReasonReceiverNotConnected)
		return nil, fmt.Errorf("%w: receiver %s", ErrNotFound, receiverID)
	}

	m.mu.Lock()
	if cur, ok := m.active[senderID]; ok {
		m.mu.Unlock()
		serr := &StateError{SenderID: senderID, FileID: cur.fileID, State: cur.current()}
		m.reject(ctx, senderID, fileID, ReasonBusy)
		return nil, serr
	}
	if m.sessions.HasFile(receiverID, fileID) {
		m.mu.Unlock()
		metrics.TransfersTotal.WithLabelValues("already_downloaded", "").Inc()
		m.log.Info("receiver already has file", "sender", senderID, "receiver", receiverID, "file_id", fileID)
		err := m.sender.Send(ctx, senderID, models.Message{
			Type:    protocol.EventTransferComplete,
			Payload: protocol.TransferComplete{FileID: fileID, AlreadyDownloaded: true},
		})
		if err != nil {
			m.log.Warn("failed to notify sender", "sender", senderID, "error", err)
		}
		return &Outcome{State: StateCompleted, AlreadyDownloaded: true, Buffered: src.Buffered}, nil
	}
	tctx, cancel := context.WithCancel(context.Background())
	t := &transfer{
		senderID:   senderID,
		fileID:     fileID,
		receiverID: receiverID,
		source:     src,
		startedAt:  time.Now(),
		ctx:        tctx,
		cancel:     cancel,
	}
	m.active[senderID] = t
	m.mu.Unlock()
	metrics.ActiveTransfers.Inc()

	m.log.Info("transfer accepted",
		"sender", senderID,
		"receiver", receiverID,
		"file_id", fileID,
		"size", src.Info.Size,
		"mode", t.mode(),
	)

	if src.Buffered {
		return m.deliverBuffered(t), nil
	}

	t.mu.Lock()
	if state := t.current(); state.Terminal() {
		t.mu.Unlock()
		return &Outcome{State: state}, nil
	}
	err = m.sender.Send(t.ctx, receiverID, m.startedMessage(t))
	if err == nil {
		t.state.Store(int32(StateStreaming))
	}
	t.mu.Unlock()
	if err != nil {
		m.abandon(t, err)
		return &Outcome{State: t.current()}, nil
	}

	m.wg.Add(1)
	go m.stream(t)
	return &Outcome{State: StateStreaming}, nil
}

func (m *Manager) deliverBuffered(t *transfer) *Outcome {
	t.mu.Lock()
	if state := t.current(); state.Terminal() {
		t.mu.Unlock()
		return &Outcome{State: state, Buffered: true}
	}
	err := m.sender.Send(t.ctx, t.receiverID, m.startedMessage(t))
	if err == nil {
		err = m.sender.Send(t.ctx, t.receiverID, models.Message{
			Type: protocol.EventFileData,
			Payload: protocol.FileData{
				FileID:   t.fileID,
				Data:     protocol.Encode(t.source.Data),
				FileInfo: t.source.Info,
				Progress: 100,
			},
		})
	}
	if err != nil {
		t.mu.Unlock()
		m.abandon(t, err)
		return &Outcome{State: t.current(), Buffered: true}
	}
	t.sent.Store(int64(len(t.source.Data)))
	metrics.BytesSent.Add(float64(len(t.source.Data)))
	m.completeLocked(t)
	t.mu.Unlock()
	return &Outcome{State: StateCompleted, Buffered: true}
}

func (m *Manager) startedMessage(t *transfer) models.Message {
	return models.Message{
		Type: protocol.EventTransferStarted,
		Payload: protocol.TransferStarted{
			FileInfo:          t.source.Info,
			SavePath:          m.savePath,
			IsFromTempStorage: t.source.Buffered,
		},
	}
}

// Cancel ends every active transfer that connID sends or receives and
// notifies the peer that is still around.
func (m *Manager) Cancel(connID string) {
	m.mu.Lock()
	var affected []*transfer
	for _, t := range m.active {
		if t.senderID == connID || t.receiverID == connID {
			affected = append(affected, t)
		}
	}
	m.mu.Unlock()

	for _, t := range affected {
		t.cancel()
		t.mu.Lock()
		if !m.finishLocked(t, StateCancelled) {
			t.mu.Unlock()
			continue
		}
		m.log.Info("transfer cancelled", "sender", t.senderID, "receiver", t.receiverID, "file_id", t.fileID, "disconnected", connID, "sent", t.sent.Load())
		switch {
		case t.senderID == t.receiverID:
		case t.senderID == connID:
			m.notify(t.receiverID, protocol.EventTransferCancelled, protocol.TransferCancelled{FileID: t.fileID, Reason: ReasonSenderDisconnected})
		default:
			m.notify(t.senderID, protocol.EventTransferCancelled, protocol.TransferCancelled{FileID: t.fileID, Reason: ReasonReceiverDisconnected})
		}
		t.mu.Unlock()
	}
}

// Close cancels every active transfer, tells both ends and waits for the
// streaming goroutines to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*transfer, 0, len(m.active))
	for _, t := range m.active {
		all = append(all, t)
	}
	m.mu.Unlock()

	for _, t := range all {
		t.cancel()
		t.mu.Lock()
		if m.finishLocked(t, StateCancelled) {
			payload := protocol.TransferCancelled{FileID: t.fileID, Reason: ReasonShutdown}
			m.notify(t.receiverID, protocol.EventTransferCancelled, payload)
			if t.senderID != t.receiverID {
				m.notify(t.senderID, protocol.EventTransferCancelled, payload)
			}
		}
		t.mu.Unlock()
	}
	m.wg.Wait()
}

// Wait blocks until every streaming goroutine has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) Active(senderID string) (Snapshot, bool) {
	m.mu.Lock()
	t, ok := m.active[senderID]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{
		SenderID:   t.senderID,
		FileID:     t.fileID,
		ReceiverID: t.receiverID,
		Buffered:   t.source.Buffered,
		SentBytes:  t.sent.Load(),
		TotalBytes: t.source.Info.Size,
		State:      t.current(),
		StartedAt:  t.startedAt,
	}, true
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// finishLocked moves t into a terminal state and drops it from the active
// table. It reports false if t was already terminal. Caller holds t.mu.
func (m *Manager) finishLocked(t *transfer, state State) bool {
	if t.current().Terminal() {
		return false
	}
	t.state.Store(int32(state))
	t.cancel()

	m.mu.Lock()
	if m.active[t.senderID] == t {
		delete(m.active, t.senderID)
	}
	m.mu.Unlock()

	metrics.ActiveTransfers.Dec()
	metrics.TransfersTotal.WithLabelValues(state.String(), t.mode()).Inc()
	return true
}

// completeLocked records delivery and tells both ends. Caller holds t.mu.
func (m *Manager) completeLocked(t *transfer) {
	if !m.finishLocked(t, StateCompleted) {
		return
	}
	m.sessions.MarkReceived(t.receiverID, t.fileID)
	m.log.Info("transfer complete",
		"sender", t.senderID,
		"receiver", t.receiverID,
		"file_id", t.fileID,
		"bytes", t.sent.Load(),
		"duration", time.Since(t.startedAt),
	)
	info := t.source.Info
	m.notify(t.senderID, protocol.EventTransferComplete, protocol.TransferComplete{FileID: t.fileID})
	m.notify(t.receiverID, protocol.EventTransferComplete, protocol.TransferComplete{
		FileID:     t.fileID,
		FileInfo:   &info,
		SavePath:   m.savePath,
		SaveToFile: true,
	})
}

// fail ends t as errored after a read failure and tells both ends.
func (m *Manager) fail(t *transfer, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !m.finishLocked(t, StateErrored) {
		return
	}
	m.log.Error("transfer failed", "sender", t.senderID, "receiver", t.receiverID, "file_id", t.fileID, "sent", t.sent.Load(), "error", cause)
	m.notify(t.senderID, protocol.EventTransferError, protocol.TransferError{FileID: t.fileID, Message: ReasonSenderReadError})
	m.notify(t.receiverID, protocol.EventTransferError, protocol.TransferError{FileID: t.fileID, Message: ReasonReceiverReadError})
}

// abandon handles a failed send. A cancelled context means Cancel or Close
// already own the outcome; otherwise one end vanished before its release
// reached us.
func (m *Manager) abandon(t *transfer, cause error) {
	if t.ctx.Err() != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !m.finishLocked(t, StateCancelled) {
		return
	}
	m.log.Warn("transfer abandoned", "sender", t.senderID, "receiver", t.receiverID, "file_id", t.fileID, "error", cause)
	if m.sender.IsConnected(t.receiverID) {
		m.notify(t.receiverID, protocol.EventTransferCancelled, protocol.TransferCancelled{FileID: t.fileID, Reason: ReasonSenderDisconnected})
	}
	if t.senderID != t.receiverID && m.sender.IsConnected(t.senderID) {
		m.notify(t.senderID, protocol.EventTransferCancelled, protocol.TransferCancelled{FileID: t.fileID, Reason: ReasonReceiverDisconnected})
	}
}

func (m *Manager) reject(ctx context.Context, senderID, fileID, reason string) {
	metrics.TransfersTotal.WithLabelValues("rejected", "").Inc()
	m.log.Warn("transfer rejected", "sender", senderID, "file_id", fileID, "reason", reason)
	err := m.sender.Send(ctx, senderID, models.Message{
		Type:    protocol.EventTransferError,
		Payload: protocol.TransferError{FileID: fileID, Message: reason},
	})
	if err != nil {
		m.log.Warn("failed to notify sender", "sender", senderID, "error", err)
	}
}

// notify sends a terminal event on a fresh deadline, since the transfer's own
// context is already cancelled by then.
func (m *Manager) notify(connID, event string, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := m.sender.Send(ctx, connID, models.Message{Type: event, Payload: payload}); err != nil {
		m.log.Debug("notification dropped", "conn", connID, "event", event, "error", err)
	}
}
