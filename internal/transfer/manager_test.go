package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/The-Promised-Neverland/vsharing/internal/models"
	"github.com/The-Promised-Neverland/vsharing/internal/protocol"
	"github.com/The-Promised-Neverland/vsharing/internal/session"
	"github.com/The-Promised-Neverland/vsharing/internal/store"
)

var errNotConnected = errors.New("not connected")

type fakeSender struct {
	mu         sync.Mutex
	connected  map[string]bool
	msgs       map[string][]models.Message
	chunks     int
	blockAfter int
	// beforeSend runs outside the lock ahead of every delivered message.
	beforeSend func(connID string, msg models.Message)
}

func newFakeSender(ids ...string) *fakeSender {
	f := &fakeSender{connected: make(map[string]bool), msgs: make(map[string][]models.Message)}
	for _, id := range ids {
		f.connected[id] = true
	}
	return f
}

func (f *fakeSender) Send(ctx context.Context, connID string, msg models.Message) error {
	if f.beforeSend != nil {
		f.beforeSend(connID, msg)
	}
	f.mu.Lock()
	if !f.connected[connID] {
		f.mu.Unlock()
		return errNotConnected
	}
	if msg.Type == protocol.EventFileChunk {
		if f.blockAfter > 0 && f.chunks >= f.blockAfter {
			f.mu.Unlock()
			<-ctx.Done()
			return ctx.Err()
		}
		f.chunks++
	}
	f.msgs[connID] = append(f.msgs[connID], msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) IsConnected(connID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[connID]
}

func (f *fakeSender) disconnect(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.connected, connID)
}

func (f *fakeSender) messages(connID string) []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.msgs[connID]...)
}

func (f *fakeSender) chunkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunks
}

func types(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func ofType(msgs []models.Message, event string) []models.Message {
	var out []models.Message
	for _, m := range msgs {
		if m.Type == event {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	store    *store.Store
	sessions *session.Registry
	sender   *fakeSender
	manager  *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.New(store.Options{Dir: t.TempDir(), TTL: time.Hour})
	require.NoError(t, err)
	t.Cleanup(st.Close)

	reg := session.NewRegistry()
	reg.Register("sender")
	reg.Register("receiver")
	sender := newFakeSender("sender", "receiver")
	m := NewManager(st, reg, sender, Options{ChunkSize: 64 * 1024})
	reg.OnRelease(m.Cancel)
	t.Cleanup(m.Close)
	return &fixture{store: st, sessions: reg, sender: sender, manager: m}
}

// diskFile stores data and drops the buffered copy so transfers stream from disk.
func (fx *fixture) diskFile(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	rec, err := fx.store.Put(data, store.Metadata{Name: "video.bin", MimeType: "application/octet-stream"})
	require.NoError(t, err)
	fx.store.Evict(rec.Info.ID)
	return rec.Info.ID, data
}

func TestStartUnknownFile(t *testing.T) {
	fx := newFixture(t)

	out, err := fx.manager.Start(context.Background(), "sender", "missing", "receiver")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, out)
	assert.Equal(t, 0, fx.manager.Len())

	msgs := fx.sender.messages("sender")
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.EventTransferError, msgs[0].Type)
	assert.Equal(t, ReasonFileNotFound, msgs[0].Payload.(protocol.TransferError).Message)
	assert.Empty(t, fx.sender.messages("receiver"))
}

func TestStartReceiverNotConnected(t *testing.T) {
	fx := newFixture(t)
	rec, err := fx.store.Put([]byte("hi"), store.Metadata{Name: "a.txt"})
	require.NoError(t, err)

	_, err = fx.manager.Start(context.Background(), "sender", rec.Info.ID, "nobody")
	require.ErrorIs(t, err, ErrNotFound)

	msgs := fx.sender.messages("sender")
	require.Len(t, msgs, 1)
	assert.Equal(t, ReasonReceiverNotConnected, msgs[0].Payload.(protocol.TransferError).Message)
}

func TestBufferedDelivery(t *testing.T) {
	fx := newFixture(t)
	data := bytes.Repeat([]byte{0xAB}, 200*1024)
	rec, err := fx.store.Put(data, store.Metadata{Name: "photo.raw", MimeType: "application/octet-stream"})
	require.NoError(t, err)

	out, err := fx.manager.Start(context.Background(), "sender", rec.Info.ID, "receiver")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, out.State)
	assert.True(t, out.Buffered)

	recv := fx.sender.messages("receiver")
	assert.Equal(t, []string{
		protocol.EventTransferStarted,
		protocol.EventFileData,
		protocol.EventTransferComplete,
	}, types(recv))

	started := recv[0].Payload.(protocol.TransferStarted)
	assert.True(t, started.IsFromTempStorage)
	assert.Equal(t, DefaultSavePath, started.SavePath)

	fileData := recv[1].Payload.(protocol.FileData)
	assert.Equal(t, 100, fileData.Progress)
	decoded, err := protocol.Decode(fileData.Data)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)

	done := recv[2].Payload.(protocol.TransferComplete)
	assert.True(t, done.SaveToFile)
	require.NotNil(t, done.FileInfo)
	assert.Equal(t, rec.Info.ID, done.FileInfo.ID)

	assert.Equal(t, []string{protocol.EventTransferComplete}, types(fx.sender.messages("sender")))
	assert.True(t, fx.sessions.HasFile("receiver", rec.Info.ID))
	assert.Equal(t, 0, fx.manager.Len())
}

func TestReceiverReleasedDuringDeliveryStaysGone(t *testing.T) {
	fx := newFixture(t)
	rec, err := fx.store.Put([]byte("late"), store.Metadata{Name: "a.txt"})
	require.NoError(t, err)

	fx.sender.beforeSend = func(connID string, msg models.Message) {
		if msg.Type != protocol.EventFileData {
			return
		}
		// Release drops the session before its Cancel listener queues on
		// the transfer lock held by this delivery.
		go fx.sessions.Release("receiver")
		require.Eventually(t, func() bool { return fx.sessions.Len() == 1 }, time.Second, time.Millisecond)
	}

	out, err := fx.manager.Start(context.Background(), "sender", rec.Info.ID, "receiver")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, out.State)

	fx.manager.Wait()
	assert.Equal(t, 1, fx.sessions.Len())
	assert.False(t, fx.sessions.HasFile("receiver", rec.Info.ID))
	assert.Empty(t, fx.sessions.Received("receiver"))
}

func TestEvictionDoesNotInterruptBufferedDelivery(t *testing.T) {
	fx := newFixture(t)
	data := bytes.Repeat([]byte("keep"), 4096)
	rec, err := fx.store.Put(data, store.Metadata{Name: "held.bin"})
	require.NoError(t, err)

	fx.sender.beforeSend = func(connID string, msg models.Message) {
		if msg.Type == protocol.EventTransferStarted {
			fx.store.Evict(rec.Info.ID)
		}
	}

	out, err := fx.manager.Start(context.Background(), "sender", rec.Info.ID, "receiver")
	require.NoError(t, err)
	assert.True(t, out.Buffered)
	assert.Equal(t, StateCompleted, out.State)
	_, err = fx.store.Get(rec.Info.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	fileData := ofType(fx.sender.messages("receiver"), protocol.EventFileData)
	require.Len(t, fileData, 1)
	decoded, err := protocol.Decode(fileData[0].Payload.(protocol.FileData).Data)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestDedupSendsNoFrames(t *testing.T) {
	fx := newFixture(t)
	rec, err := fx.store.Put([]byte("payload"), store.Metadata{Name: "a.txt"})
	require.NoError(t, err)
	fx.sessions.MarkReceived("receiver", rec.Info.ID)

	out, err := fx.manager.Start(context.Background(), "sender", rec.Info.ID, "receiver")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, out.State)
	assert.True(t, out.AlreadyDownloaded)

	assert.Empty(t, fx.sender.messages("receiver"))
	msgs := fx.sender.messages("sender")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Payload.(protocol.TransferComplete).AlreadyDownloaded)
	assert.Equal(t, 0, fx.manager.Len())
}

func TestDiskStreamReconstructs(t *testing.T) {
	fx := newFixture(t)
	id, data := fx.diskFile(t, 300*1024)

	out, err := fx.manager.Start(context.Background(), "sender", id, "receiver")
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, out.State)
	fx.manager.Wait()

	recv := fx.sender.messages("receiver")
	require.Len(t, recv, 7)
	assert.Equal(t, protocol.EventTransferStarted, recv[0].Type)
	assert.False(t, recv[0].Payload.(protocol.TransferStarted).IsFromTempStorage)
	assert.Equal(t, protocol.EventTransferComplete, recv[6].Type)

	var buf bytes.Buffer
	asm := protocol.NewAssembler(&buf)
	var progress []int
	for _, msg := range ofType(recv, protocol.EventFileChunk) {
		chunk := msg.Payload.(protocol.FileChunk)
		assert.Equal(t, id, chunk.FileID)
		progress = append(progress, chunk.Progress)
		require.NoError(t, asm.AppendChunk(chunk))
	}
	assert.Equal(t, []int{21, 43, 64, 85, 100}, progress)
	require.NoError(t, asm.Verify(int64(len(data))))
	assert.Equal(t, data, buf.Bytes())

	sent := fx.sender.messages("sender")
	var echoed []int
	for _, msg := range ofType(sent, protocol.EventTransferProgress) {
		echoed = append(echoed, msg.Payload.(protocol.TransferProgress).Progress)
	}
	assert.Equal(t, progress, echoed)
	assert.Equal(t, protocol.EventTransferComplete, sent[len(sent)-1].Type)

	assert.True(t, fx.sessions.HasFile("receiver", id))
	assert.Equal(t, 0, fx.manager.Len())
}

func TestProgressMonotonic(t *testing.T) {
	fx := newFixture(t)
	fx.manager.chunkSize = 1000
	id, _ := fx.diskFile(t, 123_457)

	_, err := fx.manager.Start(context.Background(), "sender", id, "receiver")
	require.NoError(t, err)
	fx.manager.Wait()

	last := -1
	for _, msg := range ofType(fx.sender.messages("sender"), protocol.EventTransferProgress) {
		p := msg.Payload.(protocol.TransferProgress).Progress
		assert.GreaterOrEqual(t, p, last)
		last = p
	}
	assert.Equal(t, 100, last)
}

func TestSecondStartRejectedWhileActive(t *testing.T) {
	fx := newFixture(t)
	fx.sender.blockAfter = 1
	id, _ := fx.diskFile(t, 300*1024)

	_, err := fx.manager.Start(context.Background(), "sender", id, "receiver")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return fx.sender.chunkCount() == 1 }, time.Second, 5*time.Millisecond)

	_, err = fx.manager.Start(context.Background(), "sender", id, "receiver")
	require.ErrorIs(t, err, ErrBusy)
	var serr *StateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, StateStreaming, serr.State)

	errs := ofType(fx.sender.messages("sender"), protocol.EventTransferError)
	require.Len(t, errs, 1)
	assert.Equal(t, ReasonBusy, errs[0].Payload.(protocol.TransferError).Message)

	snap, ok := fx.manager.Active("sender")
	require.True(t, ok)
	assert.Equal(t, id, snap.FileID)
	assert.Equal(t, int64(64*1024), snap.SentBytes)
}

func TestSenderDisconnectCancelsOnce(t *testing.T) {
	fx := newFixture(t)
	fx.sender.blockAfter = 2
	id, _ := fx.diskFile(t, 300*1024)

	_, err := fx.manager.Start(context.Background(), "sender", id, "receiver")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return fx.sender.chunkCount() == 2 }, time.Second, 5*time.Millisecond)

	fx.sender.disconnect("sender")
	fx.sessions.Release("sender")
	fx.sessions.Release("sender")
	fx.manager.Wait()

	recv := fx.sender.messages("receiver")
	assert.Equal(t, []string{
		protocol.EventTransferStarted,
		protocol.EventFileChunk,
		protocol.EventFileChunk,
		protocol.EventTransferCancelled,
	}, types(recv))
	assert.Equal(t, ReasonSenderDisconnected, recv[3].Payload.(protocol.TransferCancelled).Reason)
	assert.False(t, fx.sessions.HasFile("receiver", id))
	assert.Equal(t, 0, fx.manager.Len())
}

func TestReceiverDisconnectNotifiesSender(t *testing.T) {
	fx := newFixture(t)
	fx.sender.blockAfter = 1
	id, _ := fx.diskFile(t, 300*1024)

	_, err := fx.manager.Start(context.Background(), "sender", id, "receiver")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return fx.sender.chunkCount() == 1 }, time.Second, 5*time.Millisecond)

	fx.sender.disconnect("receiver")
	fx.sessions.Release("receiver")
	fx.manager.Wait()

	cancelled := ofType(fx.sender.messages("sender"), protocol.EventTransferCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, ReasonReceiverDisconnected, cancelled[0].Payload.(protocol.TransferCancelled).Reason)
	assert.Equal(t, 0, fx.manager.Len())
}

func TestReadErrorNotifiesBoth(t *testing.T) {
	fx := newFixture(t)
	id, _ := fx.diskFile(t, 300*1024)
	fx.manager.openFile = func(string) (io.ReadCloser, error) {
		r := io.MultiReader(bytes.NewReader(make([]byte, 70_000)), iotest.ErrReader(errors.New("disk gone")))
		return io.NopCloser(r), nil
	}

	_, err := fx.manager.Start(context.Background(), "sender", id, "receiver")
	require.NoError(t, err)
	fx.manager.Wait()

	recv := fx.sender.messages("receiver")
	assert.Equal(t, []string{
		protocol.EventTransferStarted,
		protocol.EventFileChunk,
		protocol.EventTransferError,
	}, types(recv))
	assert.Equal(t, ReasonReceiverReadError, recv[2].Payload.(protocol.TransferError).Message)

	errs := ofType(fx.sender.messages("sender"), protocol.EventTransferError)
	require.Len(t, errs, 1)
	assert.Equal(t, ReasonSenderReadError, errs[0].Payload.(protocol.TransferError).Message)
	assert.False(t, fx.sessions.HasFile("receiver", id))
	assert.Equal(t, 0, fx.manager.Len())

	_, err = fx.manager.Start(context.Background(), "sender", id, "receiver")
	assert.NoError(t, err)
}

func TestCloseCancelsActive(t *testing.T) {
	fx := newFixture(t)
	fx.sender.blockAfter = 1
	id, _ := fx.diskFile(t, 300*1024)

	_, err := fx.manager.Start(context.Background(), "sender", id, "receiver")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return fx.sender.chunkCount() == 1 }, time.Second, 5*time.Millisecond)

	fx.manager.Close()
	assert.Equal(t, 0, fx.manager.Len())
	assert.Len(t, ofType(fx.sender.messages("receiver"), protocol.EventTransferCancelled), 1)
	assert.Len(t, ofType(fx.sender.messages("sender"), protocol.EventTransferCancelled), 1)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.True(t, StateErrored.Terminal())
	assert.False(t, StateRequested.Terminal())
	assert.Equal(t, "state(9)", State(9).String())
}
