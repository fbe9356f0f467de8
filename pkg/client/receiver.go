package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/The-Promised-Neverland/vsharing/internal/models"
	"github.com/The-Promised-Neverland/vsharing/internal/protocol"
)

var ErrNoTransfer = errors.New("no transfer in progress for file")

type incoming struct {
	info     models.FileInfo
	tempFile *os.File
	asm      *protocol.Assembler
}

// Receiver writes incoming transfers to temp files in saveDir and renames
// them into place once complete.
type Receiver struct {
	saveDir string

	mu     sync.Mutex
	active map[string]*incoming
}

func NewReceiver(saveDir string) (*Receiver, error) {
	if err := os.MkdirAll(saveDir, 0o755); err != nil {
		return nil, fmt.Errorf("create save directory: %w", err)
	}
	return &Receiver{saveDir: saveDir, active: make(map[string]*incoming)}, nil
}

func (r *Receiver) SaveDir() string {
	return r.saveDir
}

// Begin opens a temp file for info, replacing any half-received copy.
func (r *Receiver) Begin(info models.FileInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.active[info.ID]; ok {
		prev.discard()
	}
	tempFile, err := os.CreateTemp(r.saveDir, ".incoming-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	r.active[info.ID] = &incoming{info: info, tempFile: tempFile, asm: protocol.NewAssembler(tempFile)}
	return nil
}

func (r *Receiver) WriteChunk(chunk protocol.FileChunk) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.active[chunk.FileID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoTransfer, chunk.FileID)
	}
	if err := in.asm.AppendChunk(chunk); err != nil {
		return 0, err
	}
	return in.asm.Progress(), nil
}

// WriteData handles the single-frame path. It opens the temp file itself if
// transfer-started was missed.
func (r *Receiver) WriteData(data protocol.FileData) error {
	r.mu.Lock()
	_, ok := r.active[data.FileID]
	r.mu.Unlock()
	if !ok {
		info := data.FileInfo
		info.ID = data.FileID
		if err := r.Begin(info); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.active[data.FileID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoTransfer, data.FileID)
	}
	return in.asm.AppendData(data)
}

// Complete verifies the size, then moves the file into saveDir under its
// original name, suffixed if that name is taken. It returns the final path.
func (r *Receiver) Complete(fileID string) (string, error) {
	r.mu.Lock()
	in, ok := r.active[fileID]
	delete(r.active, fileID)
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoTransfer, fileID)
	}
	if err := in.asm.Verify(in.info.Size); err != nil {
		in.discard()
		return "", err
	}
	if err := in.tempFile.Close(); err != nil {
		os.Remove(in.tempFile.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	dest := r.destination(in.info.Name)
	if err := os.Rename(in.tempFile.Name(), dest); err != nil {
		os.Remove(in.tempFile.Name())
		return "", fmt.Errorf("move received file: %w", err)
	}
	return dest, nil
}

// Abort drops a partial transfer. Unknown ids are ignored.
func (r *Receiver) Abort(fileID string) {
	r.mu.Lock()
	in, ok := r.active[fileID]
	delete(r.active, fileID)
	r.mu.Unlock()
	if ok {
		in.discard()
	}
}

// AbortAll drops every partial transfer.
func (r *Receiver) AbortAll() {
	r.mu.Lock()
	all := r.active
	r.active = make(map[string]*incoming)
	r.mu.Unlock()
	for _, in := range all {
		in.discard()
	}
}

func (r *Receiver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *Receiver) destination(name string) string {
	name = filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, `\`, "/")))
	if name == "/" || name == "." || name == "" {
		name = "received"
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	dest := filepath.Join(r.saveDir, name)
	for i := 1; ; i++ {
		if _, err := os.Stat(dest); errors.Is(err, os.ErrNotExist) {
			return dest
		}
		dest = filepath.Join(r.saveDir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
	}
}

func (in *incoming) discard() {
	in.tempFile.Close()
	os.Remove(in.tempFile.Name())
}
