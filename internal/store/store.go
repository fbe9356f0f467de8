// Package store keeps uploaded files in memory for a fixed TTL and falls
// back to the upload directory once the buffered copy has been evicted.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/The-Promised-Neverland/vsharing/internal/metrics"
	"github.com/The-Promised-Neverland/vsharing/internal/models"
	"github.com/The-Promised-Neverland/vsharing/pkg/logger"
)

var (
	ErrNotFound   = errors.New("file not found")
	ErrValidation = errors.New("invalid file")
	ErrIO         = errors.New("file storage error")
	ErrClosed     = errors.New("store closed")
)

const fallbackMimeType = "application/octet-stream"

type Options struct {
	Dir              string
	TTL              time.Duration
	CatalogSize      int
	CatalogRetention time.Duration
}

// Metadata is what the upload boundary knows about a file before it is stored.
type Metadata struct {
	Name     string
	MimeType string
}

type FileRecord struct {
	Info      models.FileInfo
	ExpiresAt time.Time
	Data      []byte
}

// Source is what a transfer reads from: either the buffered bytes captured at
// lookup time, or the file on disk.
type Source struct {
	Info     models.FileInfo
	Buffered bool
	Data     []byte
	Path     string
}

type entry struct {
	record *FileRecord
	timer  *time.Timer
}

type Store struct {
	dir     string
	ttl     time.Duration
	catalog *expirable.LRU[string, models.FileInfo]
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool
}

func New(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: upload directory is required", ErrValidation)
	}
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrValidation)
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	size := opts.CatalogSize
	if size <= 0 {
		size = 10000
	}
	return &Store{
		dir:     opts.Dir,
		ttl:     opts.TTL,
		catalog: expirable.NewLRU[string, models.FileInfo](size, nil, opts.CatalogRetention),
		now:     time.Now,
		entries: make(map[string]*entry),
	}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Put persists data to the upload directory, buffers it for the store TTL and
// schedules its eviction.
func (s *Store) Put(data []byte, meta Metadata) (*FileRecord, error) {
	name := strings.TrimSpace(meta.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: file name is required", ErrValidation)
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	id := uuid.NewString() + "-" + sanitizeName(name)
	path := filepath.Join(s.dir, id)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("%w: write %s: %v", ErrIO, id, err)
	}

	mimeType := meta.MimeType
	if mimeType == "" || mimeType == fallbackMimeType {
		mimeType = mimetype.Detect(data).String()
	}
	now := s.now()
	record := &FileRecord{
		Info: models.FileInfo{
			ID:         id,
			Name:       name,
			Size:       int64(len(data)),
			Path:       path,
			MimeType:   mimeType,
			UploadTime: now.UTC(),
		},
		ExpiresAt: now.Add(s.ttl),
		Data:      data,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		os.Remove(path)
		return nil, ErrClosed
	}
	e := &entry{record: record}
	e.timer = time.AfterFunc(s.ttl, func() { s.expire(id, record) })
	s.entries[id] = e
	buffered := len(s.entries)
	s.mu.Unlock()

	s.catalog.Add(id, record.Info)
	metrics.BufferedFiles.Set(float64(buffered))
	logger.Log.Info("File buffered", "file_id", id, "size", record.Info.Size, "expires_at", record.ExpiresAt)
	return record, nil
}

// Get returns the buffered record while it is still within its TTL.
func (s *Store) Get(id string) (*FileRecord, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if !s.now().Before(e.record.ExpiresAt) {
		s.expire(id, e.record)
		return nil, ErrNotFound
	}
	return e.record, nil
}

// Evict drops the buffered copy. It is idempotent.
func (s *Store) Evict(id string) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		e.timer.Stop()
		delete(s.entries, id)
	}
	buffered := len(s.entries)
	s.mu.Unlock()
	if ok {
		metrics.BufferedFiles.Set(float64(buffered))
	}
}

// expire evicts id only if it still holds the record the timer was armed for.
func (s *Store) expire(id string, record *FileRecord) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || e.record != record {
		s.mu.Unlock()
		return
	}
	delete(s.entries, id)
	buffered := len(s.entries)
	s.mu.Unlock()
	metrics.BufferedFiles.Set(float64(buffered))
	logger.Log.Info("Removed expired file from temp storage", "file_id", id)
}

// Open resolves id for streaming: the buffered payload when live, otherwise
// the upload directory. Metadata comes from the catalog when it is still
// known and is otherwise rebuilt from the file itself.
func (s *Store) Open(id string) (*Source, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	if record, err := s.Get(id); err == nil {
		return &Source{Info: record.Info, Buffered: true, Data: record.Data, Path: record.Info.Path}, nil
	}

	path := filepath.Join(s.dir, id)
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrIO, id, err)
	}
	if fi.IsDir() {
		return nil, ErrNotFound
	}

	info, ok := s.catalog.Get(id)
	if !ok {
		info = models.FileInfo{
			ID:         id,
			Name:       id,
			MimeType:   detectFile(path),
			UploadTime: fi.ModTime().UTC(),
		}
	}
	info.Path = path
	info.Size = fi.Size()
	return &Source{Info: info, Path: path}, nil
}

// Info returns catalogued metadata, which outlives the buffered bytes.
func (s *Store) Info(id string) (models.FileInfo, bool) {
	return s.catalog.Get(id)
}

// Forget drops every trace of id except the file on disk.
func (s *Store) Forget(id string) {
	s.Evict(id)
	s.catalog.Remove(id)
}

// Len is the number of buffered entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close cancels every pending eviction timer and drops the buffers.
func (s *Store) Close() {
	s.mu.Lock()
	for id, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, id)
	}
	s.closed = true
	s.mu.Unlock()
	metrics.BufferedFiles.Set(0)
}

func sanitizeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	base = strings.TrimLeft(base, ".")
	if base == "" || base == "/" {
		return "file"
	}
	return base
}

func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}

func detectFile(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return fallbackMimeType
	}
	return mt.String()
}
