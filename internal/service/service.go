// Package service is the facade the HTTP handlers talk to.
package service

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/The-Promised-Neverland/vsharing/internal/metrics"
	"github.com/The-Promised-Neverland/vsharing/internal/models"
	"github.com/The-Promised-Neverland/vsharing/internal/store"
	"github.com/The-Promised-Neverland/vsharing/pkg/system"
)

var ErrTooLarge = errors.New("upload exceeds size limit")

type Sessions interface {
	HasFile(connID, fileID string) bool
}

type Counter interface {
	Len() int
}

type EndpointSource interface {
	GetCurrentEndpoint() string
}

type Deps struct {
	Store       *store.Store
	Sessions    Sessions
	Connections Counter
	Transfers   Counter
	Endpoint    EndpointSource
	MaxUpload   int64
}

type Service struct {
	store       *store.Store
	sessions    Sessions
	connections Counter
	transfers   Counter
	endpoint    EndpointSource
	maxUpload   int64
}

func NewService(deps Deps) *Service {
	return &Service{
		store:       deps.Store,
		sessions:    deps.Sessions,
		connections: deps.Connections,
		transfers:   deps.Transfers,
		endpoint:    deps.Endpoint,
		maxUpload:   deps.MaxUpload,
	}
}

func (s *Service) MaxUploadBytes() int64 {
	return s.maxUpload
}

// Upload reads r fully and stores it. It never reads more than the upload
// limit plus one byte.
func (s *Service) Upload(r io.Reader, name, mimeType string) (*models.FileInfo, error) {
	if s.maxUpload > 0 {
		r = io.LimitReader(r, s.maxUpload+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read upload: %v", store.ErrIO, err)
	}
	if s.maxUpload > 0 && int64(len(data)) > s.maxUpload {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, s.maxUpload)
	}
	rec, err := s.store.Put(data, store.Metadata{Name: name, MimeType: mimeType})
	if err != nil {
		return nil, err
	}
	metrics.Uploads.Inc()
	info := rec.Info
	return &info, nil
}

// HasFile is a read-only check of clientID's received set.
func (s *Service) HasFile(fileID, clientID string) (bool, *models.FileInfo) {
	if !s.sessions.HasFile(clientID, fileID) {
		return false, nil
	}
	if info, ok := s.store.Info(fileID); ok {
		return true, &info
	}
	if src, err := s.store.Open(fileID); err == nil {
		return true, &src.Info
	}
	return true, nil
}

// View is either the file to serve or, when the client already has it, just
// its metadata.
type View struct {
	Info              models.FileInfo
	AlreadyDownloaded bool
	Data              []byte
	Path              string
}

// Open returns a reader over the view's bytes.
func (v *View) Open() (io.ReadCloser, error) {
	if v.Data != nil {
		return io.NopCloser(bytes.NewReader(v.Data)), nil
	}
	f, err := os.Open(v.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", store.ErrIO, v.Info.ID, err)
	}
	return f, nil
}

func (s *Service) View(fileID, clientID string) (*View, error) {
	src, err := s.store.Open(fileID)
	if err != nil {
		return nil, err
	}
	if s.sessions.HasFile(clientID, fileID) {
		return &View{Info: src.Info, AlreadyDownloaded: true}, nil
	}
	v := &View{Info: src.Info, Path: src.Path}
	if src.Buffered {
		v.Data = src.Data
	}
	return v, nil
}

func (s *Service) Health() models.HealthCheck {
	h := models.HealthCheck{
		Status:          "ok",
		Version:         system.Version,
		GoVersion:       system.GoVersion(),
		Uptime:          system.Uptime(),
		Connections:     s.connections.Len(),
		ActiveTransfers: s.transfers.Len(),
		BufferedFiles:   s.store.Len(),
		Host:            s.GetHostMetrics(),
	}
	if s.endpoint != nil {
		h.PublicEndpoint = s.endpoint.GetCurrentEndpoint()
	}
	return h
}

func (s *Service) GetHostMetrics() *models.HostMetrics {
	m := &models.HostMetrics{}
	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		m.CPUUsage = cpuPercent[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		m.MemoryUsage = memStat.UsedPercent
	}
	if diskStat, err := disk.Usage(s.store.Dir()); err == nil {
		m.DiskUsage = diskStat.UsedPercent
	}
	if hostInfo, err := host.Info(); err == nil {
		m.Hostname = hostInfo.Hostname
		m.OS = hostInfo.OS
		m.Uptime = hostInfo.Uptime
	}
	return m
}
