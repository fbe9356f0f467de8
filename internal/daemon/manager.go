package daemon

import (
	"context"
	"fmt"
	"os"
	"runtime"

	kardianos "github.com/kardianos/service"

	"github.com/The-Promised-Neverland/vsharing/internal/config"
	"github.com/The-Promised-Neverland/vsharing/pkg/logger"
)

// DaemonManager adapts Application to the service manager of the host OS.
type DaemonManager struct {
	cfg       *config.Config
	app       *Application
	appCtx    context.Context
	appCancel context.CancelFunc
	done      chan struct{}
}

func NewDaemonManager(cfg *config.Config, app *Application) *DaemonManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &DaemonManager{
		cfg:       cfg,
		app:       app,
		appCtx:    ctx,
		appCancel: cancel,
		done:      make(chan struct{}),
	}
}

func (m *DaemonManager) newService() (kardianos.Service, error) {
	svcCfg := &kardianos.Config{
		Name:        m.cfg.ServiceName(),
		DisplayName: m.cfg.ServiceDisplayName(),
		Description: m.cfg.ServiceDescription(),
		Arguments:   []string{"run"},
	}
	if wd, err := os.Getwd(); err == nil {
		svcCfg.WorkingDirectory = wd
	}
	return kardianos.New(m, svcCfg)
}

func (m *DaemonManager) Start(s kardianos.Service) error {
	if m.app == nil {
		return fmt.Errorf("application cannot be nil")
	}
	logger.Log.Info("service starting", "service", s.String(), "platform", s.Platform())
	go func() {
		defer close(m.done)
		if err := m.app.Run(m.appCtx); err != nil {
			logger.Log.Error("relay stopped", "error", err)
			os.Exit(1)
		}
	}()
	return nil
}

func (m *DaemonManager) Stop(s kardianos.Service) error {
	logger.Log.Info("service stopping", "service", s.String())
	m.appCancel()
	<-m.done
	return nil
}

// Run blocks until the service is stopped or the process is interrupted.
func (m *DaemonManager) Run() error {
	s, err := m.newService()
	if err != nil {
		return err
	}
	return s.Run()
}

func (m *DaemonManager) Install() error {
	if err := os.MkdirAll(m.cfg.UploadDir(), 0o755); err != nil {
		return fmt.Errorf("create upload directory: %w", err)
	}
	s, err := m.newService()
	if err != nil {
		return err
	}
	if err := s.Install(); err != nil {
		if runtime.GOOS == "windows" {
			return fmt.Errorf("failed to install Windows service (requires administrator privileges): %w", err)
		}
		return fmt.Errorf("failed to install service: %w", err)
	}
	return nil
}

func (m *DaemonManager) Uninstall() error {
	s, err := m.newService()
	if err != nil {
		return err
	}
	if status, err := s.Status(); err == nil && status == kardianos.StatusRunning {
		if err := s.Stop(); err != nil {
			return fmt.Errorf("failed to stop service: %w", err)
		}
	}
	return s.Uninstall()
}

func (m *DaemonManager) Status() (string, error) {
	s, err := m.newService()
	if err != nil {
		return "", err
	}
	status, err := s.Status()
	if err != nil {
		return "", err
	}
	switch status {
	case kardianos.StatusRunning:
		return "running", nil
	case kardianos.StatusStopped:
		return "stopped", nil
	default:
		return "unknown", nil
	}
}
