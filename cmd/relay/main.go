package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/The-Promised-Neverland/vsharing/internal/config"
	"github.com/The-Promised-Neverland/vsharing/internal/daemon"
	"github.com/The-Promised-Neverland/vsharing/pkg/logger"
)

const usage = `usage: relay [run|install|uninstall|status]

  run        serve in the foreground (default)
  install    register the relay as an OS service
  uninstall  stop and remove the OS service
  status     print the OS service status`

func main() {
	cfg := config.New()
	logger.Init(cfg.LogFile(), cfg.LogLevel())

	cmd := "run"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "install":
		manager := daemon.NewDaemonManager(cfg, nil)
		if err := manager.Install(); err != nil {
			fail("Install failed", err)
		}
		color.Green("Service %s installed", cfg.ServiceName())
	case "uninstall":
		manager := daemon.NewDaemonManager(cfg, nil)
		if err := manager.Uninstall(); err != nil {
			fail("Uninstall failed", err)
		}
		color.Green("Service %s removed", cfg.ServiceName())
	case "status":
		manager := daemon.NewDaemonManager(cfg, nil)
		status, err := manager.Status()
		if err != nil {
			fail("Status failed", err)
		}
		fmt.Printf("%s: %s\n", cfg.ServiceName(), color.CyanString(status))
	case "run":
		app, err := daemon.NewApplication(cfg)
		if err != nil {
			fail("Startup failed", err)
		}
		color.Cyan("Relay listening on %s", cfg.Addr())
		if err := daemon.NewDaemonManager(cfg, app).Run(); err != nil {
			fail("Service failed", err)
		}
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

func fail(msg string, err error) {
	logger.Log.Error(msg, "err", err)
	color.Red("%s: %v", msg, err)
	os.Exit(1)
}
