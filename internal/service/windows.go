//go:build windows

// Package service runs a gepd role under the Windows Service Control
// Manager.
package service

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sys/windows/svc"

	"github.com/gepd/gepd/internal/daemon"
	"github.com/gepd/gepd/pkg/logger"
)

const acceptedCommands = svc.AcceptStop | svc.AcceptShutdown

// Runner is the part of daemon.Runner the handler drives.
type Runner interface {
	Start(ctx context.Context) error
	Shutdown() error
	IsRunning() bool
}

// Handler implements svc.Handler for one role.
type Handler struct {
	role   string
	runner Runner
	log    logger.Logger
}

func NewHandler(role string, r Runner, l logger.Logger) *Handler {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Handler{role: role, runner: r, log: l}
}

// IsService reports whether the process was started by the SCM.
func IsService() (bool, error) {
	return svc.IsWindowsService()
}

// Run blocks serving SCM requests for the service named name.
func Run(name string, h *Handler) error {
	return svc.Run(name, h)
}

// Execute moves through StartPending, Running, StopPending and Stopped. The
// service arguments are ignored; roles read their settings from the config
// file.
func (h *Handler) Execute(_ []string, requests <-chan svc.ChangeRequest, status chan<- svc.Status) (bool, uint32) {
	status <- svc.Status{State: svc.StartPending}
	h.log.Info("Starting %s service", h.role)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startErr := make(chan error, 1)
	go func() { startErr <- h.runner.Start(ctx) }()

	// A role that cannot come up usually fails within its first few
	// milliseconds (bad config, hub unreachable).
	select {
	case err := <-startErr:
		if err != nil {
			h.log.Error("%s service failed to start: %v", h.role, err)
		}
		status <- svc.Status{State: svc.Stopped}
		return false, exitCode(err)
	case <-time.After(50 * time.Millisecond):
	}

	status <- svc.Status{State: svc.Running, Accepts: acceptedCommands}
	for {
		select {
		case req, ok := <-requests:
			if !ok {
				return false, 0
			}
			switch req.Cmd {
			case svc.Interrogate:
				status <- req.CurrentStatus
			case svc.Stop, svc.Shutdown:
				return h.stop(status, cancel)
			}
		case err := <-startErr:
			// The role stopped on its own.
			if err != nil {
				h.log.Error("%s service stopped: %v", h.role, err)
			}
			status <- svc.Status{State: svc.Stopped}
			return false, exitCode(err)
		}
	}
}

func (h *Handler) stop(status chan<- svc.Status, cancel context.CancelFunc) (bool, uint32) {
	h.log.Info("Stopping %s service", h.role)
	status <- svc.Status{State: svc.StopPending}
	cancel()
	err := h.runner.Shutdown()
	if errors.Is(err, daemon.ErrNotRunning) {
		err = nil
	}
	if err != nil {
		h.log.Error("%s service shutdown: %v", h.role, err)
	}
	status <- svc.Status{State: svc.Stopped}
	return false, exitCode(err)
}

func exitCode(err error) uint32 {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	return 1
}
