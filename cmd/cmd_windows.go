//go:build windows

package cmd

import (
	"context"

	"github.com/gepd/gepd/internal/config"
	"github.com/gepd/gepd/internal/daemon"
	"github.com/gepd/gepd/internal/service"
	"github.com/gepd/gepd/pkg/logger"
)

// hubPath is the named pipe roles try before TCP.
func hubPath(c *config.Config) string {
	return c.Hub.Pipe
}

// startRunner hands the role to the SCM when started as a service, named
// gepd-<role>.
func startRunner(r *daemon.Runner, l logger.Logger) error {
	if ok, err := service.IsService(); err == nil && ok {
		role := r.Config().Role
		return service.Run("gepd-"+role, service.NewHandler(role, r, l))
	}
	return r.Start(context.Background())
}
