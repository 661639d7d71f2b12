//go:build !windows

package cmd

import (
	"context"

	"github.com/gepd/gepd/internal/config"
	"github.com/gepd/gepd/internal/daemon"
	"github.com/gepd/gepd/pkg/logger"
)

// hubPath is the local endpoint roles try before TCP.
func hubPath(c *config.Config) string {
	return c.Hub.Socket
}

func startRunner(r *daemon.Runner, _ logger.Logger) error {
	return r.Start(context.Background())
}
