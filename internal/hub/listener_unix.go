//go:build !windows

package hub

import (
	"fmt"
	"net"
	"os"

	"github.com/gepd/gepd/common"
)

// createListener opens the unix socket, falling back to TCP.
func (s *Server) createListener() (net.Listener, error) {
	if !s.cfg.ForceTCP && s.cfg.SocketPath != "" {
		_ = os.Remove(s.cfg.SocketPath)
		l, err := net.ListenUnix("unix", &net.UnixAddr{Name: s.cfg.SocketPath, Net: "unix"})
		if err == nil {
			_ = os.Chmod(s.cfg.SocketPath, 0700)
			return l, nil
		}
		s.log.Warning("Error occurred while using unix socket: %v", err)
		s.log.Warning("Trying to use tcp socket")
	}
	l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", common.TCPHost, s.cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("error listening: %w", err)
	}
	return l, nil
}

func cleanupSocket(cfg Config) error {
	if cfg.ForceTCP || cfg.SocketPath == "" {
		return nil
	}
	if err := os.Remove(cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
