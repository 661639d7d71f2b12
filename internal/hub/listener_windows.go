//go:build windows

package hub

import (
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"

	"github.com/gepd/gepd/common"
)

// pipeSecurityDescriptor grants access to SYSTEM, Administrators and the
// creator owner only.
const pipeSecurityDescriptor = "D:(A;;GA;;;SY)(A;;GA;;;BA)(A;;GA;;;CO)"

// createListener opens the named pipe, falling back to TCP.
func (s *Server) createListener() (net.Listener, error) {
	if !s.cfg.ForceTCP && s.cfg.PipePath != "" {
		l, err := winio.ListenPipe(s.cfg.PipePath, &winio.PipeConfig{SecurityDescriptor: pipeSecurityDescriptor})
		if err == nil {
			return l, nil
		}
		s.log.Warning("Named pipe creation failed: %v", err)
		s.log.Warning("Falling back to TCP")
	}
	l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", common.TCPHost, s.cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("error listening: %w", err)
	}
	return l, nil
}

func cleanupSocket(Config) error { return nil }
