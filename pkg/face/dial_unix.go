//go:build !windows

package face

import (
	"github.com/gepd/gepd/pkg/logger"
)

// DialHub connects to the hub over its unix socket, falling back to TCP.
func DialHub(socketPath, tcpAddr string, forceTCP bool, loop *Loop, l logger.Logger) (*Face, error) {
	if !forceTCP && socketPath != "" {
		f, err := Dial("unix", socketPath, loop, l)
		if err == nil {
			return f, nil
		}
		if l != nil {
			l.Warning("Unix socket %s unavailable (%v), trying tcp %s", socketPath, err, tcpAddr)
		}
	}
	return Dial("tcp", tcpAddr, loop, l)
}
