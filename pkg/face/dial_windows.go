//go:build windows

package face

import (
	"context"
	"time"

	"github.com/Microsoft/go-winio"

	"github.com/gepd/gepd/pkg/logger"
)

const pipeDialTimeout = 5 * time.Second

// DialHub connects to the hub over its named pipe, falling back to TCP.
func DialHub(pipePath, tcpAddr string, forceTCP bool, loop *Loop, l logger.Logger) (*Face, error) {
	if !forceTCP && pipePath != "" {
		ctx, cancel := context.WithTimeout(context.Background(), pipeDialTimeout)
		defer cancel()
		conn, err := winio.DialPipeContext(ctx, pipePath)
		if err == nil {
			return New(conn, loop, l), nil
		}
		if l != nil {
			l.Warning("Named pipe %s unavailable (%v), trying tcp %s", pipePath, err, tcpAddr)
		}
	}
	return Dial("tcp", tcpAddr, loop, l)
}
