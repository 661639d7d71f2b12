package common

import (
	"os"
	"path/filepath"
)

// DEF_PIPE_NAME is the hub named pipe on Windows.
const DEF_PIPE_NAME = `\\.\pipe\gepd`

// SocketPath returns the hub unix socket path, honoring SocketPathEnv.
func SocketPath() string {
	if path := os.Getenv(SocketPathEnv); path != "" {
		return path
	}
	return filepath.Join(os.TempDir(), DEF_SOCKET_NAME)
}

// PipePath returns the hub named pipe, honoring PipeNameEnv.
func PipePath() string {
	if name := os.Getenv(PipeNameEnv); name != "" {
		return name
	}
	return DEF_PIPE_NAME
}
