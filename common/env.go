// Package common provides shared constants, environment variable names and
// wire envelope types used by the gepd roles and their clients.
package common

// Environment variable names for configuration.
const (
	// SocketPathEnv overrides the hub unix socket path.
	SocketPathEnv = "GEPD_SOCKET_PATH"

	// HubPortEnv overrides the hub TCP fallback port.
	HubPortEnv = "GEPD_HUB_PORT"

	// ForceTCPEnv forces TCP connections to the hub.
	ForceTCPEnv = "GEPD_FORCE_TCP"

	// PipeNameEnv overrides the hub named pipe on Windows.
	PipeNameEnv = "GEPD_PIPE_NAME"

	// ConfigEnv points at a YAML configuration file.
	ConfigEnv = "GEPD_CONFIG"

	// AdminSecretEnv enables the admin JSON-RPC endpoint with a bearer token.
	AdminSecretEnv = "GEPD_ADMIN_SECRET"

	// RepoAddrEnv overrides the repo host:port.
	RepoAddrEnv = "GEPD_REPO_ADDR"

	// LogFileEnv appends role logs to a file as well as stderr.
	LogFileEnv = "GEPD_LOG_FILE"

	// DebugEnv enables debug logging.
	DebugEnv = "GEPD_DEBUG"
)
