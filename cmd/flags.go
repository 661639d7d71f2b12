package cmd

import (
	"time"

	"github.com/urfave/cli"

	"github.com/gepd/gepd/common"
)

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "config, c",
		Usage:  "read settings from this YAML file",
		EnvVar: common.ConfigEnv,
	},
	cli.IntFlag{
		Name:   "hub-port",
		Usage:  "hub TCP port (overrides the config file)",
		EnvVar: common.HubPortEnv,
	},
	cli.BoolFlag{
		Name:   "force-tcp",
		Usage:  "connect to the hub over TCP only",
		EnvVar: common.ForceTCPEnv,
	},
	cli.StringFlag{
		Name:   "socket",
		Usage:  "hub unix socket path",
		EnvVar: common.SocketPathEnv,
	},
	cli.StringFlag{
		Name:   "repo",
		Usage:  "repo address as host:port",
		EnvVar: common.RepoAddrEnv,
	},
	cli.StringFlag{
		Name:   "admin-secret",
		Usage:  "bearer token enabling the admin endpoint",
		EnvVar: common.AdminSecretEnv,
	},
	cli.StringFlag{
		Name:   "log-file",
		Usage:  "also append the log to this file",
		EnvVar: common.LogFileEnv,
	},
}

var requestFlags = []cli.Flag{
	cli.DurationFlag{
		Name:  "lifetime, l",
		Usage: "how long to wait for the reply",
		Value: 4 * time.Second,
	},
}

var fetchFlags = []cli.Flag{
	cli.DurationFlag{
		Name:  "lifetime, l",
		Usage: "interest lifetime",
		Value: 4 * time.Second,
	},
	cli.BoolFlag{
		Name:  "prefix, p",
		Usage: "accept any data under the name",
	},
	cli.BoolFlag{
		Name:  "fresh, f",
		Usage: "require fresh data",
	},
}

var keygenFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "epoch, e",
		Usage: "first slot as YYYYMMDDTHHMMSS (defaults to manager.epoch)",
	},
	cli.DurationFlag{
		Name:  "window, w",
		Usage: "span of slots to generate (defaults to manager.window)",
	},
}
