package cmd

import (
	"fmt"
	"runtime"

	"github.com/urfave/cli"

	"github.com/gepd/gepd/cmd/common"
)

type BuildArgs struct {
	Version   string
	BuildType string
	Date      string
	Commit    string
}

func Execute(args []string, bArgs BuildArgs) error {
	build = bArgs
	app := cli.App{
		Name:                  "gepd",
		HelpName:              "gepd",
		Usage:                 "Group-encryption access control for named data.",
		Version:               fmt.Sprintf("%s-%s", bArgs.Version, bArgs.BuildType),
		UsageText:             "gepd [global options] <command> [arguments...]",
		Description:           DESCRIPTION,
		CustomAppHelpTemplate: HELP_TEMPL,
		OnUsageError:          common.UsageErrorCallback,
		Flags:                 globalFlags,
		Commands: []cli.Command{
			{
				Name:               "hub",
				Usage:              "run the local forwarder",
				Category:           "roles",
				Description:        HubDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Action:             runHub,
			},
			{
				Name:               "repo",
				Usage:              "run the packet store",
				Category:           "roles",
				Description:        RepoDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Action:             runRepo,
			},
			{
				Name:               "manager",
				Aliases:            []string{"m"},
				Usage:              "run the group manager",
				Category:           "roles",
				Description:        ManagerDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Action:             runManager,
			},
			{
				Name:               "producer",
				Aliases:            []string{"p"},
				Usage:              "run a data producer",
				Category:           "roles",
				Description:        ProducerDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Action:             runProducer,
			},
			{
				Name:               "request",
				Aliases:            []string{"r"},
				Usage:              "send an access request",
				UsageText:          "request [flags] <certificate name>",
				Description:        RequestDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Action:             request,
				Flags:              requestFlags,
			},
			{
				Name:                   "fetch",
				Aliases:                []string{"f"},
				Usage:                  "fetch one data packet",
				UsageText:              "fetch [flags] <name>",
				Description:            FetchDescription,
				CustomHelpTemplate:     CMD_HELP_TEMPL,
				OnUsageError:           common.UsageErrorCallback,
				UseShortOptionHandling: true,
				Action:                 fetch,
				Flags:                  fetchFlags,
			},
			{
				Name:               "keygen",
				Aliases:            []string{"k"},
				Usage:              "generate one window of group keys offline",
				Description:        KeygenDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Action:             keygen,
				Flags:              keygenFlags,
			},
			{
				Name:    "help",
				Aliases: []string{"h"},
				Usage:   "prints the help message",
				Action:  common.Help,
			},
			{
				Name:               "version",
				Aliases:            []string{"v"},
				Usage:              "prints the installed version of gepd",
				UsageText:          " ",
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             common.GetVersion,
			},
		},
		Action:      common.Help,
		HideHelp:    true,
		HideVersion: true,
	}
	common.VersionCmdStr = fmt.Sprintf("%s %s (%s_%s)\nBuild: %s=%s\n",
		app.Name,
		app.Version,
		runtime.GOOS,
		runtime.GOARCH,
		bArgs.Date, bArgs.Commit,
	)
	return app.Run(args)
}
