// Package main is the modemctl command: power the logger's modem, attach it to its network and
// keep the real-time clock in sync with network time.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	flagConfig  = "config"
	flagEnvFile = "env-file"
	flagDebug   = "debug"
)

// newApp builds the command tree writing output to out and logs to errOut.
func newApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "modemctl",
		Usage:           "control the data logger's communication module",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     flagConfig,
				Aliases:  []string{"c"},
				Usage:   "load configuration from `FILE`",
				EnvVars: []string{"MODEMCTL_CONFIG"},
			},
			&cli.StringFlag{
				Name:  flagEnvFile,
				Usage: "load `FILE` into the environment before reading the config",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "families",
				Usage:  "list the supported module families",
				Action: familiesAction,
			},
			{
				Name:  "power",
				Usage: "switch the module on or off",
				Subcommands: []*cli.Command{
					{Name: "on", Usage: "wake the module", Action: withStack(powerOnAction)},
					{Name: "off", Usage: "put the module to sleep", Action: withStack(powerOffAction)},
					{Name: "status", Usage: "report whether the module is awake", Action: withStack(powerStatusAction)},
				},
			},
			{
				Name:   "connect",
				Usage:  "attach to the configured network, then detach and sleep",
				Action: withStack(connectAction),
			},
			{
				Name:   "time",
				Usage:  "print the current network time",
				Action: withStack(timeAction),
			},
			{
				Name:   "sync",
				Usage:  "set the real-time clock from network time if it has drifted",
				Action: withStack(syncAction),
			},
			{
				Name:   "daemon",
				Usage:  "sync the real-time clock on the configured interval until interrupted",
				Action: withStack(daemonAction),
			},
		},
	}
}

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
