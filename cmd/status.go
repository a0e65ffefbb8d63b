package cmd

import (
	"fmt"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/slackpad/keepsake/core"
)

// Status returns a CommandFactory for the read-only status report.
func Status(logger hclog.Logger) cli.CommandFactory {
	return func() (cli.Command, error) {
		return &status{
			logger: logger,
		}, nil
	}
}

type status struct {
	logger hclog.Logger
}

func (c *status) Synopsis() string {
	return "Show project progress and outstanding issues"
}

func (c *status) Help() string {
	return `Usage: keepsake status <projectRoot>

Reads the ledgers and issue logs and prints a progress report. Never mutates
any state, so it is safe to run at any time, including while deciding whether
a previous run completed.`
}

func (c *status) Run(args []string) int {
	if len(args) != 1 {
		return cli.RunResultHelp
	}

	cfg, err := core.LoadConfig(args[0])
	if err != nil {
		c.logger.Error(err.Error())
		return 1
	}
	report, err := core.BuildStatusReport(cfg)
	if err != nil {
		c.logger.Error(err.Error())
		return 1
	}
	fmt.Print(report.Render(cfg))
	return 0
}
