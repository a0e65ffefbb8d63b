package cmd

import (
	hclog "github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/slackpad/keepsake/core"
)

// ExtractJSON returns a CommandFactory for the first pass.
func ExtractJSON(logger hclog.Logger) cli.CommandFactory {
	return func() (cli.Command, error) {
		return &extractJSON{
			logger: logger,
		}, nil
	}
}

type extractJSON struct {
	logger hclog.Logger
}

func (c *extractJSON) Synopsis() string {
	return "Consolidate sidecar JSON files out of the takeout archives"
}

func (c *extractJSON) Help() string {
	return `Usage: keepsake extract-json <projectRoot>

Pass 1 of the two-pass strategy. Copies every sidecar JSON file out of every
archive in the read-only archive store into the flat JSON repository, so that
Pass 2 can match media against the full metadata set regardless of which
archive the sidecar landed in.

Identical duplicates are skipped. Files with the same name but different
content are preserved under json-conflicts/ for review. Archives that cannot
be opened are logged and skipped. A ledger makes re-runs instantaneous; only
new archives are read.`
}

func (c *extractJSON) Run(args []string) int {
	if len(args) != 1 {
		return cli.RunResultHelp
	}

	cfg, err := core.LoadConfig(args[0])
	if err != nil {
		c.logger.Error(err.Error())
		return 1
	}
	if _, err := core.ConsolidateJSON(c.logger, cfg); err != nil {
		c.logger.Error(err.Error())
		return 1
	}
	return 0
}
