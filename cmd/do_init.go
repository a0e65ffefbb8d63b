package cmd

import (
	"fmt"
	"os"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/slackpad/keepsake/core"
)

// DoInit returns a CommandFactory for scaffolding a new project root.
func DoInit(logger hclog.Logger) cli.CommandFactory {
	return func() (cli.Command, error) {
		return &doInit{
			logger: logger,
		}, nil
	}
}

type doInit struct {
	logger hclog.Logger
}

func (c *doInit) Synopsis() string {
	return "Initialize a keepsake project directory"
}

func (c *doInit) Help() string {
	return `Usage: keepsake init <projectRoot>

Creates the standard project layout under the given root and writes a
default keepsake.toml:

  takeout-archives/   read-only store for the exported .zip archives
  json-repository/    consolidated sidecar JSON files (Pass 1 output)
  workbench/          mutable extraction area
  library/            the final dated library (override in keepsake.toml)

Fails if keepsake.toml already exists under the root.`
}

func (c *doInit) Run(args []string) int {
	if len(args) != 1 {
		return cli.RunResultHelp
	}
	projectRoot := args[0]

	cfg := core.DefaultConfig(projectRoot)
	for _, dir := range []string{cfg.ArchivesDir, cfg.JSONRepositoryDir, cfg.WorkbenchDir, cfg.LibraryDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			c.logger.Error("failed to create project directory", "dir", dir, "error", err)
			return 1
		}
	}
	if err := core.WriteSampleConfig(projectRoot); err != nil {
		c.logger.Error(err.Error())
		return 1
	}

	fmt.Printf("Initialized keepsake project at %s\n", projectRoot)
	return 0
}
