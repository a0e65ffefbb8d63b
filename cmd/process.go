package cmd

import (
	"flag"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/slackpad/keepsake/core"
)

// Process returns a CommandFactory for the reconciliation pass.
func Process(logger hclog.Logger) cli.CommandFactory {
	return func() (cli.Command, error) {
		return &process{
			logger: logger,
		}, nil
	}
}

type process struct {
	logger hclog.Logger
}

func (c *process) Synopsis() string {
	return "Reconcile media files into the dated library"
}

func (c *process) Help() string {
	return `Usage: keepsake process <projectRoot> [options]

Pass 2 of the two-pass strategy. Extracts each pending archive into the
workbench, matches every media file against the JSON repository, resolves one
authoritative timestamp and GPS coordinate per file, and commits the file
into library/<year>/<month>/<name>/. Files without a usable timestamp, or
whose destination path is too long, are diverted under __NEEDS_REVIEW__.

The run is resumable: completed work items and committed files are recorded
in append-only ledgers and skipped on the next run.

Options:

  -live             Actually modify and move files. The default is a dry run
                    that computes and logs every decision without touching
                    anything.
  -archive <name>   Process a single archive (name under takeout-archives, or
                    an absolute path). Non-zip paths are treated as standalone
                    media files.
  -batch-size <n>   Stop after n work items.
  -force-extract    Clear the workbench before extracting, and re-process an
                    archive already marked done. Required to continue after an
                    interrupted run left contents in the workbench.
  -clean-workbench  Clear the workbench at the end of the run even when a
                    work item failed.`
}

func (c *process) Run(args []string) int {
	flags := flag.NewFlagSet("process", flag.ContinueOnError)
	var opts core.PipelineOptions
	flags.BoolVar(&opts.Live, "live", false, "modify and move files")
	flags.StringVar(&opts.ArchiveName, "archive", "", "process a single archive")
	flags.IntVar(&opts.BatchSize, "batch-size", 0, "max work items this run")
	flags.BoolVar(&opts.ForceExtract, "force-extract", false, "clear workbench before extraction")
	flags.BoolVar(&opts.CleanWorkbench, "clean-workbench", false, "clear workbench after the run")
	if err := flags.Parse(args); err != nil {
		return cli.RunResultHelp
	}
	if flags.NArg() != 1 {
		return cli.RunResultHelp
	}

	cfg, err := core.LoadConfig(flags.Arg(0))
	if err != nil {
		c.logger.Error(err.Error())
		return 1
	}

	tool := core.NewExifTool(c.logger, cfg)
	pipeline := core.NewPipeline(c.logger, cfg, tool, opts)
	if _, err := pipeline.Run(); err != nil {
		c.logger.Error(err.Error())
		return 1
	}
	return 0
}
