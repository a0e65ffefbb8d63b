package main

import (
	"os"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	keepsakecmd "github.com/slackpad/keepsake/cmd"
)

var appName = "keepsake"
var appVersion = "0.1.0"

func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  appName,
		Level: hclog.LevelFromString("INFO"),
	})

	c := cli.NewCLI(appName, appVersion)
	c.Args = os.Args[1:]
	c.Commands = map[string]cli.CommandFactory{
		"init":         keepsakecmd.DoInit(logger),
		"extract-json": keepsakecmd.ExtractJSON(logger),
		"process":      keepsakecmd.Process(logger),
		"status":       keepsakecmd.Status(logger),
	}

	exitStatus, err := c.Run()
	if err != nil {
		logger.Error(err.Error())
	}

	os.Exit(exitStatus)
}
