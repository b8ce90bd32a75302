// Command host is the driver orchestration runtime's entrypoint: it
// discovers drivers, dispatches Gherkin feature-file steps to them over
// JSON-RPC, and reports the results.
package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/cli"

	"github.com/stepdriver/host/internal/config"
)

// version is the host's own release version, reported by `host version`.
var version = "0.1.0"

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	logger := config.ResolveLogger()

	c := cli.NewCLI("host", version)
	c.Args = args
	c.Commands = map[string]cli.CommandFactory{
		"run": func() (cli.Command, error) {
			return &runCommand{logger: logger, version: version}, nil
		},
		"list-drivers": func() (cli.Command, error) {
			return &listDriversCommand{logger: logger}, nil
		},
		"version": func() (cli.Command, error) {
			return &versionCommand{version: version}, nil
		},
	}

	exitCode, err := c.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsageError
	}
	return exitCode
}

// Exit codes per §6: 0 all passed, 1 any step failed, 2 usage error,
// 3 initialization failure.
const (
	exitSuccess  = 0
	exitFailed   = 1
	exitUsageError = 2
	exitInitError  = 3
)
