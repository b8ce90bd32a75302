package main

import (
	"fmt"
	"os"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/ryanuber/columnize"

	"github.com/stepdriver/host/internal/registry"
)

type listDriversCommand struct {
	logger hclog.Logger
}

func (c *listDriversCommand) Synopsis() string {
	return "List discovered drivers"
}

func (c *listDriversCommand) Help() string {
	return "Usage: host list-drivers\n\n  Discovers drivers and prints their id, name, version, transport, and executable."
}

func (c *listDriversCommand) Run(args []string) int {
	reg := registry.New(c.logger, "")
	if err := reg.Initialize(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitInitError
	}

	lines := []string{"ID | NAME | VERSION | TRANSPORT | EXECUTABLE"}
	for _, id := range reg.List() {
		meta, _ := reg.Get(id)
		lines = append(lines, fmt.Sprintf("%s | %s | %s | %s | %s",
			meta.ID, meta.Name, meta.Version, meta.Transport, meta.Executable))
	}
	fmt.Println(columnize.SimpleFormat(lines))
	return exitSuccess
}
