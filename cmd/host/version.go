package main

import "fmt"

type versionCommand struct {
	version string
}

func (c *versionCommand) Synopsis() string { return "Print the host's version" }
func (c *versionCommand) Help() string     { return "Usage: host version" }

func (c *versionCommand) Run(args []string) int {
	fmt.Println(c.version)
	return exitSuccess
}
