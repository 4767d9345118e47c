package main

import "dockmaster/cmd"

// Populated at build time via -ldflags.
var (
	version string
	commit  string
	date    string
)

func main() {
	cmd.Execute(version, commit, date)
}
