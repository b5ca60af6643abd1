// Command missionhub is the orchestrator's CLI entrypoint: serve, call,
// run, and attach, as described by internal/cli.
package main

import (
	"os"

	"github.com/agentfleet/missionhub/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:]))
}
