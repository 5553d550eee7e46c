// parish is the CLI for managing a fleet of coding-assistant sessions.
package main

import (
	"os"

	"github.com/parishlabs/parish/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
