// Command trader runs the bracket order execution engine.
package main

import (
	"os"

	"bracket-trader/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
