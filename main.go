// The main package for the moditems executable.
package main

import (
	"github.com/JakeFAU/moditems-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
