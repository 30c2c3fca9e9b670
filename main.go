// The main package for the creditsbot executable.
package main

import (
	"github.com/JakeFAU/album-credits-bot/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
