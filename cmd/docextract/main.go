// Command docextract extracts documents from the command line.
package main

import (
	"os"

	"github.com/toricodesthings/docintel/cmd/docextract/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
