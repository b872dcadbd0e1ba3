package main

import (
	"os"

	"github.com/JakeFAU/inn-enricher/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
