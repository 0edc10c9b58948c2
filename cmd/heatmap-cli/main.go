package main

import (
	"os"

	"github.com/flybeeper/region-heatmap/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
