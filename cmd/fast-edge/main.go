// Command fast-edge serves static files and proxies API calls from a single
// event loop.
package main

import (
	"fmt"
	"os"

	"github.com/searchktools/fast-edge/app"
	"github.com/searchktools/fast-edge/config"
)

func main() {
	cfg := config.New()
	if err := app.New(cfg).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "fast-edge: %v\n", err)
		os.Exit(1)
	}
}
