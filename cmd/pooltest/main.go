// Command pooltest runs adaptive group testing simulations.
package main

import (
	"fmt"
	"os"

	"github.com/example/pooltest/cmd/pooltest/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
