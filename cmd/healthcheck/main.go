// Command healthcheck is the container HEALTHCHECK probe. It prints the
// published health message and exits with its code.
package main

import (
	"os"

	"github.com/spf13/afero"

	"vrnode/internal/command/health"
	"vrnode/pkg/defaults"
)

func main() {
	path := defaults.HealthFile
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	os.Exit(health.Check(afero.NewOsFs(), path, os.Stdout))
}
