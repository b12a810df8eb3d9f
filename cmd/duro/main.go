// Command duro is the operational CLI for the runtime: schema bootstrap,
// signal publishing, entity inspection, and a demo server hosting the
// bundled Basket/Order example.
package main

import (
	"os"

	"github.com/durocore/duro/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
