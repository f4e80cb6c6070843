// Точка входа smartact — CLI для pipeline-module.
package main

import (
	"context"
	"os"

	"github.com/bigkaa/smartact/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background()))
}
