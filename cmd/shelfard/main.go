// Package main implements the shelfard binary.
package main

import (
	"os"

	"github.com/shelfard/shelfard/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:]))
}
