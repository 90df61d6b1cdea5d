// Package main is the evoloop command.
package main

import (
	"context"
	"os"

	"github.com/solosage1/amm-challenge-sub000/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
