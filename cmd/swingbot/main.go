// Package main is the swingbot command line entry point.
package main

import (
	"context"
	"os"

	"github.com/aristath/swingbot/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background(), cli.Options{}); err != nil {
		os.Exit(1)
	}
}
