// Package main provides the cloudsync CLI entry point.
// cloudsync keeps an encrypted mirror of a local directory tree on a remote object store.
package main

import (
	"fmt"
	"os"

	"github.com/cloudsync/cloudsync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
