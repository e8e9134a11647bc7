// Package main is the single-binary entrypoint for Overwatch.
package main

import "github.com/overwatch-scan/overwatch/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
