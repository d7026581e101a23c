// Package main is the entry point for the aflcov CLI.
package main

import "aflcov.dev/pkg/aflcov/cmd"

func main() {
	cmd.Execute()
}
