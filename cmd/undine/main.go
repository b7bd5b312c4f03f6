// Package main is the entry point for undine.
package main

import (
	"errors"
	"os"

	"github.com/votesmart/undine/internal/services/runner"
)

// Exit codes.
const (
	exitOK          = 0
	exitError       = 1
	exitUnitsFailed = 2
)

func main() {
	os.Exit(exitCode(Execute()))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, runner.ErrUnitsFailed):
		return exitUnitsFailed
	default:
		return exitError
	}
}
