//go:build mage

package main

import "github.com/magefile/mage/sh"

const (
	binLint    = "golangci-lint"
	lintConfig = ".golangci.yml"
)

// Lint runs golangci-lint with the repository config.
func Lint() error {
	return sh.RunV(binLint, "run", "--config", lintConfig, "./...")
}

// LintFix runs golangci-lint and applies the fixes it can make.
func LintFix() error {
	return sh.RunV(binLint, "run", "--config", lintConfig, "--fix", "./...")
}
