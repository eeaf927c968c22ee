//go:build mage

// Package main provides build targets for the docrel project using Mage.
//
// Usage:
//
//	mage build           Compile the docrel binary to bin/
//	mage test            Run every test
//	mage testUnit        Run the tests quietly
//	mage testRace        Run every test with -race
//	mage testCover       Write coverage.out and print the per-function summary
//	mage lint            Run golangci-lint with .golangci.yml
//	mage lintFix         Run golangci-lint with --fix
//	mage emulator        Build, then serve the local emulator
//	mage clean           Remove build artifacts
//	mage install         Install docrel to GOPATH/bin
//	mage stats           Print Go LOC and documentation word counts
package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo      = "go"
	binaryName = "docrel"
	binaryDir  = "bin"
	cmdDir     = "./cmd/docrel"
)

// Build compiles the docrel binary to bin/.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	return sh.RunV(binGo, "build", "-v", "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Clean removes build artifacts.
func Clean() error {
	for _, p := range []string{binaryDir, "coverage.out"} {
		if err := os.RemoveAll(p); err != nil {
			return err
		}
	}
	return sh.RunV(binGo, "clean")
}

// Install builds and copies the binary to GOPATH/bin.
func Install() error {
	mg.Deps(Build)
	gopath, err := sh.Output(binGo, "env", "GOPATH")
	if err != nil {
		return err
	}
	src := filepath.Join(binaryDir, binaryName)
	dst := filepath.Join(gopath, "bin", binaryName)
	return sh.Copy(dst, src)
}

// Emulator builds the binary and serves the emulator in the foreground.
// DOCREL_EMULATOR_ADDR overrides the listen address.
func Emulator() error {
	mg.Deps(Build)
	args := []string{"emulator"}
	if addr := os.Getenv("DOCREL_EMULATOR_ADDR"); addr != "" {
		args = append(args, "--addr", addr)
	}
	return sh.RunV(filepath.Join(binaryDir, binaryName), args...)
}
