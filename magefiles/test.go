//go:build mage

package main

import "github.com/magefile/mage/sh"

// Test runs every package's tests verbosely.
func Test() error {
	return sh.RunV(binGo, "test", "-v", "./...")
}

// TestUnit runs the tests quietly, the way CI runs them on every push.
func TestUnit() error {
	return sh.RunV(binGo, "test", "./...")
}

// TestRace runs every test with the race detector. The realtime hub and the
// emulator fan-out are the packages this matters for.
func TestRace() error {
	return sh.RunV(binGo, "test", "-race", "-count=1", "./...")
}

// TestCover writes coverage.out and prints the per-function summary.
func TestCover() error {
	if err := sh.RunV(binGo, "test", "-coverprofile=coverage.out", "./..."); err != nil {
		return err
	}
	return sh.RunV(binGo, "tool", "cover", "-func=coverage.out")
}
