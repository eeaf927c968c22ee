// Command docrel queries a remote document store like a relational database
// and serves a local emulator of one.
package main

import "github.com/mesh-intelligence/docrel/internal/cli"

func main() {
	cli.Execute()
}
