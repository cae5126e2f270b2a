// Command fakeshard serves the status contract of a storage shard without
// doing any storage work. Useful for trying fixture configurations.
package main

import (
	"os"

	"github.com/loykin/fixturectl/internal/fakeshard"
)

func main() {
	os.Exit(fakeshard.Main(os.Args[1:]))
}
