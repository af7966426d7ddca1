// Command davsync drives the synchronization engine from the command line.
package main

import "github.com/lucidfs/davsync/internal/cli"

func main() {
	_ = cli.Execute()
}
