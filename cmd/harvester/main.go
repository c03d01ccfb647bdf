// Command harvester collects card names from the catalog into a resumable
// JSON state file.
package main

import "os"

func main() {
	os.Exit(execute())
}
