// Command taskflow manages projects, tasks and work iterations stored as
// plain files, and serves them over HTTP and JSON-RPC.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
