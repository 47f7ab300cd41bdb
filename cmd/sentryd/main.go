// Command sentryd watches a camera for motion, records each motion event
// and delivers snapshots and clips to an alert webhook.
package main

import (
	"fmt"
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sentryd:", err)
		os.Exit(1)
	}
}
