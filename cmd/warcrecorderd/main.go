// Command warcrecorderd runs the capture core as a standalone daemon: it
// wires configuration into a capture scope, a RecorderSink, the ordered
// index store, and the periodic index snapshotter, then exposes a small
// HTTP surface a higher-level rewriting proxy (out of scope for this core)
// can drive or stand in for during development.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
