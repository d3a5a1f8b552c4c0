// Command papertradectl runs backtests and operates paper-trading ledgers
// from the shell, against the same stores the server uses.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
