// Package main is the entry point for the zcu CLI.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "zcu:", err)
		os.Exit(1)
	}
}
