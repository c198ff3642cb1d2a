// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
)

func main() {
	// KRM function: read a ResourceList from stdin, write the result to stdout.
	if err := Run(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "treemerge-krm:", err)
		os.Exit(1)
	}
}
