// Command newsfeedd serves the recommendation API and drains the profile
// update queue.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "newsfeedd:", err)
		os.Exit(1)
	}
}
