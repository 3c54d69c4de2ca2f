// Command mofcom-crawler runs incremental MOFCOM search crawls.
package main

import (
	"fmt"
	"os"

	"github.com/JakeFAU/mofcom-crawler/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
